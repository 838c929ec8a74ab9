package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/router-for-me/GPTHub/internal/models"
	"github.com/router-for-me/GPTHub/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// generatedPasswordBytes sizes the random password used when none is configured.
const generatedPasswordBytes = 12

// EnsureBootstrapAdmin makes sure the configured admin account exists.
// An existing account is promoted and re-activated but keeps its password.
func EnsureBootstrapAdmin(ctx context.Context, conn *gorm.DB, admin config.BootstrapAdmin) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}
	if admin.Username == "" {
		initialized, errCheck := HasAdminInitialized(conn)
		if errCheck != nil {
			return fmt.Errorf("check admin: %w", errCheck)
		}
		if !initialized {
			log.Warn("no admin account exists; set admin.username in config or ADMIN_USERNAME")
		}
		return nil
	}

	var existing models.User
	errFind := conn.WithContext(ctx).Where("username = ?", admin.Username).First(&existing).Error
	if errFind == nil {
		if existing.Role == models.RoleAdmin && existing.Active {
			return nil
		}
		if errUpdate := conn.WithContext(ctx).Model(&existing).
			Updates(map[string]any{"role": models.RoleAdmin, "active": true}).Error; errUpdate != nil {
			return fmt.Errorf("promote admin: %w", errUpdate)
		}
		log.Infof("bootstrap admin %s promoted", admin.Username)
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("find admin: %w", errFind)
	}

	password := admin.Password
	if password == "" {
		generated, errGenerate := security.GenerateRandomString(generatedPasswordBytes)
		if errGenerate != nil {
			return fmt.Errorf("generate admin password: %w", errGenerate)
		}
		password = generated
		log.Warnf("bootstrap admin %s created with generated password %s; change it after signing in", admin.Username, password)
	}
	hashedPassword, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}

	user := models.User{
		Username: admin.Username,
		Name:     admin.Username,
		Password: hashedPassword,
		Role:     models.RoleAdmin,
		Active:   true,
	}
	if errCreate := conn.WithContext(ctx).Create(&user).Error; errCreate != nil {
		return fmt.Errorf("create admin: %w", errCreate)
	}
	log.Infof("bootstrap admin %s created", admin.Username)
	return nil
}
