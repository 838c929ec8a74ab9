package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/apperr"
	dbutil "github.com/router-for-me/GPTHub/internal/db"
	"github.com/router-for-me/GPTHub/internal/http/api/response"
	"github.com/router-for-me/GPTHub/internal/models"
	"github.com/router-for-me/GPTHub/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// minPasswordLength is the shortest password accepted for new accounts.
const minPasswordLength = 6

// UserHandler manages user account endpoints.
type UserHandler struct {
	db *gorm.DB
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// createUserRequest defines the request body for user creation.
type createUserRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Create creates a new user account.
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" {
		response.Invalid(c, "missing username")
		return
	}
	if len(body.Password) < minPasswordLength {
		response.Invalid(c, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
		return
	}
	role, okRole := normalizeRole(body.Role)
	if !okRole {
		response.Invalid(c, "invalid role")
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		response.Error(c, errHash)
		return
	}
	user := models.User{
		Username: username,
		Name:     strings.TrimSpace(body.Name),
		Password: hash,
		Role:     role,
		Active:   true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			response.Invalid(c, "username already exists")
			return
		}
		response.Error(c, fmt.Errorf("admin: create user: %w", errCreate))
		return
	}
	log.WithFields(log.Fields{"user_id": user.ID, "admin": response.ActorFrom(c).ID}).Info("user created")
	response.OK(c, userView(&user))
}

// List returns users, optionally filtered by search.
func (h *UserHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if searchQ := strings.TrimSpace(c.Query("search")); searchQ != "" {
		cond, args := dbutil.SearchClause(h.db, searchQ, []string{"username", "name"}, "CAST(id AS TEXT) LIKE ?")
		q = q.Where(cond, args...)
	}
	if id, ok := parseUintQuery(c, "id"); ok {
		q = q.Where("id = ?", id)
	}
	if roleQ := strings.TrimSpace(c.Query("role")); roleQ != "" {
		q = q.Where("role = ?", roleQ)
	}

	var rows []models.User
	if errFind := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; errFind != nil {
		response.Error(c, fmt.Errorf("admin: list users: %w", errFind))
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, userView(&rows[i]))
	}
	response.List(c, out)
}

// Get returns a user by ID.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	user, errFind := h.find(c, id)
	if errFind != nil {
		response.Error(c, errFind)
		return
	}
	response.OK(c, userView(user))
}

// updateUserRequest defines the request body for user updates.
type updateUserRequest struct {
	Name   *string `json:"name"`
	Role   *string `json:"role"`
	Active *bool   `json:"active"`
}

// Update modifies a user account. Admins cannot demote or disable themselves.
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	self := response.ActorFrom(c).ID == id

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Name != nil {
		updates["name"] = strings.TrimSpace(*body.Name)
	}
	if body.Role != nil {
		role, okRole := normalizeRole(*body.Role)
		if !okRole {
			response.Invalid(c, "invalid role")
			return
		}
		if self && role != models.RoleAdmin {
			response.Invalid(c, "cannot remove your own admin role")
			return
		}
		updates["role"] = role
	}
	if body.Active != nil {
		if self && !*body.Active {
			response.Invalid(c, "cannot disable your own account")
			return
		}
		updates["active"] = *body.Active
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		response.Error(c, fmt.Errorf("admin: update user: %w", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		response.Error(c, apperr.New(apperr.KindNotFound, "user not found"))
		return
	}
	user, errFind := h.find(c, id)
	if errFind != nil {
		response.Error(c, errFind)
		return
	}
	response.OK(c, userView(user))
}

// Delete removes a user account with its thread mappings and idempotency records.
// Upstream threads are left to expire with the provider.
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	if response.ActorFrom(c).ID == id {
		response.Invalid(c, "cannot delete your own account")
		return
	}
	if _, errFind := h.find(c, id); errFind != nil {
		response.Error(c, errFind)
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errDelSends := tx.Where("user_id = ?", id).Delete(&models.MessageSend{}).Error; errDelSends != nil {
			return errDelSends
		}
		if errDelThreads := tx.Where("user_id = ?", id).Delete(&models.Thread{}).Error; errDelThreads != nil {
			return errDelThreads
		}
		return tx.Delete(&models.User{}, id).Error
	})
	if errTx != nil {
		response.Error(c, fmt.Errorf("admin: delete user: %w", errTx))
		return
	}
	response.OK(c, gin.H{})
}

// changePasswordRequest defines the request body for password changes.
type changePasswordRequest struct {
	Password string `json:"password"`
}

// ChangePassword updates a user's password.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	id, ok := response.ParseID(c, "id")
	if !ok {
		return
	}
	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		response.Invalid(c, "invalid json")
		return
	}
	if len(body.Password) < minPasswordLength {
		response.Invalid(c, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
		return
	}
	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		response.Error(c, errHash)
		return
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"password": hash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		response.Error(c, fmt.Errorf("admin: change password: %w", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		response.Error(c, apperr.New(apperr.KindNotFound, "user not found"))
		return
	}
	response.OK(c, gin.H{})
}

func (h *UserHandler) find(c *gin.Context, id uint64) (*models.User, error) {
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user not found")
		}
		return nil, fmt.Errorf("admin: find user: %w", errFind)
	}
	return &user, nil
}

func normalizeRole(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", models.RoleUser:
		return models.RoleUser, true
	case models.RoleAdmin:
		return models.RoleAdmin, true
	default:
		return "", false
	}
}

func userView(user *models.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"name":         user.Name,
		"role":         user.Role,
		"active":       user.Active,
		"totp_enabled": user.TOTPEnabled,
		"created_at":   user.CreatedAt,
		"updated_at":   user.UpdatedAt,
	}
}

// parseUintQuery reads an optional numeric query parameter.
func parseUintQuery(c *gin.Context, name string) (uint64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, false
	}
	v, errParse := strconv.ParseUint(raw, 10, 64)
	return v, errParse == nil
}
