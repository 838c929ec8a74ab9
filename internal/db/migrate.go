package db

import (
	"fmt"

	"github.com/router-for-me/GPTHub/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// schemaModels lists every table managed by AutoMigrate.
func schemaModels() []any {
	return []any{
		&models.User{},
		&models.GPT{},
		&models.Thread{},
		&models.GPTFile{},
		&models.MessageSend{},
	}
}

// migratePostgres applies PostgreSQL schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(schemaModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: auto migrate: %w", errAutoMigrate)
	}

	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_gpts_allowed_users ON gpts USING GIN (allowed_users)`,
		`CREATE INDEX IF NOT EXISTS idx_gpts_is_public ON gpts (is_public)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_last_activity_at ON threads (last_activity_at DESC)`,
	}
	for _, stmt := range statements {
		if errExec := conn.Exec(stmt).Error; errExec != nil {
			return fmt.Errorf("db: postgres index: %w", errExec)
		}
	}
	return nil
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(schemaModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: auto migrate: %w", errAutoMigrate)
	}

	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_gpts_is_public ON gpts (is_public)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_last_activity_at ON threads (last_activity_at DESC)`,
	}
	for _, stmt := range statements {
		if errExec := conn.Exec(stmt).Error; errExec != nil {
			return fmt.Errorf("db: sqlite index: %w", errExec)
		}
	}
	return nil
}
