package models

import "time"

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents an account that can sign in and chat with GPTs.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Name     string `gorm:"type:text"`                      // Display name.
	Password string `gorm:"type:text;not null"`             // Hashed password.
	Role     string `gorm:"type:text;not null;default:'user'"`

	Active bool `gorm:"not null;default:true"` // Whether the user can sign in.

	TOTPSecret  string `gorm:"type:text"`              // TOTP secret for MFA.
	TOTPEnabled bool   `gorm:"not null;default:false"` // Whether TOTP is required at login.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }
