package models

import "time"

// GPT is an imported upstream assistant and its visibility rules.
type GPT struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name         string `gorm:"type:text;not null"`
	Description  string `gorm:"type:text"`
	Instructions string `gorm:"type:text"`
	OpenAIID     string `gorm:"column:openai_id;type:text;not null;uniqueIndex"` // Upstream assistant id.
	Model        string `gorm:"type:text"`
	ImageURL     string `gorm:"type:text"`

	CreatedBy    uint64  `gorm:"not null;index"`                    // Creator user id.
	IsPublic     bool    `gorm:"not null;default:false"`            // Visible to every user.
	AllowedUsers UserIDs `gorm:"type:jsonb;not null;default:'[]'"` // Allow-list for private GPTs.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
