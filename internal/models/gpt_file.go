package models

import "time"

// GPTFile keeps local metadata for a file attached to a GPT's assistant.
type GPTFile struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	GPTID        uint64 `gorm:"column:gpt_id;not null;index"`
	OpenAIFileID string `gorm:"column:openai_file_id;type:text;not null;uniqueIndex"`
	Filename     string `gorm:"type:text;not null"`
	MimeType     string `gorm:"type:text;not null"`
	Size         int64  `gorm:"not null;default:0"`
	UploadedBy   uint64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName keeps the table name stable.
func (GPTFile) TableName() string { return "gpt_files" }
