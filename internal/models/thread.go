package models

import "time"

// Thread maps one (user, GPT) pair to its upstream conversation.
type Thread struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID         uint64 `gorm:"not null;uniqueIndex:idx_threads_user_gpt"`
	GPTID          uint64 `gorm:"column:gpt_id;not null;uniqueIndex:idx_threads_user_gpt;index"`
	OpenAIThreadID string `gorm:"column:openai_thread_id;type:text;not null;uniqueIndex"`

	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	LastActivityAt time.Time `gorm:"not null"`
}
