package models

import "time"

// MessageSend records an idempotency key used for a message send.
type MessageSend struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	UserID   uint64 `gorm:"not null;uniqueIndex:idx_message_sends_user_key"`
	Key      string `gorm:"type:text;not null;uniqueIndex:idx_message_sends_user_key"`
	ThreadID uint64 `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
