package models

import (
	"time"

	"gorm.io/gorm"
)

// PendingMessage is an outbox row: a message payload whose remote write
// failed every retry. The unique index on ClientMessageID keeps a payload
// queued at most once no matter how many retry triggers overlap.
type PendingMessage struct {
	gorm.Model
	SessionToken    string    `gorm:"size:64;index;not null"`
	Role            string    `gorm:"size:20;not null"`
	Message         string    `gorm:"type:text;not null"`
	ClientMessageID string    `gorm:"size:64;uniqueIndex;not null"`
	SentAt          time.Time // original send time, forwarded as created_at
	Attempts        int       `gorm:"not null;default:0"`
	LastError       string    `gorm:"size:500"`
}
