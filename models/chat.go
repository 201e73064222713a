package models

import (
	"time"

	"gorm.io/gorm"
)

// ChatSession is one visitor's support conversation. SessionToken is the
// opaque token handed to the browser on first contact. CanonicalToken is
// filled in once the visitor authenticates and the remote store reconciles
// the anonymous session; after that SessionToken holds the canonical value.
type ChatSession struct {
	gorm.Model
	SessionToken   string `gorm:"size:64;uniqueIndex;not null"`
	CanonicalToken string `gorm:"size:64;index"`
	UserID         *uint  `gorm:"index"`
	Theme          string `gorm:"size:10;not null;default:light"` // "light" or "dark"
}

// ChatMessage is a single turn, keyed by session token rather than a FK so
// rows can be rewritten to the canonical token on associate.
type ChatMessage struct {
	gorm.Model
	SessionToken    string    `gorm:"size:64;index;not null"`
	Sender          string    `gorm:"size:20;not null"` // "user" or "bot"
	Text            string    `gorm:"type:text;not null"`
	ClientMessageID string    `gorm:"size:64;uniqueIndex"`
	Pending         bool      `gorm:"not null;default:false;index"` // not yet confirmed by the remote store
	Timestamp       time.Time `gorm:"autoCreateTime"`
}
