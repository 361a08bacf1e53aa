package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the owner of rules, templates and messages. Authentication and
// session handling live behind the JWT middleware; this model only carries
// what the automation engines need.
type User struct {
	gorm.Model

	Email string  `gorm:"uniqueIndex;not null" json:"email"`
	Name  *string `json:"name,omitempty"`

	// IANA zone for business-hours/send-window math. Empty falls back to the
	// deployment zone from config.
	Timezone string `gorm:"default:'UTC'" json:"timezone"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Delivery settings
	Provider     string `gorm:"default:'gmail'" json:"provider"` // gmail, smtp
	GmailToken   string `gorm:"type:text" json:"-"`              // serialized oauth2 token
	SMTPHost     string `json:"smtp_host,omitempty"`
	SMTPPort     int    `json:"smtp_port,omitempty"`
	SMTPUsername string `json:"smtp_username,omitempty"`
	SMTPPassword string `json:"-"`
	IMAPHost     string `json:"imap_host,omitempty"`
	IMAPPort     int    `json:"imap_port,omitempty"`

	LastInboxSyncAt *time.Time `json:"last_inbox_sync_at,omitempty"`
	TokenVersion    int        `gorm:"default:0" json:"-"`

	// Relations
	Rules         []AutoReplyRule `gorm:"foreignKey:UserID" json:"rules,omitempty"`
	FollowUpRules []FollowUpRule  `gorm:"foreignKey:UserID" json:"follow_up_rules,omitempty"`
}

// RefreshToken backs the auth middleware's token-version check.
type RefreshToken struct {
	gorm.Model
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Token     string    `gorm:"not null;uniqueIndex" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Revoked   bool      `gorm:"default:false" json:"revoked"`
}
