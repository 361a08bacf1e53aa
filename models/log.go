package models

import (
	"time"

	"gorm.io/gorm"
)

// AutoReplyLog is the append-only record of one auto-reply attempt. The
// unique (rule_id, message_id) index is the at-most-once primitive: the row
// is inserted before the provider call, so a concurrent second attempt fails
// the insert instead of sending twice.
type AutoReplyLog struct {
	gorm.Model
	UserID     uint  `gorm:"not null;index" json:"user_id"`
	RuleID     *uint `gorm:"index:idx_autoreply_rule_message,unique" json:"rule_id,omitempty"`
	MessageID  *uint `gorm:"index:idx_autoreply_rule_message,unique" json:"message_id,omitempty"`
	TemplateID *uint `json:"template_id,omitempty"`

	// Version of the template at send time.
	TemplateVersion int `gorm:"default:0" json:"template_version"`

	ProviderID      string `gorm:"index" json:"provider_id"` // provider id of the inbound message
	ThreadID        string `json:"thread_id,omitempty"`
	RecipientEmail  string `gorm:"not null;index" json:"recipient_email"`
	IncomingSubject string `json:"incoming_subject"`

	Status       string     `gorm:"not null;index" json:"status"` // Processing, Sent, Failed, Skipped
	SkipReason   string     `json:"skip_reason,omitempty"`
	ErrorText    string     `gorm:"type:text" json:"error_text,omitempty"`
	ReplyContent string     `gorm:"type:text" json:"reply_content,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

const StatusProcessing = "Processing"

// FollowUpLog records every follow-up send attempt, one row per attempt.
type FollowUpLog struct {
	gorm.Model
	UserID     uint  `gorm:"not null;index" json:"user_id"`
	RuleID     *uint `gorm:"index" json:"rule_id,omitempty"`
	FollowUpID *uint `gorm:"index" json:"follow_up_id,omitempty"`
	MessageID  *uint `json:"message_id,omitempty"` // original tracked message

	FollowUpNumber int        `gorm:"not null" json:"follow_up_number"`
	RecipientEmail string     `gorm:"not null" json:"recipient_email"`
	Status         string     `gorm:"not null;index" json:"status"` // Sent, Failed, Skipped
	Reason         string     `json:"reason,omitempty"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

// JobRun records one dispatcher tick for operational visibility.
type JobRun struct {
	gorm.Model
	JobName    string    `gorm:"not null;index" json:"job_name"`
	StartedAt  time.Time `gorm:"not null" json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Succeeded  bool      `json:"succeeded"`
	ErrorText  string    `gorm:"type:text" json:"error_text,omitempty"`
}
