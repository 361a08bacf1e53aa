package models

import (
	"time"

	"gorm.io/gorm"
)

// FollowUp statuses. A lineage is pending -> sent -> (completed | pending
// next step), pending -> failed, or pending -> cancelled. The dispatch pass
// moves a row pending -> processing with a conditional update before sending;
// that update is the mutual exclusion between overlapping passes.
const (
	FollowUpPending    = "pending"
	FollowUpProcessing = "processing"
	FollowUpSent       = "sent"
	FollowUpFailed     = "failed"
	FollowUpCompleted  = "completed"
	FollowUpCancelled  = "cancelled"
)

// FollowUpRule creates follow-up sequences for the owner's sent messages that
// received no reply.
type FollowUpRule struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name     string `gorm:"not null" json:"name"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Hours after the tracked message with no reply before step one.
	DelayHours int `gorm:"not null;default:24" json:"delay_hours"`
	MaxCount   int `gorm:"not null;default:3" json:"max_count"`

	TemplateText string       `gorm:"type:text;not null" json:"template_text"`
	Conditions   ConditionSet `gorm:"type:jsonb;serializer:json" json:"conditions"`

	StopOnReply      bool      `gorm:"default:true" json:"stop_on_reply"`
	BusinessDaysOnly bool      `gorm:"default:true" json:"business_days_only"`
	SendWindowStart  ClockTime `gorm:"default:540" json:"send_window_start"`  // 09:00
	SendWindowEnd    ClockTime `gorm:"default:1080" json:"send_window_end"`   // 18:00

	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	// Relations
	Sequences []FollowUpSequence `gorm:"foreignKey:RuleID" json:"sequences,omitempty"`
	User      User               `json:"-"`
}

// SequenceStep returns the explicit step for a sequence number, or nil when
// the rule runs on its flat delay.
func (r *FollowUpRule) SequenceStep(number int) *FollowUpSequence {
	for i := range r.Sequences {
		if r.Sequences[i].SequenceNumber == number {
			return &r.Sequences[i]
		}
	}
	return nil
}

// FollowUpSequence is one explicit step of a rule's sequence with its own
// delay and body. Rules without sequences reuse DelayHours and TemplateText
// for every step.
type FollowUpSequence struct {
	gorm.Model
	RuleID uint `gorm:"not null;index" json:"rule_id"`

	SequenceNumber int    `gorm:"not null" json:"sequence_number"`
	DelayDays      int    `gorm:"not null" json:"delay_days"`
	Subject        string `json:"subject,omitempty"`
	Message        string `gorm:"type:text" json:"message,omitempty"`
}

// FollowUp is one scheduled step of a follow-up lineage. Advancing creates a
// new row with an incremented sequence number; Count never exceeds MaxCount.
type FollowUp struct {
	gorm.Model
	UserID uint  `gorm:"not null;index" json:"user_id"`
	RuleID uint  `gorm:"not null;index:idx_followup_step,unique" json:"rule_id"`
	// Original tracked message; nullable for standalone follow-ups.
	MessageID *uint `gorm:"index:idx_followup_step,unique" json:"message_id,omitempty"`

	ThreadID       string    `json:"thread_id,omitempty"`
	RecipientEmail string    `gorm:"not null" json:"recipient_email"`
	ScheduledAt    time.Time `gorm:"not null;index" json:"scheduled_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	Status         string    `gorm:"default:'pending';index" json:"status"`
	Content        string    `gorm:"type:text;not null" json:"content"`

	SequenceNumber int `gorm:"default:1;index:idx_followup_step,unique" json:"sequence_number"`
	Count          int `gorm:"default:1" json:"count"`
	MaxCount       int `gorm:"default:3" json:"max_count"`

	// Frozen from the rule at creation so later rule edits don't shift an
	// in-flight lineage.
	StopOnReply      bool      `gorm:"default:true" json:"stop_on_reply"`
	BusinessDaysOnly bool      `gorm:"default:true" json:"business_days_only"`
	SendWindowStart  ClockTime `gorm:"default:540" json:"send_window_start"`
	SendWindowEnd    ClockTime `gorm:"default:1080" json:"send_window_end"`

	// Relations
	Rule    FollowUpRule    `json:"-"`
	Message *SentMessage    `json:"-"`
}
