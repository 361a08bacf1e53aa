package models

import (
	"time"

	"gorm.io/gorm"
)

// ClockTime is a minutes-since-midnight wall-clock time used for send windows
// and business hours. Stored as an integer so window bounds survive round
// trips through Postgres without timezone ambiguity.
type ClockTime int

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

// ConditionLogic selects how present predicates combine.
const (
	ConditionLogicAnd = "AND"
	ConditionLogicOr  = "OR"
)

// ConditionSet is the declarative predicate bundle evaluated against an
// inbound message. It is schema-validated at rule save; a set with neither
// ApplyToAll nor any non-empty predicate is invalid and never matches.
type ConditionSet struct {
	ApplyToAll bool     `json:"apply_to_all,omitempty"`
	Logic      string   `json:"condition_logic,omitempty"` // AND (default) or OR
	Senders    []string `json:"senders,omitempty"`
	Domains    []string `json:"domains,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Urgent     bool     `json:"urgent,omitempty"`
	Unread     bool     `json:"unread,omitempty"`
	Categories []uint   `json:"categories,omitempty"`
}

// IsEmpty reports whether no predicate besides the logic selector is set.
func (c ConditionSet) IsEmpty() bool {
	return !c.ApplyToAll &&
		len(c.Senders) == 0 &&
		len(c.Domains) == 0 &&
		len(c.Keywords) == 0 &&
		!c.Urgent && !c.Unread &&
		len(c.Categories) == 0
}

// AutoReplyRule decides whether an inbound message gets an automated reply.
// Lower Priority is evaluated first.
type AutoReplyRule struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	TemplateID uint `gorm:"not null;index" json:"template_id"`

	Name     string `gorm:"not null" json:"name"`
	Priority int    `gorm:"default:5" json:"priority"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	Conditions ConditionSet `gorm:"type:jsonb;serializer:json" json:"conditions"`

	// Safety / dedup policy
	ReplyOncePerThread       bool `gorm:"default:true" json:"reply_once_per_thread"`
	PreventReplyToAutomated  bool `gorm:"default:true" json:"prevent_reply_to_automated"`
	IgnoreMailingLists       bool `gorm:"default:true" json:"ignore_mailing_lists"`
	StopOnRecipientReply     bool `gorm:"default:true" json:"stop_on_recipient_reply"`
	ApplyToExistingMessages  bool `gorm:"default:false" json:"apply_to_existing_messages"`

	// Scheduling
	DelayMinutes      int        `gorm:"default:0" json:"delay_minutes"`
	ScheduleStart     *time.Time `json:"schedule_start,omitempty"` // nil = unbounded
	ScheduleEnd       *time.Time `json:"schedule_end,omitempty"`
	BusinessHoursOnly bool       `gorm:"default:false" json:"business_hours_only"`
	BusinessDaysOnly  bool       `gorm:"default:false" json:"business_days_only"`
	BusinessStart     ClockTime  `gorm:"default:540" json:"business_start"`  // 09:00
	BusinessEnd       ClockTime  `gorm:"default:1080" json:"business_end"`   // 18:00

	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	// Relations
	Template Template `json:"-"`
	User     User     `json:"-"`
}

// InSchedule reports whether the rule's schedule window contains now.
// Nil bounds are unbounded on that side.
func (r *AutoReplyRule) InSchedule(now time.Time) bool {
	if r.ScheduleStart != nil && now.Before(*r.ScheduleStart) {
		return false
	}
	if r.ScheduleEnd != nil && now.After(*r.ScheduleEnd) {
		return false
	}
	return true
}

// Template is a reusable reply body with placeholders. Version increments on
// every body/subject edit and is recorded in each log row, so "already sent
// current version" checks compare counters instead of timestamps.
type Template struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name    string `gorm:"not null" json:"name"`
	Subject string `json:"subject"` // optional override; empty falls back to "Re: <original>"
	Body    string `gorm:"type:text;not null" json:"body"`
	Version int    `gorm:"default:1" json:"version"`

	// Relations
	User User `json:"-"`
}

// ScheduledReply is a delayed auto-reply awaiting its due time. It exists so a
// rule delay survives process restarts; the dispatch job revalidates the rule,
// the safety checks and the dedup guards immediately before sending.
type ScheduledReply struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	RuleID     uint `gorm:"not null;index:idx_scheduled_rule_message,unique" json:"rule_id"`
	MessageID  uint `gorm:"not null;index:idx_scheduled_rule_message,unique" json:"message_id"`
	TemplateID uint `gorm:"not null" json:"template_id"`

	ScheduledAt time.Time  `gorm:"not null;index" json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	Status      string     `gorm:"default:'Scheduled'" json:"status"` // Scheduled, Sent, Failed, Skipped, Cancelled
	SkipReason  string     `json:"skip_reason,omitempty"`
	ErrorText   string     `gorm:"type:text" json:"error_text,omitempty"`

	// Relations
	Rule    AutoReplyRule  `json:"-"`
	Message InboundMessage `json:"-"`
}

const (
	StatusScheduled = "Scheduled"
	StatusSent      = "Sent"
	StatusFailed    = "Failed"
	StatusSkipped   = "Skipped"
	StatusCancelled = "Cancelled"
)
