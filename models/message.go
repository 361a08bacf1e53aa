package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Headers holds the subset of raw message headers the engines care about
// (loop prevention, threading). Stored as jsonb.
type Headers map[string]string

// Get is a case-insensitive header lookup.
func (h Headers) Get(name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// InboundMessage is a normalized message synced from the mail provider.
type InboundMessage struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	ProviderID string `gorm:"not null;index" json:"provider_id"` // provider message id
	ThreadID   string `gorm:"index" json:"thread_id"`
	Sender     string `gorm:"not null" json:"sender"` // may be "Name <addr>"
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	Snippet    string `json:"snippet"`
	BodyText   string `gorm:"type:text" json:"body_text"`

	ReceivedAt time.Time `gorm:"not null;index" json:"received_at"`
	IsRead     bool      `gorm:"default:false" json:"is_read"`
	IsUrgent   bool      `gorm:"default:false" json:"is_urgent"`

	// Optional classification; nil means the message was never classified.
	CategoryID *uint `gorm:"index" json:"category_id,omitempty"`

	RawHeaders Headers `gorm:"type:jsonb;serializer:json" json:"raw_headers,omitempty"`

	// Set once the auto-reply pass has reached a terminal outcome for this
	// message so later passes can skip it cheaply.
	ProcessedForAutoReply bool `gorm:"default:false" json:"processed_for_auto_reply"`

	// Relations
	User     User           `json:"-"`
	Category *EmailCategory `json:"category,omitempty"`
}

// SenderAddress extracts the bare address from "Name <addr>" senders.
func (m *InboundMessage) SenderAddress() string {
	return ExtractAddress(m.Sender)
}

// SenderName extracts a display name, falling back to the address local part.
func (m *InboundMessage) SenderName() string {
	return ExtractName(m.Sender)
}

// SentMessage is a message the owner sent, tracked for follow-up creation and
// reply detection.
type SentMessage struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	ProviderID string    `gorm:"not null;index" json:"provider_id"`
	ThreadID   string    `gorm:"index" json:"thread_id"`
	Recipient  string    `gorm:"not null" json:"recipient"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `gorm:"not null;index" json:"sent_at"`

	// Relations
	User User `json:"-"`
}

// ExtractAddress pulls the bare email address out of an RFC 5322 style
// "Display Name <user@host>" string.
func ExtractAddress(s string) string {
	if i := strings.Index(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			return strings.TrimSpace(s[i+1 : i+j])
		}
	}
	return strings.TrimSpace(s)
}

// ExtractName pulls a display name, falling back to the address local part.
func ExtractName(s string) string {
	if i := strings.Index(s, "<"); i > 0 {
		if name := strings.TrimSpace(strings.Trim(s[:i], `" `)); name != "" {
			return name
		}
	}
	addr := ExtractAddress(s)
	if i := strings.Index(addr, "@"); i > 0 {
		return addr[:i]
	}
	return addr
}

// ExtractDomain returns the part after "@", lowercased, or "".
func ExtractDomain(s string) string {
	addr := ExtractAddress(s)
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return strings.ToLower(addr[i+1:])
	}
	return ""
}
