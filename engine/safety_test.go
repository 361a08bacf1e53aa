package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailpilot/models"
)

func TestSafeToReplyNoReplyAddresses(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		safe   bool
	}{
		{"plain human sender", "alice@example.com", true},
		{"noreply", "noreply@github.com", false},
		{"no-reply", "no-reply@linkedin.com", false},
		{"do-not-reply", "do-not-reply@bank.com", false},
		{"donotreply", "DoNotReply@service.io", false},
		{"notifications", "notifications@slack.com", false},
		{"automated", "automated@ci.example.com", false},
		{"display name form", "GitHub <noreply@github.com>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &models.InboundMessage{Sender: tt.sender}
			safe, reason := SafeToReply(msg, true)
			assert.Equal(t, tt.safe, safe)
			if !tt.safe {
				assert.Contains(t, reason, "no-reply address detected")
			}
		})
	}
}

func TestSafeToReplyMailingLists(t *testing.T) {
	msg := &models.InboundMessage{
		Sender:     "announce@lists.example.org",
		RawHeaders: models.Headers{"List-Id": "<dev.lists.example.org>"},
	}

	safe, reason := SafeToReply(msg, true)
	assert.False(t, safe)
	assert.Contains(t, reason, "mailing list detected")

	// The mailing-list check is rule policy; disabling it lets the message
	// through when nothing else trips
	safe, _ = SafeToReply(msg, false)
	assert.True(t, safe)
}

func TestSafeToReplyAutoGeneratedHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers models.Headers
		safe    bool
	}{
		{"auto-submitted generated", models.Headers{"Auto-Submitted": "auto-generated"}, false},
		{"auto-submitted replied", models.Headers{"Auto-Submitted": "auto-replied"}, false},
		{"suppress all", models.Headers{"X-Auto-Response-Suppress": "All"}, false},
		{"precedence bulk", models.Headers{"Precedence": "bulk"}, false},
		{"precedence list", models.Headers{"Precedence": "list"}, false},
		{"lowercase header name", models.Headers{"auto-submitted": "auto-generated"}, false},
		{"ordinary headers", models.Headers{"Message-ID": "<x@y>"}, true},
		{"no headers at all", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &models.InboundMessage{Sender: "alice@example.com", RawHeaders: tt.headers}
			safe, reason := SafeToReply(msg, true)
			assert.Equal(t, tt.safe, safe)
			if !tt.safe {
				assert.Contains(t, reason, "auto-generated email detected")
			}
		})
	}
}
