package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailpilot/models"
)

func TestRenderReply(t *testing.T) {
	name := "Dana"
	user := &models.User{Name: &name}
	msg := &models.InboundMessage{
		Sender:   "Alice Smith <alice@example.com>",
		Subject:  "Quarterly numbers",
		IsUrgent: true,
	}
	category := &models.EmailCategory{Name: "Finance"}
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	body := "Hi {{name}} ({{sender_email}}), re {{original_subject}}. " +
		"Filed under {{category}}, priority {{urgency}}. " +
		"-- {{user_name}}, {{date}}"
	got := RenderReply(body, msg, user, category, now)

	assert.Equal(t,
		"Hi Alice Smith (alice@example.com), re Quarterly numbers. "+
			"Filed under Finance, priority urgent. "+
			"-- Dana, August 21, 2026",
		got)
}

func TestRenderReplyDefaults(t *testing.T) {
	msg := &models.InboundMessage{Sender: "bob@example.com", Subject: "Hello"}
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	got := RenderReply("{{name}}/{{category}}/{{urgency}}/{{user_name}}", msg, nil, nil, now)
	assert.Equal(t, "bob//normal/", got)
}

func TestRenderReplyUnknownPlaceholderKept(t *testing.T) {
	msg := &models.InboundMessage{Sender: "a@b.com"}
	got := RenderReply("x {{not_a_thing}} y", msg, nil, nil, time.Now())
	assert.Equal(t, "x {{not_a_thing}} y", got)
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		name     string
		template string
		original string
		want     string
	}{
		{"template override wins", "Out of office", "Anything", "Out of office"},
		{"prefix added", "", "Project update", "Re: Project update"},
		{"existing prefix kept", "", "Re: Project update", "Re: Project update"},
		{"lowercase prefix kept", "", "re: project update", "re: project update"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplySubject(tt.template, tt.original))
		})
	}
}

func TestStripReplyPrefix(t *testing.T) {
	assert.Equal(t, "Hello", StripReplyPrefix("Re: Hello"))
	assert.Equal(t, "Hello", StripReplyPrefix("Re: RE: re: Hello"))
	assert.Equal(t, "Hello", StripReplyPrefix("Hello"))
}

func TestRenderFollowUp(t *testing.T) {
	sent := &models.SentMessage{
		Recipient: "Bob Jones <bob@client.io>",
		Subject:   "Partnership proposal",
	}

	got := RenderFollowUp(
		"Hi {{recipient_name}}, following up on {{previous_subject}} "+
			"after {{days_since_last_email}} days (attempt {{follow_up_number}}).",
		sent, 2, 5)

	assert.Equal(t,
		"Hi Bob Jones, following up on Partnership proposal after 5 days (attempt 2).",
		got)
}

func TestRenderFollowUpSubjectFallback(t *testing.T) {
	sent := &models.SentMessage{Recipient: "bob@client.io"}
	got := RenderFollowUp("{{previous_subject}}", sent, 1, 0)
	assert.Equal(t, "our conversation", got)
}
