package engine

import (
	"strconv"
	"strings"
	"time"

	"mailpilot/models"
)

// RenderReply substitutes auto-reply placeholders. Unknown placeholders are
// left verbatim.
func RenderReply(body string, msg *models.InboundMessage, user *models.User, category *models.EmailCategory, now time.Time) string {
	userName := ""
	if user != nil && user.Name != nil {
		userName = *user.Name
	}
	categoryName := ""
	if category != nil {
		categoryName = category.Name
	}
	urgency := "normal"
	if msg.IsUrgent {
		urgency = "urgent"
	}

	r := strings.NewReplacer(
		"{{name}}", msg.SenderName(),
		"{{sender_email}}", msg.SenderAddress(),
		"{{original_subject}}", msg.Subject,
		"{{user_name}}", userName,
		"{{date}}", now.Format("January 2, 2006"),
		"{{category}}", categoryName,
		"{{urgency}}", urgency,
	)
	return r.Replace(body)
}

// ReplySubject picks the outgoing subject: the template override when set,
// otherwise "Re: " prefixed onto the original unless it already carries one.
func ReplySubject(templateSubject, originalSubject string) string {
	if templateSubject != "" {
		return templateSubject
	}
	if hasReplyPrefix(originalSubject) {
		return originalSubject
	}
	return "Re: " + originalSubject
}

func hasReplyPrefix(subject string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:")
}

// StripReplyPrefix removes leading "Re:" markers for subject comparison.
func StripReplyPrefix(subject string) string {
	s := strings.TrimSpace(subject)
	for hasReplyPrefix(s) {
		s = strings.TrimSpace(s[3:])
	}
	return s
}

// RenderFollowUp substitutes follow-up placeholders against the tracked sent
// message. daysSince is computed by the caller in the owner's zone.
func RenderFollowUp(body string, sent *models.SentMessage, followUpNumber, daysSince int) string {
	subject := sent.Subject
	if subject == "" {
		subject = "our conversation"
	}
	r := strings.NewReplacer(
		"{{recipient_name}}", models.ExtractName(sent.Recipient),
		"{{previous_subject}}", subject,
		"{{days_since_last_email}}", strconv.Itoa(daysSince),
		"{{follow_up_number}}", strconv.Itoa(followUpNumber),
	)
	return r.Replace(body)
}
