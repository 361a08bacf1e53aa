package mailer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"mailpilot/models"
)

// SMTPProvider sends through the owner's SMTP server and reads inbound
// mail over IMAP. Deployment-level host/port act as the fallback when the
// owner has no per-account settings.
type SMTPProvider struct {
	user *models.User
	host string
	port int
}

func NewSMTPProvider(user *models.User, fallbackHost string, fallbackPort int) *SMTPProvider {
	host, port := user.SMTPHost, user.SMTPPort
	if host == "" {
		host, port = fallbackHost, fallbackPort
	}
	return &SMTPProvider{user: user, host: host, port: port}
}

func (s *SMTPProvider) Send(ctx context.Context, out *Outbound) (string, error) {
	if s.host == "" {
		return "", fmt.Errorf("user %d: no SMTP host configured: %w", s.user.ID, ErrAuth)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.user.Email)
	m.SetHeader("To", out.To)
	m.SetHeader("Subject", out.Subject)
	m.SetHeader("Auto-Submitted", "auto-replied")
	m.SetHeader("X-Auto-Response-Suppress", "All")
	if out.InReplyTo != "" {
		m.SetHeader("In-Reply-To", out.InReplyTo)
	}
	if out.References != "" {
		m.SetHeader("References", out.References)
	}
	messageID := fmt.Sprintf("<%d.%d@%s>", time.Now().UnixNano(), s.user.ID, s.host)
	m.SetHeader("Message-ID", messageID)
	if out.BodyHTML != "" {
		m.SetBody("text/html", out.BodyHTML)
		if out.BodyText != "" {
			m.AddAlternative("text/plain", out.BodyText)
		}
	} else {
		m.SetBody("text/plain", out.BodyText)
	}

	d := gomail.NewDialer(s.host, s.port, s.user.SMTPUsername, s.user.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return "", classifySMTPError(err)
	}
	return messageID, nil
}

func (s *SMTPProvider) FetchInbound(ctx context.Context, since time.Time, maxResults int64) ([]Envelope, error) {
	if s.user.IMAPHost == "" {
		return nil, fmt.Errorf("user %d: no IMAP host configured: %w", s.user.ID, ErrAuth)
	}
	return fetchIMAP(ctx, s.user, since, maxResults)
}

func classifySMTPError(err error) error {
	if _, ok := err.(net.Error); ok {
		return markTransient(err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "535") || strings.Contains(msg, "authentication"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case strings.Contains(msg, "421") || strings.Contains(msg, "450") ||
		strings.Contains(msg, "451") || strings.Contains(msg, "452"):
		return markTransient(err)
	}
	return err
}
