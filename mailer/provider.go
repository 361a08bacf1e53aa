package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailpilot/config"
	"mailpilot/models"
)

// Outbound is one automated send. Providers attach threading headers and the
// anti-loop Auto-Submitted header on every message.
type Outbound struct {
	To         string
	Subject    string
	BodyText   string
	BodyHTML   string
	ThreadID   string
	InReplyTo  string
	References string
}

// Envelope is a fetched inbound message before persistence.
type Envelope struct {
	ProviderID string
	ThreadID   string
	Sender     string
	Recipient  string
	Subject    string
	Snippet    string
	BodyText   string
	ReceivedAt time.Time
	Unread     bool
	Headers    map[string]string
}

// Provider is the mail-provider contract the engines and the sync worker
// consume. Send returns the provider's id for the sent message.
type Provider interface {
	Send(ctx context.Context, out *Outbound) (string, error)
	FetchInbound(ctx context.Context, since time.Time, maxResults int64) ([]Envelope, error)
}

// ErrAuth marks revoked or expired credentials. Engines abort the owner's
// remaining work for the pass when they see it; other owners are unaffected.
var ErrAuth = errors.New("mail provider authentication failed")

// transientError wraps rate-limit and timeout failures that the retry loop
// may try again.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func markTransient(err error) error { return &transientError{err: err} }

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// ForUser builds the provider configured for an owner's account.
func ForUser(user *models.User) (Provider, error) {
	switch user.Provider {
	case "gmail", "":
		return NewGmailProvider(user)
	case "smtp":
		return NewSMTPProvider(user, config.AppConfig.SMTPHost, config.AppConfig.SMTPPort), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q for user %d", user.Provider, user.ID)
	}
}
