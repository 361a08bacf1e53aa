package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailpilot/config"
	"mailpilot/models"
)

// Gmail API quota units, per https://developers.google.com/gmail/api/v1/reference/quota
const (
	quotaUnitsPerMessagesList = 1
	quotaUnitsPerMessagesGet  = 5
	quotaUnitsPerSend         = 100

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

// GmailProvider talks to the Gmail API on behalf of one owner.
type GmailProvider struct {
	svc     *gmail.Service
	email   string
	limiter *rate.Limiter
}

func NewGmailProvider(user *models.User) (*GmailProvider, error) {
	if user.GmailToken == "" {
		return nil, fmt.Errorf("user %d: %w", user.ID, ErrAuth)
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(user.GmailToken), &token); err != nil {
		return nil, fmt.Errorf("user %d has malformed gmail token: %w", user.ID, err)
	}

	oc := &oauth2.Config{
		ClientID:     config.AppConfig.Google.ClientID,
		ClientSecret: config.AppConfig.Google.ClientSecret,
		RedirectURL:  config.AppConfig.Google.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
	}

	ctx := context.Background()
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oc.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("failed to build gmail service: %w", err)
	}

	return &GmailProvider{
		svc:     svc,
		email:   user.Email,
		limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
	}, nil
}

func (g *GmailProvider) Send(ctx context.Context, out *Outbound) (string, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerSend); err != nil {
		return "", err
	}

	raw := base64.URLEncoding.EncodeToString([]byte(buildRFC822(g.email, out)))
	msg := &gmail.Message{Raw: raw}
	if out.ThreadID != "" {
		msg.ThreadId = out.ThreadID
	}

	sent, err := g.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogleError(err)
	}
	return sent.Id, nil
}

func (g *GmailProvider) FetchInbound(ctx context.Context, since time.Time, maxResults int64) ([]Envelope, error) {
	if err := g.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return nil, err
	}

	query := "in:inbox"
	if !since.IsZero() {
		query = fmt.Sprintf("in:inbox after:%d", since.Unix())
	}

	list, err := g.svc.Users.Messages.List("me").Q(query).MaxResults(maxResults).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleError(err)
	}

	envelopes := make([]Envelope, 0, len(list.Messages))
	for _, ref := range list.Messages {
		if err := g.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
			return envelopes, err
		}
		full, err := g.svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Date",
				"Auto-Submitted", "Precedence", "X-Auto-Response-Suppress",
				"List-Id", "List-Unsubscribe", "List-Post", "Mailing-List", "X-Mailing-List",
				"In-Reply-To", "References", "Message-ID").
			Context(ctx).Do()
		if err != nil {
			// One unreadable message must not sink the sync pass.
			if IsTransient(classifyGoogleError(err)) {
				continue
			}
			return envelopes, classifyGoogleError(err)
		}
		envelopes = append(envelopes, gmailEnvelope(full))
	}
	return envelopes, nil
}

func gmailEnvelope(m *gmail.Message) Envelope {
	headers := map[string]string{}
	var from, to, subject string
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			headers[h.Name] = h.Value
			switch strings.ToLower(h.Name) {
			case "from":
				from = h.Value
			case "to":
				to = h.Value
			case "subject":
				subject = h.Value
			}
		}
	}

	unread := false
	for _, label := range m.LabelIds {
		if label == "UNREAD" {
			unread = true
			break
		}
	}

	return Envelope{
		ProviderID: m.Id,
		ThreadID:   m.ThreadId,
		Sender:     from,
		Recipient:  to,
		Subject:    subject,
		Snippet:    m.Snippet,
		ReceivedAt: time.UnixMilli(m.InternalDate),
		Unread:     unread,
		Headers:    headers,
	}
}

// buildRFC822 assembles the raw message. Every automated send carries
// Auto-Submitted: auto-replied plus threading headers so downstream
// responders and our own loop detection recognize it.
func buildRFC822(from string, out *Outbound) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", out.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", out.Subject)
	b.WriteString("Auto-Submitted: auto-replied\r\n")
	b.WriteString("X-Auto-Response-Suppress: All\r\n")
	if out.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", out.InReplyTo)
	}
	if out.References != "" {
		fmt.Fprintf(&b, "References: %s\r\n", out.References)
	}
	if out.BodyHTML != "" {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(out.BodyHTML)
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(out.BodyText)
	}
	return b.String()
}

func classifyGoogleError(err error) error {
	if gerr, ok := err.(*googleapi.Error); ok {
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case gerr.Code == 429 || gerr.Code >= 500:
			return markTransient(err)
		}
	}
	return err
}
