package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"mailpilot/models"
)

// Header names worth persisting on inbound messages. The safety checks in
// the reply engine key off these.
var capturedHeaders = []string{
	"Auto-Submitted", "Precedence", "X-Auto-Response-Suppress", "X-Autoreply",
	"List-Id", "List-Unsubscribe", "List-Post", "Mailing-List", "X-Mailing-List",
	"In-Reply-To", "References", "Message-ID",
}

// fetchIMAP pulls inbound mail for an SMTP/IMAP owner. The fetch uses
// BODY.PEEK so syncing never marks messages read on the server.
func fetchIMAP(ctx context.Context, user *models.User, since time.Time, maxResults int64) ([]Envelope, error) {
	addr := fmt.Sprintf("%s:%d", user.IMAPHost, user.IMAPPort)
	c, err := client.DialTLS(addr, &tls.Config{ServerName: user.IMAPHost})
	if err != nil {
		return nil, markTransient(fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err))
	}
	defer c.Logout()

	if err := c.Login(user.SMTPUsername, user.SMTPPassword); err != nil {
		return nil, fmt.Errorf("%w: IMAP login failed for user %d: %v", ErrAuth, user.ID, err)
	}

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		criteria.Since = since
	}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if maxResults > 0 && int64(len(ids)) > maxResults {
		ids = ids[int64(len(ids))-maxResults:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}, messages)
	}()

	var envelopes []Envelope
	for msg := range messages {
		select {
		case <-ctx.Done():
			return envelopes, ctx.Err()
		default:
		}
		env, err := imapEnvelope(msg, section)
		if err != nil {
			continue
		}
		envelopes = append(envelopes, env)
	}
	if err := <-done; err != nil {
		return envelopes, fmt.Errorf("error during IMAP fetch: %w", err)
	}
	return envelopes, nil
}

func imapEnvelope(msg *imap.Message, section *imap.BodySectionName) (Envelope, error) {
	if msg.Envelope == nil {
		return Envelope{}, fmt.Errorf("message %d has no envelope", msg.SeqNum)
	}

	env := Envelope{
		ProviderID: msg.Envelope.MessageId,
		ThreadID:   threadID(msg.Envelope),
		Sender:     formatAddresses(msg.Envelope.From),
		Recipient:  formatAddresses(msg.Envelope.To),
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.Envelope.Date,
		Unread:     true,
		Headers:    map[string]string{},
	}
	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			env.Unread = false
		}
	}

	literal, ok := msg.Body[section]
	if !ok {
		return env, nil
	}
	mr, err := mail.CreateReader(literal)
	if err != nil {
		return env, nil
	}
	for _, name := range capturedHeaders {
		if v := mr.Header.Get(name); v != "" {
			env.Headers[name] = v
		}
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			if strings.Contains(contentType, "text/plain") && env.BodyText == "" {
				b, err := io.ReadAll(p.Body)
				if err == nil {
					env.BodyText = string(b)
				}
			}
		}
	}
	if env.Snippet == "" {
		env.Snippet = snippet(env.BodyText)
	}
	return env, nil
}

// threadID approximates a thread id for IMAP accounts: replies thread on
// their In-Reply-To target, everything else roots its own thread.
func threadID(e *imap.Envelope) string {
	if e.InReplyTo != "" {
		return e.InReplyTo
	}
	return e.MessageId
}

func formatAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		addr := fmt.Sprintf("%s@%s", a.MailboxName, a.HostName)
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, addr))
		} else {
			parts = append(parts, addr)
		}
	}
	return strings.Join(parts, ", ")
}

func snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}
