package mailer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"mailpilot/models"
)

func TestClassifySMTPError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		auth      bool
	}{
		{"auth code", errors.New("535 5.7.8 authentication credentials invalid"), false, true},
		{"service unavailable", errors.New("421 service not available"), true, false},
		{"mailbox busy", errors.New("450 mailbox busy"), true, false},
		{"insufficient storage", errors.New("452 insufficient system storage"), true, false},
		{"permanent rejection", errors.New("550 mailbox unavailable"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySMTPError(tt.err)
			assert.Equal(t, tt.transient, IsTransient(got))
			assert.Equal(t, tt.auth, errors.Is(got, ErrAuth))
		})
	}
}

func TestClassifyGoogleError(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		transient bool
		auth      bool
	}{
		{"unauthorized", 401, false, true},
		{"forbidden", 403, false, true},
		{"rate limited", 429, true, false},
		{"server error", 500, true, false},
		{"bad gateway", 502, true, false},
		{"bad request", 400, false, false},
		{"not found", 404, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyGoogleError(&googleapi.Error{Code: tt.code})
			assert.Equal(t, tt.transient, IsTransient(got))
			assert.Equal(t, tt.auth, errors.Is(got, ErrAuth))
		})
	}
}

func TestBuildRFC822(t *testing.T) {
	out := &Outbound{
		To:         "alice@example.com",
		Subject:    "Re: Hello",
		BodyText:   "Thanks, I'll get back to you.",
		InReplyTo:  "<orig@example.com>",
		References: "<root@example.com> <orig@example.com>",
	}
	raw := buildRFC822("me@mydomain.com", out)

	assert.True(t, strings.HasPrefix(raw, "From: me@mydomain.com\r\n"))
	assert.Contains(t, raw, "To: alice@example.com\r\n")
	assert.Contains(t, raw, "Subject: Re: Hello\r\n")
	assert.Contains(t, raw, "Auto-Submitted: auto-replied\r\n")
	assert.Contains(t, raw, "X-Auto-Response-Suppress: All\r\n")
	assert.Contains(t, raw, "In-Reply-To: <orig@example.com>\r\n")
	assert.Contains(t, raw, "References: <root@example.com> <orig@example.com>\r\n")
	assert.Contains(t, raw, "Content-Type: text/plain")
	assert.True(t, strings.HasSuffix(raw, "Thanks, I'll get back to you."))
}

func TestBuildRFC822HTMLBody(t *testing.T) {
	raw := buildRFC822("me@mydomain.com", &Outbound{
		To:       "a@b.com",
		Subject:  "s",
		BodyHTML: "<p>hi</p>",
	})
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(raw, "<p>hi</p>"))
}

func TestForUserUnknownProvider(t *testing.T) {
	_, err := ForUser(&models.User{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}
