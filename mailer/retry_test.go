package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	errs  []error
	calls int
}

func (f *fakeProvider) Send(ctx context.Context, out *Outbound) (string, error) {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return "", f.errs[f.calls-1]
	}
	return "msg-id", nil
}

func (f *fakeProvider) FetchInbound(ctx context.Context, since time.Time, maxResults int64) ([]Envelope, error) {
	return nil, nil
}

func TestSendWithRetrySucceedsFirstTry(t *testing.T) {
	p := &fakeProvider{}
	id, err := SendWithRetry(context.Background(), p, &Outbound{To: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "msg-id", id)
	assert.Equal(t, 1, p.calls)
}

func TestSendWithRetryRetriesTransient(t *testing.T) {
	p := &fakeProvider{errs: []error{
		markTransient(errors.New("rate limited")),
		markTransient(errors.New("rate limited")),
	}}
	id, err := SendWithRetry(context.Background(), p, &Outbound{To: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "msg-id", id)
	assert.Equal(t, 3, p.calls)
}

func TestSendWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	transient := markTransient(errors.New("still throttled"))
	p := &fakeProvider{errs: []error{transient, transient, transient, transient, transient}}

	_, err := SendWithRetry(context.Background(), p, &Outbound{To: "a@b.com"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, maxRetries+1, p.calls)
}

func TestSendWithRetryStopsOnPermanentError(t *testing.T) {
	p := &fakeProvider{errs: []error{errors.New("550 mailbox unavailable")}}
	_, err := SendWithRetry(context.Background(), p, &Outbound{To: "a@b.com"})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestSendWithRetryStopsOnAuthError(t *testing.T) {
	p := &fakeProvider{errs: []error{ErrAuth}}
	_, err := SendWithRetry(context.Background(), p, &Outbound{To: "a@b.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.Equal(t, 1, p.calls)
}

func TestSendWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakeProvider{errs: []error{markTransient(errors.New("throttled"))}}
	_, err := SendWithRetry(ctx, p, &Outbound{To: "a@b.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, p.calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(markTransient(errors.New("x"))))
	assert.False(t, IsTransient(errors.New("x")))
	assert.False(t, IsTransient(ErrAuth))

	// transient marking survives wrapping
	wrapped := markTransient(errors.New("inner"))
	assert.True(t, IsTransient(errors.Join(errors.New("outer"), wrapped)))
}
