package mailer

import (
	"context"
	"math/rand"
	"time"
)

// Backoff constants for transient provider failures.
const (
	maxRetries   = 3
	baseDelay    = time.Second
	maxDelay     = 30 * time.Second
	jitterFactor = 0.1
)

// SendWithRetry calls p.Send, retrying transient failures with capped
// exponential backoff and jitter. Auth failures and other permanent errors
// return immediately.
func SendWithRetry(ctx context.Context, p Provider, out *Outbound) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			if delay > maxDelay {
				delay = maxDelay
			}
			delay += time.Duration(rand.Float64() * jitterFactor * float64(delay))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		id, err := p.Send(ctx, out)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
	}
	return "", lastErr
}
