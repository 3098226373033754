// Package profiles waits for user profile rows created by the external signup flow.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrProfileUnavailable is returned when the profile row did not appear within the retry budget.
var ErrProfileUnavailable = errors.New("profile unavailable")

// Checker reports whether a profile row exists.
type Checker interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Waiter polls for a profile row with bounded exponential backoff.
type Waiter struct {
	checker  Checker
	base     time.Duration
	maxDelay time.Duration
	attempts uint64
	logger   *slog.Logger
}

// NewWaiter returns a Waiter doing 5 retries starting at 200ms, each delay capped at 2s.
func NewWaiter(checker Checker, logger *slog.Logger) *Waiter {
	return &Waiter{checker: checker, base: 200 * time.Millisecond, maxDelay: 2 * time.Second, attempts: 5, logger: logger}
}

// WithPolicy overrides the backoff base delay and retry count.
func (w *Waiter) WithPolicy(base time.Duration, retries uint64) *Waiter {
	cp := *w
	cp.base = base
	cp.attempts = retries
	return &cp
}

func (w *Waiter) backoff() retry.Backoff {
	b := retry.NewExponential(w.base)
	b = retry.WithCappedDuration(w.maxDelay, b)
	return retry.WithMaxRetries(w.attempts, b)
}

// Wait blocks until the profile exists. Lookup errors are retried like a missing row.
func (w *Waiter) Wait(ctx context.Context, userID string) error {
	attempt := 0
	err := retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		attempt++
		exists, err := w.checker.UserExists(ctx, userID)
		if err != nil {
			w.logger.Warn("profile lookup failed", "user_id", userID, "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		if !exists {
			return retry.RetryableError(fmt.Errorf("profile %s not found", userID))
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.logger.Warn("profile did not appear", "user_id", userID, "attempts", attempt, "err", err)
		return fmt.Errorf("%w: %s after %d attempts", ErrProfileUnavailable, userID, attempt)
	}
	return nil
}
