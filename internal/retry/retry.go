// Package retry runs an operation under a bounded attempt budget with two
// competing wait strategies: exponential backoff for generic failures and the
// provider-signaled cooldown for flood control.
package retry

import (
	"context"
	"time"

	"github.com/hpungsan/modrelay/internal/errors"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries (not retries). Values below 1 mean 1.
	MaxAttempts int

	// Backoff returns the wait after the given zero-based failed attempt.
	Backoff func(attempt int) time.Duration

	// RateLimitDelay reports whether err is a flood-control signal and the
	// cooldown the provider asked for. The cooldown is obeyed exactly.
	RateLimitDelay func(err error) (time.Duration, bool)

	// Sleep waits for d or until ctx is done. Defaults to a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Notify is called before each wait.
	Notify func(attempt int, err error, wait time.Duration)
}

// Exponential returns a backoff of base * 2^attempt.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base << attempt
	}
}

// Default returns the publishing policy: maxAttempts tries, base delay
// doubling, relay rate-limit errors honored.
func Default(maxAttempts int, base time.Duration) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		Backoff:        Exponential(base),
		RateLimitDelay: errors.RetryAfter,
	}
}

// Do calls op until it succeeds, the attempt budget is spent, or ctx ends.
// It returns the number of attempts made. When every attempt fails the error
// is TRANSPORT_PERMANENT wrapping the last failure.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if attempt == maxAttempts-1 {
			break
		}

		wait := p.wait(attempt, lastErr)
		if p.Notify != nil {
			p.Notify(attempt, lastErr, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return attempt + 1, err
		}
	}
	return maxAttempts, errors.NewTransportPermanent(maxAttempts, lastErr)
}

func (p Policy) wait(attempt int, err error) time.Duration {
	if p.RateLimitDelay != nil {
		if d, ok := p.RateLimitDelay(err); ok {
			return d
		}
	}
	if p.Backoff != nil {
		return p.Backoff(attempt)
	}
	return 0
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
