// Package retrypolicy is the explicit retry schedule device clients compose
// in. Keeping it separate from the network code lets the backoff math be
// tested with injected faults instead of real sockets.
package retrypolicy

import (
	"context"
	"errors"
	"time"
)

// Permanent wraps an error that must not be retried (e.g. an HTTP 4xx from a
// device: the request is wrong, not the network).
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// NewPermanent marks err as non-retryable.
func NewPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Policy is a bounded exponential backoff: attempt n sleeps Base<<(n-1),
// capped at Cap.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default matches the device-polling contract: 3 attempts, 1s base, 10s cap.
func Default() Policy {
	return Policy{MaxAttempts: 3, Base: time.Second, Cap: 10 * time.Second}
}

// Backoff returns the sleep before retry attempt n (1-based; attempt 0 is the
// first try and never sleeps).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping the backoff schedule between
// failures. It returns the last error once attempts are exhausted, and stops
// early on ctx cancellation or a Permanent error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
