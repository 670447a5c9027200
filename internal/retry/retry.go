// Package retry wraps an operation with bounded attempts and a caller-chosen
// delay between them.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/metrics"
)

// DelayFunc returns the wait after the n-th failure (1-based).
type DelayFunc func(attempt int) time.Duration

// Linear waits attempt*base, e.g. 1s, 2s, 3s.
func Linear(base time.Duration) DelayFunc {
	return func(attempt int) time.Duration { return time.Duration(attempt) * base }
}

// Policy is a reusable attempt budget and delay.
type Policy struct {
	MaxAttempts int
	Delay       DelayFunc
}

// DefaultPolicy is three attempts one, then two seconds apart.
var DefaultPolicy = Policy{MaxAttempts: 3, Delay: Linear(time.Second)}

// Do runs op under the policy. See the package function Do.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	return Run(ctx, op, p.MaxAttempts, p.Delay)
}

// Run attempts op up to maxAttempts times. The error returned after the last
// attempt is that attempt's error, unchanged. Login-required errors end the
// loop at once. Cancelling ctx also ends it, with ctx's cause.
func Run[T any](ctx context.Context, op func(ctx context.Context) (T, error), maxAttempts int, delay DelayFunc) (T, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if delay == nil {
		delay = Linear(time.Second)
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		if attempt > 1 {
			metrics.RetryAttempts.Inc()
		}
		v, err := op(ctx)
		if err != nil && auth.IsLoginRequired(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(&delayBackOff{delay: delay}),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)

	// A permanent error on the final attempt comes back still wrapped.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

// delayBackOff feeds DelayFunc into backoff's schedule.
type delayBackOff struct {
	delay    DelayFunc
	failures int
}

func (b *delayBackOff) NextBackOff() time.Duration {
	b.failures++
	d := b.delay(b.failures)
	if d < 0 {
		return 0
	}
	return d
}

func (b *delayBackOff) Reset() { b.failures = 0 }
