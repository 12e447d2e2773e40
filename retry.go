package redixcluster

import (
	"context"
	"errors"
	"time"
)

// Retry is a small outer wrapper that composes with the Dispatcher to
// turn ErrRetry into bounded, backed-off attempts -- deliberately not
// part of the core itself, since the core never sleeps and never retries
// on its own. It generalizes the connection-wrapping retry idiom into a
// plain function so it composes with Command, Pipeline and Transaction
// alike.
type Retry struct {
	// MaxAttempts bounds the number of calls to fn, including the first.
	MaxAttempts int

	// Initial and Max bound the exponential backoff between attempts,
	// mirroring Config.BackoffInitial/BackoffMax.
	Initial time.Duration
	Max     time.Duration
}

// NewRetry builds a Retry from a Config's backoff bounds, with a
// reasonable default attempt count.
func NewRetry(cfg Config) Retry {
	return Retry{MaxAttempts: 4, Initial: cfg.BackoffInitial, Max: cfg.BackoffMax}
}

// Do calls fn up to r.MaxAttempts times, sleeping with exponential
// backoff between attempts as long as fn returns ErrRetry. Any other
// error, or a nil error, stops the loop immediately.
func (r Retry) Do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	backoff := r.Initial
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	maxBackoff := r.Max
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, ErrRetry) {
			return nil, err
		}

		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, lastErr
}
