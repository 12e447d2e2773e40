package redixcluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDoSucceedsOnFirstAttempt(t *testing.T) {
	r := Retry{MaxAttempts: 4, Initial: time.Millisecond, Max: 10 * time.Millisecond}

	calls := 0
	result, err := r.Do(context.Background(), func() (interface{}, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetryDoRetriesUntilMaxAttempts(t *testing.T) {
	r := Retry{MaxAttempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}

	calls := 0
	_, err := r.Do(context.Background(), func() (interface{}, error) {
		calls++
		return nil, ErrRetry
	})

	assert.ErrorIs(t, err, ErrRetry)
	assert.Equal(t, 3, calls)
}

func TestRetryDoSucceedsAfterTransientRetries(t *testing.T) {
	r := Retry{MaxAttempts: 5, Initial: time.Millisecond, Max: 5 * time.Millisecond}

	calls := 0
	result, err := r.Do(context.Background(), func() (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, ErrRetry
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 3, calls)
}

func TestRetryDoStopsImmediatelyOnNonRetryError(t *testing.T) {
	r := Retry{MaxAttempts: 5, Initial: time.Millisecond, Max: 5 * time.Millisecond}

	boom := errors.New("boom")
	calls := 0
	_, err := r.Do(context.Background(), func() (interface{}, error) {
		calls++
		return nil, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryDoHonorsContextCancellationDuringBackoff(t *testing.T) {
	r := Retry{MaxAttempts: 10, Initial: 50 * time.Millisecond, Max: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := r.Do(ctx, func() (interface{}, error) {
		calls++
		if calls == 1 {
			go cancel()
		}
		return nil, ErrRetry
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryDoAppliesDefaultsForZeroFields(t *testing.T) {
	r := Retry{}

	calls := 0
	_, err := r.Do(context.Background(), func() (interface{}, error) {
		calls++
		return "x", nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestNewRetryDerivesFromConfig(t *testing.T) {
	cfg := Default()
	r := NewRetry(cfg)

	assert.Equal(t, 4, r.MaxAttempts)
	assert.Equal(t, cfg.BackoffInitial, r.Initial)
	assert.Equal(t, cfg.BackoffMax, r.Max)
}
