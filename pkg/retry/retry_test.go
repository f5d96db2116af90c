package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestNew_FillsZeroValues(t *testing.T) {
	r := New(&Config{JitterFactor: 3})

	assert.Equal(t, time.Second, r.config.InitialInterval)
	assert.Equal(t, 30*time.Second, r.config.MaxInterval)
	assert.Equal(t, 2.0, r.config.Multiplier)
	assert.Equal(t, 1.0, r.config.JitterFactor)
}

func TestNew_DoesNotMutateCallerConfig(t *testing.T) {
	cfg := &Config{}
	New(cfg)
	assert.Zero(t, cfg.InitialInterval)
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("version conflict")
		}
		return nil
	})

	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Attempts)
}

func TestDo_MaxRetriesExceeded(t *testing.T) {
	boom := errors.New("still conflicting")
	result := Do(context.Background(), fastConfig(2), func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, result.Err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, result.LastError, boom)
	assert.Equal(t, 3, result.Attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("already rejected")
	attempts := 0
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		attempts++
		return Permanent(sentinel)
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, result.Err, sentinel)
	assert.False(t, IsPermanent(result.Err))
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Do(ctx, fastConfig(3), func(ctx context.Context) error {
		return errors.New("unreachable")
	})

	assert.ErrorIs(t, result.Err, ErrContextCanceled)
	assert.Equal(t, 1, result.Attempts)
}

func TestDoWithCallback_ReportsEachRetry(t *testing.T) {
	var seen []int
	DoWithCallback(context.Background(), fastConfig(2), func(ctx context.Context) error {
		return errors.New("conflict")
	}, func(attempt int, err error, next time.Duration) {
		seen = append(seen, attempt)
		assert.Greater(t, next, time.Duration(0))
	})

	assert.Equal(t, []int{1, 2}, seen)
}

func TestCalculateInterval_Capped(t *testing.T) {
	r := New(&Config{InitialInterval: 10 * time.Millisecond, MaxInterval: 40 * time.Millisecond, Multiplier: 2})

	assert.Equal(t, 10*time.Millisecond, r.calculateInterval(0))
	assert.Equal(t, 20*time.Millisecond, r.calculateInterval(1))
	assert.Equal(t, 40*time.Millisecond, r.calculateInterval(5))
}

func TestRetryableAndPermanent_Nil(t *testing.T) {
	assert.Nil(t, Retryable(nil))
	assert.Nil(t, Permanent(nil))

	wrapped := Retryable(errors.New("x"))
	var re *RetryableError
	assert.True(t, errors.As(wrapped, &re))
	assert.True(t, IsPermanent(Permanent(errors.New("y"))))
}
