package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Config contains retry configuration
type Config struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// InitialInterval is the backoff before the first retry
	InitialInterval time.Duration
	// MaxInterval caps the backoff
	MaxInterval time.Duration
	// Multiplier grows the interval after each retry
	Multiplier float64
	// JitterFactor in [0,1]; 0.1 means +/-10%
	JitterFactor float64
}

// DefaultConfig backs off 1s, 2s, 4s, ... capped at 30s
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// ConflictConfig is tuned for optimistic-concurrency and lock contention:
// a handful of quick retries measured in milliseconds.
func ConflictConfig() *Config {
	return &Config{
		MaxRetries:      5,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0.3,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// RetryableError marks an error as worth another attempt
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so callers can tell it apart from permanent failures
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// PermanentError stops the retry loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Result contains the outcome of a retried operation
type Result struct {
	// Err is nil on success, the unwrapped permanent error, or one of the package errors
	Err error
	// Attempts counts every call to the operation, including the first
	Attempts int
	// TotalDuration includes time spent waiting
	TotalDuration time.Duration
	// LastError is the error returned by the final attempt
	LastError error
}

// Retrier runs operations with exponential backoff
type Retrier struct {
	config *Config
}

// New creates a Retrier, filling zero values with defaults
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	cfg.JitterFactor = math.Max(0, math.Min(1, cfg.JitterFactor))
	return &Retrier{config: &cfg}
}

// RetryCallback is invoked before sleeping ahead of each retry
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// Do executes op until it succeeds, fails permanently, runs out of retries or ctx ends
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// DoWithCallback is Do with a hook before each retry
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, callback RetryCallback) *Result {
	start := time.Now()
	result := &Result{}
	finish := func(err, last error) *Result {
		result.Err = err
		result.LastError = last
		result.TotalDuration = time.Since(start)
		return result
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1
		if ctx.Err() != nil {
			return finish(ErrContextCanceled, lastErr)
		}

		err := op(ctx)
		if err == nil {
			return finish(nil, nil)
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return finish(perm.Err, perm.Err)
		}
		if attempt == r.config.MaxRetries {
			break
		}

		wait := r.calculateInterval(attempt)
		if callback != nil {
			callback(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(ErrContextCanceled, lastErr)
		case <-timer.C:
		}
	}
	return finish(ErrMaxRetriesExceeded, lastErr)
}

func (r *Retrier) calculateInterval(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt))
	if r.config.JitterFactor > 0 {
		jitter := interval * r.config.JitterFactor
		interval += (rand.Float64()*2 - 1) * jitter
	}
	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval <= 0 {
		interval = float64(r.config.InitialInterval)
	}
	return time.Duration(interval)
}

// Do creates a Retrier for config and runs op
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return New(config).Do(ctx, op)
}

// DoWithCallback creates a Retrier for config and runs op with callback
func DoWithCallback(ctx context.Context, config *Config, op Operation, callback RetryCallback) *Result {
	return New(config).DoWithCallback(ctx, op, callback)
}
