// Package retry provides bounded exponential backoff for store adapter I/O.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config bounds a retry loop.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier grows the delay between attempts, typically 2.0.
	Multiplier float64
	// AddJitter spreads delays by up to 25% to avoid lockstep retries.
	AddJitter bool
}

// DefaultConfig suits ordinary adapter calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick suits short lock contention, e.g. embedded database writes.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Persistent suits connections to resources that must come up eventually.
func Persistent() Config {
	return Config{
		MaxAttempts:  30,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c *Config) normalize() error {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return errors.New("retry: delays and multiplier must not be negative")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return nil
}

// markedError stops a retry loop early.
type markedError struct {
	err error
}

func (e *markedError) Error() string { return "non-retryable: " + e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// NonRetryable marks an error so Do fails immediately instead of
// retrying. Callers use it when the failure is known to be permanent.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err}
}

// IsNonRetryable reports whether the error carries the NonRetryable mark.
func IsNonRetryable(err error) bool {
	var m *markedError
	return errors.As(err, &m)
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// marked non-retryable, or the context ends.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if err := cfg.normalize(); err != nil {
		return err
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
		}

		if err := sleep(ctx, withJitter(delay, cfg.AddJitter)); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, err)
		}
		delay = nextDelay(delay, cfg)
	}
}

// DoWithResult is Do for operations that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

func withJitter(d time.Duration, enabled bool) time.Duration {
	if !enabled || d < 4 {
		return d
	}
	return d + rand.N(d/4)
}

func nextDelay(d time.Duration, cfg Config) time.Duration {
	grown := float64(d) * cfg.Multiplier
	if grown > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(grown)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
