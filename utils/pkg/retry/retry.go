package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrPending marks an operation whose outcome is not known yet. It is the only condition
// retried by default: transport and remote failures are returned to the caller as-is.
var ErrPending = errors.New("pending")

// Config holds polling configuration.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Retryable decides whether an error returned by the polled function warrants another
	// attempt. Defaults to IsPending.
	Retryable func(error) bool
}

// DefaultConfig returns the default polling configuration, sized for a confirmed
// commitment on a public cluster (roughly 30s in total).
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 30,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

func (cfg *Config) Validate() error {
	if cfg.MaxAttempts <= 0 {
		return errors.New("max attempts must be greater than 0")
	}
	if cfg.BaseBackoff <= 0 {
		return errors.New("base backoff must be greater than 0")
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		return errors.New("max backoff must not be less than base backoff")
	}
	if cfg.Retryable == nil {
		cfg.Retryable = IsPending
	}
	return nil
}

// Do calls fn until it returns nil, a non-retryable error, the attempts run out or ctx is
// done. When attempts run out the last error is wrapped.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := calculateBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !cfg.Retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// IsPending reports whether err carries ErrPending.
func IsPending(err error) bool {
	return errors.Is(err, ErrPending)
}

// calculateBackoff returns base * 2^attempt capped at max, scaled by a 0.5-1.0 jitter.
func calculateBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}
