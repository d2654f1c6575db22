package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestNotes_Retry_DefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 30, cfg.MaxAttempts)
	require.NotNil(t, cfg.Retryable)
}

func TestNotes_Retry_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxAttempts: 0, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	require.Error(t, cfg.Validate())

	cfg = Config{MaxAttempts: 1, BaseBackoff: time.Second, MaxBackoff: time.Millisecond}
	require.Error(t, cfg.Validate())
}

func TestNotes_Retry_Do(t *testing.T) {
	t.Parallel()

	t.Run("success on first attempt", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("polls while pending", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		err := Do(context.Background(), fastConfig(5), func() error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("status: %w", ErrPending)
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("transport errors are not retried", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		original := errors.New("connection reset by peer")
		err := Do(context.Background(), fastConfig(5), func() error {
			attempts++
			return original
		})
		require.ErrorIs(t, err, original)
		require.Equal(t, 1, attempts)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		err := Do(context.Background(), fastConfig(3), func() error {
			attempts++
			return ErrPending
		})
		require.ErrorIs(t, err, ErrPending)
		require.Contains(t, err.Error(), "failed after 3 attempts")
		require.Equal(t, 3, attempts)
	})

	t.Run("custom retryable", func(t *testing.T) {
		t.Parallel()

		flaky := errors.New("flaky")
		cfg := fastConfig(4)
		cfg.Retryable = func(err error) bool { return errors.Is(err, flaky) }

		attempts := 0
		err := Do(context.Background(), cfg, func() error {
			attempts++
			if attempts == 1 {
				return flaky
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, attempts)
	})

	t.Run("context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cfg := Config{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}

		attempts := 0
		err := Do(ctx, cfg, func() error {
			attempts++
			cancel()
			return ErrPending
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, attempts)
	})
}

func TestNotes_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	max := 400 * time.Millisecond
	for attempt := 1; attempt < 10; attempt++ {
		got := calculateBackoff(base, max, attempt)
		require.LessOrEqual(t, got, max)
		require.GreaterOrEqual(t, got, base/2)
	}
}
