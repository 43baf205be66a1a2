package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/niksmo/product-intake/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTemporary = errors.New("temporary")
	errFatal     = errors.New("fatal")
)

func TestDoWithResult(t *testing.T) {
	cfg := retry.RetryConfig{
		MaxAttempts: 3,
		Backoff:     retry.LinearBackoff(time.Millisecond),
		ShouldRetry: func(err error) bool { return errors.Is(err, errTemporary) },
	}

	t.Run("SucceedsAfterRetries", func(t *testing.T) {
		calls := 0
		v, err := retry.DoWithResult(t.Context(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errTemporary
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("NonRetryableError", func(t *testing.T) {
		calls := 0
		_, err := retry.DoWithResult(t.Context(), cfg, func() (int, error) {
			calls++
			return 1, errFatal
		})
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("AttemptsExhausted", func(t *testing.T) {
		calls := 0
		err := retry.Do(t.Context(), cfg, func() error {
			calls++
			return errTemporary
		})
		assert.ErrorIs(t, err, errTemporary)
		assert.Equal(t, 3, calls)
	})

	t.Run("ContextCanceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		slow := cfg
		slow.Backoff = retry.LinearBackoff(time.Hour)

		err := retry.Do(ctx, slow, func() error {
			cancel()
			return errTemporary
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, errTemporary)
	})

	t.Run("ZeroConfigSingleCall", func(t *testing.T) {
		calls := 0
		err := retry.Do(t.Context(), retry.RetryConfig{}, func() error {
			calls++
			return errTemporary
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestExponentialBackoff(t *testing.T) {
	b := retry.ExponentialBackoff(10 * time.Millisecond)
	for attempt := 1; attempt <= 4; attempt++ {
		base := time.Duration(1<<attempt) * 10 * time.Millisecond
		d := b(attempt)
		assert.Greater(t, d, base)
		assert.LessOrEqual(t, d, base+base/2)
	}
}
