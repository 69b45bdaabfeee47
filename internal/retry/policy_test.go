package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}

	assert.Equal(t, time.Duration(0), p.Backoff(1))
	assert.Equal(t, time.Second, p.Backoff(2))
	assert.Equal(t, 2*time.Second, p.Backoff(3))
	assert.Equal(t, 4*time.Second, p.Backoff(4))

	t.Run("caps at max backoff", func(t *testing.T) {
		assert.Equal(t, 10*time.Second, p.Backoff(10))
	})
}

func TestPolicy_Do(t *testing.T) {
	fast := Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}

	t.Run("succeeds first attempt", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts attempt budget", func(t *testing.T) {
		calls := 0
		failure := errors.New("still down")
		err := fast.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return failure
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, failure)
		assert.Contains(t, err.Error(), "exhausted 3 attempts")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		slow := Policy{
			MaxAttempts:    10,
			InitialBackoff: time.Hour,
			MaxBackoff:     time.Hour,
			BackoffFactor:  2.0,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := slow.Do(ctx, func(ctx context.Context) error {
			return errors.New("transient")
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
