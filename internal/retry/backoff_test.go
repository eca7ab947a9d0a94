package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayForRetry(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
		{-1, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DelayForRetry(base, max, tt.retryCount), "retryCount=%d", tt.retryCount)
	}
}

func TestDelayForRetryNonDecreasing(t *testing.T) {
	base := 500 * time.Millisecond
	max := 30 * time.Second

	prev := time.Duration(0)
	for i := 0; i < 64; i++ {
		d := DelayForRetry(base, max, i)
		assert.GreaterOrEqual(t, d, prev, "delay must not decrease at retryCount=%d", i)
		assert.LessOrEqual(t, d, max)
		prev = d
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 5,
	})

	attempts := 0
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
	})

	attempts := 0
	wantErr := errors.New("always fails")
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		return wantErr
	})

	assert.Equal(t, wantErr, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
		MaxAttempts: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := backoff.Retry(ctx, func() error {
		attempts++
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithPredicateStopsOnPermanentError(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 5,
	})

	permanent := errors.New("permanent")
	attempts := 0
	err := backoff.RetryWithPredicate(context.Background(), func() error {
		attempts++
		return permanent
	}, func(err error) bool {
		return false
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, attempts)
}

func TestDelayWithJitterStaysInBounds(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		MaxAttempts: 5,
		Jitter:      true,
	})

	for attempt := 0; attempt < 10; attempt++ {
		d := backoff.delay(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
