package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	MaxAttempts int           `json:"max_attempts"`
	Jitter      bool          `json:"jitter"`
}

// DefaultBackoffConfig returns a sensible default configuration
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
		Jitter:      true,
	}
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config}
}

// DelayForRetry returns the mandatory wait after the given number of failed
// attempts: min(baseDelay * 2^retryCount, maxDelay). The queue uses this to
// decide whether an item is eligible for another attempt, so it is
// deterministic (no jitter) and non-decreasing in retryCount.
func DelayForRetry(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := float64(base) * math.Pow(2, float64(retryCount))
	if delay > float64(max) || delay < 0 {
		return max
	}
	return time.Duration(delay)
}

// Retry executes the operation with exponential backoff retry logic
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt < b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == b.config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
	}

	return lastErr
}

// RetryWithPredicate retries only while the predicate reports the error as
// retryable; permanent errors fail immediately.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if attempt == b.config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
	}

	return lastErr
}

// delay computes the wait after the given zero-based attempt, with ±25%
// jitter when enabled.
func (b *Backoff) delay(attempt int) time.Duration {
	delay := DelayForRetry(b.config.BaseDelay, b.config.MaxDelay, attempt)

	if b.config.Jitter {
		jitter := float64(delay) * 0.25
		adjusted := float64(delay) + (secureFloat64()-0.5)*2*jitter
		if adjusted < 0 {
			adjusted = float64(b.config.BaseDelay)
		}
		if adjusted > float64(b.config.MaxDelay) {
			adjusted = float64(b.config.MaxDelay)
		}
		delay = time.Duration(adjusted)
	}

	return delay
}

// secureFloat64 generates a cryptographically secure float64 in [0, 1)
func secureFloat64() float64 {
	max := big.NewInt(0).SetUint64(math.MaxUint64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// time-based value rather than aborting a retry loop.
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}
	return float64(n.Uint64()) / float64(math.MaxUint64)
}
