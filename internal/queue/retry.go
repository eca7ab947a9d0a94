package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golfsync/internal/constants"
)

// DBRetryConfig bounds the retry loop around local database statements.
// The zero value selects the defaults from internal/constants.
type DBRetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func (c DBRetryConfig) withDefaults() DBRetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond
	}
	return c
}

// withDBRetry executes a local database operation with bounded retries.
// SQLite lock contention between the producer and the scheduler is the
// expected transient failure here.
func (s *Store) withDBRetry(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error

	maxAttempts := s.dbRetry.MaxAttempts
	initialBackoff := s.dbRetry.Backoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
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

		if !isRetryableDBError(err) {
			return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
		}

		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * initialBackoff
		if backoff > s.dbRetry.MaxBackoff {
			backoff = s.dbRetry.MaxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	if strings.Contains(errStr, "database is locked") {
		return true
	}

	if strings.Contains(errStr, "disk I/O error") {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if strings.Contains(errStr, "UNIQUE constraint") || strings.Contains(errStr, "CHECK constraint") {
		return false
	}

	if strings.Contains(errStr, "no such table") || strings.Contains(errStr, "no such column") {
		return false
	}

	return false
}
