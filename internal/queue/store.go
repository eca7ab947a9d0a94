package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golfsync/internal/envelope"
	apperrors "golfsync/internal/errors"
	"golfsync/internal/migrations"
	"golfsync/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable queue of pending mutations. It is the single source
// of truth for "what still needs sending": every locally-produced mutation
// enters through Enqueue and leaves only through MarkSucceeded or, after the
// retry budget is exhausted, CleanupFailed.
type Store struct {
	db         *sql.DB
	env        *envelope.Service
	maxRetries int
	dbRetry    DBRetryConfig
}

// New opens (or creates) the queue database at dbPath. env may be nil, in
// which case payloads are stored in plaintext. dbRetry tunes the lock
// contention retry loop around statements; its zero value selects defaults.
func New(dbPath string, env *envelope.Service, maxRetries int, dbRetry DBRetryConfig) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("invalid queue database path")
	}
	if maxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be positive, got %d", maxRetries)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping queue database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping queue database: %w", err)
	}

	if _, err := db.Exec(migrations.EdgeSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize queue schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	return &Store{db: db, env: env, maxRetries: maxRetries, dbRetry: dbRetry.withDefaults()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// MaxRetries returns the configured retry budget per item.
func (s *Store) MaxRetries() int {
	return s.maxRetries
}

// Enqueue appends a pending mutation. Local-only: no network call is made,
// so the producer never blocks on connectivity. A storage failure is fatal
// and surfaced to the caller, never swallowed.
func (s *Store) Enqueue(ctx context.Context, entityType models.EntityType, entityID string, operation models.Operation, payload []byte) (*models.QueueItem, error) {
	if !entityType.Valid() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidPayload, fmt.Sprintf("unknown entity type %q", entityType))
	}
	if !operation.Valid() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidPayload, fmt.Sprintf("unknown operation %q", operation))
	}
	if entityID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidPayload, "empty entity id")
	}

	stored, err := s.encodePayload(payload)
	if err != nil {
		return nil, apperrors.NewLocalStorageError("encrypt payload", err)
	}

	now := time.Now().UTC()
	item := &models.QueueItem{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		Payload:    stored,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.withDBRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, insertQueueItemQuery,
			item.ID, item.EntityType, item.EntityID, item.Operation,
			item.Payload, now, now,
		)
		return execErr
	}, "enqueue")
	if err != nil {
		return nil, apperrors.NewLocalStorageError("enqueue", err)
	}

	return item, nil
}

// DequeueBatch returns up to maxSize oldest-first pending items without
// removing them. Removal happens only through MarkSucceeded after the cloud
// acknowledges the item.
func (s *Store) DequeueBatch(ctx context.Context, maxSize int) ([]models.QueueItem, error) {
	if maxSize <= 0 {
		return nil, nil
	}

	var items []models.QueueItem
	err := s.withDBRetry(ctx, func() error {
		rows, queryErr := s.db.QueryContext(ctx, selectPendingBatchQuery, maxSize)
		if queryErr != nil {
			return queryErr
		}
		defer func() { _ = rows.Close() }()

		items = items[:0]
		for rows.Next() {
			var item models.QueueItem
			if scanErr := rows.Scan(
				&item.ID, &item.EntityType, &item.EntityID, &item.Operation,
				&item.Payload, &item.RetryCount, &item.LastRetryAt,
				&item.Failed, &item.CreatedAt, &item.UpdatedAt,
			); scanErr != nil {
				return scanErr
			}
			items = append(items, item)
		}
		return rows.Err()
	}, "dequeue batch")
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue batch: %w", err)
	}

	return items, nil
}

// FailedItems returns the terminal-failed set for inspection. These items
// are excluded from DequeueBatch but retained until CleanupFailed.
func (s *Store) FailedItems(ctx context.Context) ([]models.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, selectFailedItemsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []models.QueueItem
	for rows.Next() {
		var item models.QueueItem
		if err := rows.Scan(
			&item.ID, &item.EntityType, &item.EntityID, &item.Operation,
			&item.Payload, &item.RetryCount, &item.LastRetryAt,
			&item.Failed, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan failed item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkSucceeded removes an acknowledged item from the queue.
func (s *Store) MarkSucceeded(ctx context.Context, id string) error {
	err := s.withDBRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, deleteQueueItemQuery, id)
		return execErr
	}, "mark succeeded")
	if err != nil {
		return fmt.Errorf("failed to mark item %s succeeded: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt: increments retryCount and stamps
// lastRetryAt. Once retryCount reaches the configured maximum the item
// transitions to the terminal failed state and reports terminal=true.
func (s *Store) MarkFailed(ctx context.Context, id string) (terminal bool, err error) {
	now := time.Now().UTC()

	err = s.withDBRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, markFailedAttemptQuery, now, s.maxRetries, id)
		return execErr
	}, "mark failed")
	if err != nil {
		return false, fmt.Errorf("failed to mark item %s failed: %w", id, err)
	}

	var retryCount int
	var failed bool
	row := s.db.QueryRowContext(ctx, selectItemStateQuery, id)
	if scanErr := row.Scan(&retryCount, &failed); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return false, fmt.Errorf("item %s not found after marking failed", id)
		}
		return false, fmt.Errorf("failed to read item %s state: %w", id, scanErr)
	}

	return failed, nil
}

// MarkFailedTerminal moves an item straight to the terminal failed state.
// Used for permanent failures (malformed payload, decryption) where further
// retries cannot succeed. The item stays inspectable until CleanupFailed.
func (s *Store) MarkFailedTerminal(ctx context.Context, id string) error {
	now := time.Now().UTC()
	err := s.withDBRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, markTerminalQuery, now, id)
		return execErr
	}, "mark failed terminal")
	if err != nil {
		return fmt.Errorf("failed to mark item %s terminally failed: %w", id, err)
	}
	return nil
}

// Status counts pending and terminal-failed items.
func (s *Store) Status(ctx context.Context) (pending, failed int, err error) {
	row := s.db.QueryRowContext(ctx, countByFailedQuery)
	if err := row.Scan(&pending, &failed); err != nil {
		return 0, 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return pending, failed, nil
}

// CleanupFailed deletes terminal-failed items after they have been
// inspected, returning the number removed.
func (s *Store) CleanupFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, deleteFailedItemsQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup failed items: %w", err)
	}
	return res.RowsAffected()
}

// DecodePayload returns the plaintext payload of a stored item, unwrapping
// the encryption envelope when one is present. An encrypted payload with no
// configured envelope service is a permanent error, not a passthrough.
func (s *Store) DecodePayload(item *models.QueueItem) ([]byte, error) {
	if item.Payload == "" {
		return nil, nil
	}

	var env models.Envelope
	if err := json.Unmarshal([]byte(item.Payload), &env); err == nil && env.Encrypted {
		plain, unwrapErr := s.env.Unwrap(&env)
		if unwrapErr != nil {
			return nil, apperrors.NewDecryptionError(unwrapErr)
		}
		return plain, nil
	}

	return []byte(item.Payload), nil
}

// encodePayload wraps the payload in an encryption envelope when the store
// has one configured; otherwise the payload is stored as-is.
func (s *Store) encodePayload(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}

	env, err := s.env.Wrap(payload)
	if err != nil {
		return "", err
	}
	if env == nil {
		return string(payload), nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(data), nil
}
