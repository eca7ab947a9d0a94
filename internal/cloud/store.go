package cloud

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golfsync/internal/migrations"
	"golfsync/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable system of record plus the conflict log, device
// registry and per-device sync watermarks. Transactions take the write lock
// immediately so the read-compare-write of conflict resolution is atomic
// under concurrent applies from multiple devices.
type Store struct {
	db *sql.DB
}

// StoredEntity is the system-of-record row for one entity.
type StoredEntity struct {
	EntityType models.EntityType
	EntityID   string
	AccountID  string
	DeviceID   string
	Payload    string
	UpdatedAt  time.Time
}

// NewStore opens (or creates) the cloud database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("invalid cloud database path")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open cloud database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping cloud database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping cloud database: %w", err)
	}

	if _, err := db.Exec(migrations.CloudSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize cloud schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize cloud schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetEntity reads one entity from the system of record; nil when absent.
func (s *Store) GetEntity(ctx context.Context, entityType models.EntityType, entityID string) (*StoredEntity, error) {
	var e StoredEntity
	err := s.db.QueryRowContext(ctx, selectEntityQuery, entityType, entityID).Scan(
		&e.EntityType, &e.EntityID, &e.AccountID, &e.DeviceID, &e.Payload, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s/%s: %w", entityType, entityID, err)
	}
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
