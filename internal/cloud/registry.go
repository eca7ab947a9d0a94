package cloud

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "golfsync/internal/errors"
	"golfsync/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DeviceRegistry tracks the devices of each account and the per-device,
// per-entity sync watermarks used to compute cross-device deltas.
type DeviceRegistry struct {
	store  *Store
	logger *logrus.Logger
}

func NewDeviceRegistry(store *Store, logger *logrus.Logger) *DeviceRegistry {
	return &DeviceRegistry{store: store, logger: logger}
}

// RegisterDevice upserts a device by (accountID, deviceID). Re-registration
// refreshes metadata and lastActiveAt and reactivates a deactivated device
// instead of duplicating it.
func (r *DeviceRegistry) RegisterDevice(ctx context.Context, accountID, deviceID string, deviceType models.DeviceType, deviceName, metadata string) (*models.DeviceRecord, error) {
	if accountID == "" || deviceID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidPayload, "account id and device id are required")
	}

	now := time.Now().UTC()
	_, err := r.store.db.ExecContext(ctx, upsertDeviceQuery,
		uuid.NewString(), accountID, deviceID, deviceType, deviceName, metadata, now,
	)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("register device", err)
	}

	r.logger.WithFields(logrus.Fields{
		"accountId":  accountID,
		"deviceId":   deviceID,
		"deviceType": deviceType,
	}).Info("Registered device")

	return r.GetDevice(ctx, accountID, deviceID)
}

// GetDevice returns one device record; nil when unknown.
func (r *DeviceRegistry) GetDevice(ctx context.Context, accountID, deviceID string) (*models.DeviceRecord, error) {
	var d models.DeviceRecord
	err := r.store.db.QueryRowContext(ctx, selectDeviceQuery, accountID, deviceID).Scan(
		&d.ID, &d.AccountID, &d.DeviceID, &d.DeviceType, &d.DeviceName,
		&d.Metadata, &d.LastSyncAt, &d.LastActiveAt, &d.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s/%s: %w", accountID, deviceID, err)
	}
	return &d, nil
}

// Devices lists an account's active devices, most recently active first.
func (r *DeviceRegistry) Devices(ctx context.Context, accountID string) ([]models.DeviceRecord, error) {
	rows, err := r.store.db.QueryContext(ctx, selectDevicesByAccountQuery, accountID)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("list devices", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []models.DeviceRecord
	for rows.Next() {
		var d models.DeviceRecord
		if err := rows.Scan(&d.ID, &d.AccountID, &d.DeviceID, &d.DeviceType, &d.DeviceName,
			&d.Metadata, &d.LastSyncAt, &d.LastActiveAt, &d.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeactivateDevice soft-deletes a device. Its sync log is retained so a
// later re-registration resumes from the old watermarks.
func (r *DeviceRegistry) DeactivateDevice(ctx context.Context, accountID, deviceID string) error {
	res, err := r.store.db.ExecContext(ctx, deactivateDeviceQuery, accountID, deviceID)
	if err != nil {
		return apperrors.NewTransientStorageError("deactivate device", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("device %s not found", deviceID))
	}

	r.logger.WithFields(logrus.Fields{"accountId": accountID, "deviceId": deviceID}).Info("Deactivated device")
	return nil
}

// LogSync upserts the watermark "entity delivered to device in direction".
// Idempotent: re-logging the same key only advances syncedAt.
func (r *DeviceRegistry) LogSync(ctx context.Context, deviceID string, entityType models.EntityType, entityID string, direction models.SyncDirection) error {
	if deviceID == "" || entityID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidPayload, "device id and entity id are required")
	}

	_, err := r.store.db.ExecContext(ctx, upsertSyncLogQuery,
		deviceID, entityType, entityID, direction, time.Now().UTC(),
	)
	if err != nil {
		return apperrors.NewTransientStorageError("log sync", err)
	}
	return nil
}

// TouchLastSync stamps a device's lastSyncAt/lastActiveAt after a sync pass.
func (r *DeviceRegistry) TouchLastSync(ctx context.Context, accountID, deviceID string) error {
	now := time.Now().UTC()
	_, err := r.store.db.ExecContext(ctx, touchDeviceSyncQuery, now, now, accountID, deviceID)
	if err != nil {
		return apperrors.NewTransientStorageError("touch device sync", err)
	}
	return nil
}

// EntitiesToSync computes the delta for one device: entities of the account
// whose updatedAt is newer than the device's FROM_CLOUD watermark for that
// entity. The watermark is per entity, so one missed update never blocks
// delivery of others. Results are newest first so a device with limited
// sync time gets the most recent changes.
func (r *DeviceRegistry) EntitiesToSync(ctx context.Context, deviceID, accountID string, entityType models.EntityType, since *time.Time) ([]models.PendingEntity, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if since != nil {
		rows, err = r.store.db.QueryContext(ctx, selectEntitiesToSyncSinceQuery,
			deviceID, accountID, entityType, since.UTC())
	} else {
		rows, err = r.store.db.QueryContext(ctx, selectEntitiesToSyncQuery,
			deviceID, accountID, entityType)
	}
	if err != nil {
		return nil, apperrors.NewTransientStorageError("compute sync delta", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []models.PendingEntity
	for rows.Next() {
		var p models.PendingEntity
		if err := rows.Scan(&p.EntityID, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending entity: %w", err)
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// SyncStatus summarizes one device's convergence per entity type.
func (r *DeviceRegistry) SyncStatus(ctx context.Context, deviceID, accountID string) (*models.DeviceSyncStatus, error) {
	status := &models.DeviceSyncStatus{}

	counts := []struct {
		entityType models.EntityType
		total      *int
		synced     *int
		pending    *int
	}{
		{models.EntityTypeRound, &status.TotalRounds, &status.SyncedRounds, &status.PendingRounds},
		{models.EntityTypeShot, &status.TotalShots, &status.SyncedShots, &status.PendingShots},
	}

	for _, c := range counts {
		if err := r.store.db.QueryRowContext(ctx, countEntitiesByAccountQuery, accountID, c.entityType).Scan(c.total); err != nil {
			return nil, apperrors.NewTransientStorageError("count entities", err)
		}
		if err := r.store.db.QueryRowContext(ctx, countSyncedEntitiesQuery, deviceID, c.entityType, accountID).Scan(c.synced); err != nil {
			return nil, apperrors.NewTransientStorageError("count synced entities", err)
		}
		pending, err := r.EntitiesToSync(ctx, deviceID, accountID, c.entityType, nil)
		if err != nil {
			return nil, err
		}
		*c.pending = len(pending)
	}

	return status, nil
}
