package cloud

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	apperrors "golfsync/internal/errors"
	"golfsync/internal/metrics"
	"golfsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) (*DeviceRegistry, *ApplyService) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "cloud.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return NewDeviceRegistry(store, logger), NewApplyService(store, nil, metrics.NewRegistry(), logger)
}

func applyShot(t *testing.T, svc *ApplyService, entityID, deviceID string, at time.Time) {
	t.Helper()
	_, err := svc.Apply(context.Background(), models.SyncRecord{
		EntityType: models.EntityTypeShot,
		EntityID:   entityID,
		Operation:  models.OperationCreate,
		AccountID:  "acct-1",
		DeviceID:   deviceID,
		UpdatedAt:  at,
		Payload:    json.RawMessage(`{"distance":200}`),
	})
	require.NoError(t, err)
}

func TestRegisterDeviceUpsert(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	device, err := reg.RegisterDevice(ctx, "acct-1", "glasses-1", models.DeviceTypeARGlasses, "Vuzix", "")
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.True(t, device.IsActive)
	assert.Equal(t, models.DeviceTypeARGlasses, device.DeviceType)
	firstID := device.ID

	// Re-registration refreshes instead of duplicating.
	again, err := reg.RegisterDevice(ctx, "acct-1", "glasses-1", models.DeviceTypeARGlasses, "Vuzix Blade", "")
	require.NoError(t, err)
	assert.Equal(t, firstID, again.ID)
	assert.Equal(t, "Vuzix Blade", again.DeviceName)

	devices, err := reg.Devices(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestRegisterDeviceValidation(t *testing.T) {
	reg, _ := setupRegistry(t)
	_, err := reg.RegisterDevice(context.Background(), "", "glasses-1", models.DeviceTypeARGlasses, "", "")
	assert.Error(t, err)
	_, err = reg.RegisterDevice(context.Background(), "acct-1", "", models.DeviceTypeARGlasses, "", "")
	assert.Error(t, err)
}

func TestDeactivateAndReactivateDevice(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	_, err := reg.RegisterDevice(ctx, "acct-1", "phone-1", models.DeviceTypeMobileIOS, "", "")
	require.NoError(t, err)

	require.NoError(t, reg.DeactivateDevice(ctx, "acct-1", "phone-1"))

	devices, err := reg.Devices(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, devices, "deactivated devices are not listed")

	// Registration brings it back.
	device, err := reg.RegisterDevice(ctx, "acct-1", "phone-1", models.DeviceTypeMobileIOS, "", "")
	require.NoError(t, err)
	assert.True(t, device.IsActive)

	err = reg.DeactivateDevice(ctx, "acct-1", "unknown-device")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestEntitiesToSyncDelta(t *testing.T) {
	reg, svc := setupRegistry(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Shots produced by the glasses; the phone wants its delta.
	applyShot(t, svc, "shot-1", "glasses-1", base)
	applyShot(t, svc, "shot-2", "glasses-1", base.Add(time.Minute))
	applyShot(t, svc, "shot-3", "glasses-1", base.Add(2*time.Minute))

	pending, err := reg.EntitiesToSync(ctx, "phone-1", "acct-1", models.EntityTypeShot, nil)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	// Newest first.
	assert.Equal(t, "shot-3", pending[0].EntityID)
	assert.Equal(t, "shot-1", pending[2].EntityID)

	// The phone acknowledges two of them.
	require.NoError(t, reg.LogSync(ctx, "phone-1", models.EntityTypeShot, "shot-1", models.DirectionFromCloud))
	require.NoError(t, reg.LogSync(ctx, "phone-1", models.EntityTypeShot, "shot-2", models.DirectionFromCloud))

	pending, err = reg.EntitiesToSync(ctx, "phone-1", "acct-1", models.EntityTypeShot, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "shot-3", pending[0].EntityID)

	// Another device's watermark is independent.
	other, err := reg.EntitiesToSync(ctx, "web-1", "acct-1", models.EntityTypeShot, nil)
	require.NoError(t, err)
	assert.Len(t, other, 3)
}

func TestEntitiesToSyncReappearsAfterNewerUpdate(t *testing.T) {
	reg, svc := setupRegistry(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	applyShot(t, svc, "shot-1", "glasses-1", base)
	require.NoError(t, reg.LogSync(ctx, "phone-1", models.EntityTypeShot, "shot-1", models.DirectionFromCloud))

	pending, err := reg.EntitiesToSync(ctx, "phone-1", "acct-1", models.EntityTypeShot, nil)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// The entity is updated after the phone's watermark: it must come back.
	_, err = svc.Apply(ctx, models.SyncRecord{
		EntityType: models.EntityTypeShot,
		EntityID:   "shot-1",
		Operation:  models.OperationUpdate,
		AccountID:  "acct-1",
		DeviceID:   "glasses-1",
		UpdatedAt:  time.Now().UTC().Add(time.Minute),
		Payload:    json.RawMessage(`{"distance":260}`),
	})
	require.NoError(t, err)

	pending, err = reg.EntitiesToSync(ctx, "phone-1", "acct-1", models.EntityTypeShot, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "shot-1", pending[0].EntityID)
}

func TestEntitiesToSyncSince(t *testing.T) {
	reg, svc := setupRegistry(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	applyShot(t, svc, "shot-old", "glasses-1", base)
	applyShot(t, svc, "shot-new", "glasses-1", base.Add(time.Hour))

	cutoff := base.Add(30 * time.Minute)
	pending, err := reg.EntitiesToSync(ctx, "phone-1", "acct-1", models.EntityTypeShot, &cutoff)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "shot-new", pending[0].EntityID)
}

func TestLogSyncIdempotent(t *testing.T) {
	reg, svc := setupRegistry(t)
	ctx := context.Background()

	applyShot(t, svc, "shot-1", "glasses-1", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		require.NoError(t, reg.LogSync(ctx, "phone-1", models.EntityTypeShot, "shot-1", models.DirectionFromCloud))
	}

	pending, err := reg.EntitiesToSync(ctx, "phone-1", "acct-1", models.EntityTypeShot, nil)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSyncStatus(t *testing.T) {
	reg, svc := setupRegistry(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	applyShot(t, svc, "shot-1", "glasses-1", base)
	applyShot(t, svc, "shot-2", "glasses-1", base.Add(time.Minute))
	_, err := svc.Apply(ctx, models.SyncRecord{
		EntityType: models.EntityTypeRound,
		EntityID:   "round-1",
		Operation:  models.OperationCreate,
		AccountID:  "acct-1",
		DeviceID:   "glasses-1",
		UpdatedAt:  base,
		Payload:    json.RawMessage(`{"courseName":"Pebble"}`),
	})
	require.NoError(t, err)

	require.NoError(t, reg.LogSync(ctx, "phone-1", models.EntityTypeShot, "shot-1", models.DirectionFromCloud))

	status, err := reg.SyncStatus(ctx, "phone-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalShots)
	assert.Equal(t, 1, status.SyncedShots)
	assert.Equal(t, 1, status.PendingShots)
	assert.Equal(t, 1, status.TotalRounds)
	assert.Equal(t, 0, status.SyncedRounds)
	assert.Equal(t, 1, status.PendingRounds)
}

func TestTouchLastSync(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	_, err := reg.RegisterDevice(ctx, "acct-1", "glasses-1", models.DeviceTypeARGlasses, "", "")
	require.NoError(t, err)

	require.NoError(t, reg.TouchLastSync(ctx, "acct-1", "glasses-1"))

	device, err := reg.GetDevice(ctx, "acct-1", "glasses-1")
	require.NoError(t, err)
	require.NotNil(t, device.LastSyncAt)
	assert.WithinDuration(t, time.Now(), *device.LastSyncAt, 5*time.Second)
}
