package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golfsync/internal/envelope"
	apperrors "golfsync/internal/errors"
	"golfsync/internal/metrics"
	"golfsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupApplyService(t *testing.T, env *envelope.Service) (*ApplyService, *Store) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "cloud.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return NewApplyService(store, env, metrics.NewRegistry(), logger), store
}

func shotRecord(deviceID string, updatedAt time.Time, payload string) models.SyncRecord {
	return models.SyncRecord{
		EntityType: models.EntityTypeShot,
		EntityID:   "shot-1",
		Operation:  models.OperationUpdate,
		AccountID:  "acct-1",
		DeviceID:   deviceID,
		UpdatedAt:  updatedAt,
		Payload:    json.RawMessage(payload),
	}
}

func TestApplyCreatesEntity(t *testing.T) {
	svc, store := setupApplyService(t, nil)
	ctx := context.Background()

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	result, err := svc.Apply(ctx, shotRecord("glasses-1", at, `{"distance":200}`))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.False(t, result.Conflict)

	entity, err := store.GetEntity(ctx, models.EntityTypeShot, "shot-1")
	require.NoError(t, err)
	require.NotNil(t, entity)
	assert.Equal(t, "glasses-1", entity.DeviceID)
	assert.JSONEq(t, `{"distance":200}`, entity.Payload)
	assert.True(t, entity.UpdatedAt.Equal(at))
}

func TestApplyFullShotDocument(t *testing.T) {
	svc, store := setupApplyService(t, nil)
	ctx := context.Background()

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	shot := models.Shot{
		ID:         "shot-1",
		RoundID:    "round-1",
		HoleNumber: 7,
		SwingNum:   2,
		ClubType:   models.ClubIron7,
		GPSOrigin:  &models.GPSPosition{Latitude: 36.5674, Longitude: -121.9500, Accuracy: 3.2},
		Distance:   152.4,
		Timestamp:  at,
		UpdatedAt:  at,
	}
	payload, err := json.Marshal(shot)
	require.NoError(t, err)

	rec := shotRecord("glasses-1", at, string(payload))
	result, err := svc.Apply(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)

	entity, err := store.GetEntity(ctx, models.EntityTypeShot, "shot-1")
	require.NoError(t, err)

	var got models.Shot
	require.NoError(t, json.Unmarshal([]byte(entity.Payload), &got))
	assert.Equal(t, models.ClubIron7, got.ClubType)
	assert.Equal(t, 7, got.HoleNumber)
	require.NotNil(t, got.GPSOrigin)
	assert.InDelta(t, 36.5674, got.GPSOrigin.Latitude, 1e-9)
}

func TestApplyIsIdempotent(t *testing.T) {
	svc, _ := setupApplyService(t, nil)
	ctx := context.Background()

	rec := shotRecord("glasses-1", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), `{"distance":200}`)

	first, err := svc.Apply(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, first.Outcome)

	// At-least-once delivery: the identical record arrives again.
	second, err := svc.Apply(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoop, second.Outcome)
	assert.False(t, second.Conflict)

	count, err := svc.ConflictCount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, count, "re-delivery must not log a conflict")
}

func TestSameDeviceSequentialUpdatesNoConflict(t *testing.T) {
	svc, store := setupApplyService(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	result, err := svc.Apply(ctx, shotRecord("glasses-1", base, `{"distance":200}`))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)

	// Same device corrects its own measurement ten seconds later.
	result, err = svc.Apply(ctx, shotRecord("glasses-1", base.Add(10*time.Second), `{"distance":250}`))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.False(t, result.Conflict)

	entity, err := store.GetEntity(ctx, models.EntityTypeShot, "shot-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"distance":250}`, entity.Payload)

	count, err := svc.ConflictCount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, count, "a device overwriting its own older write is not a conflict")
}

func TestCrossDeviceConflictDeterministicEitherOrder(t *testing.T) {
	older := shotRecord("glasses-1", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), `{"distance":200}`)
	newer := shotRecord("phone-1", time.Date(2026, 3, 14, 10, 0, 5, 0, time.UTC), `{"distance":250}`)

	orders := map[string][2]models.SyncRecord{
		"older first": {older, newer},
		"newer first": {newer, older},
	}

	for name, records := range orders {
		t.Run(name, func(t *testing.T) {
			svc, store := setupApplyService(t, nil)
			ctx := context.Background()

			_, err := svc.Apply(ctx, records[0])
			require.NoError(t, err)
			_, err = svc.Apply(ctx, records[1])
			require.NoError(t, err)

			// Either arrival order converges on the newer write.
			entity, err := store.GetEntity(ctx, models.EntityTypeShot, "shot-1")
			require.NoError(t, err)
			assert.Equal(t, "phone-1", entity.DeviceID)
			assert.JSONEq(t, `{"distance":250}`, entity.Payload)

			// And exactly one conflict is logged, with the same loser.
			conflicts, err := svc.Conflicts(ctx, "acct-1", 10, 0)
			require.NoError(t, err)
			require.Len(t, conflicts, 1)
			assert.Equal(t, models.ResolutionLastWriteWins, conflicts[0].ResolutionStrategy)

			var data models.ConflictData
			require.NoError(t, json.Unmarshal([]byte(conflicts[0].ConflictData), &data))
			assert.Equal(t, "phone-1", data.Winner.DeviceID)
			assert.Equal(t, "glasses-1", data.Loser.DeviceID)
		})
	}
}

func TestConflictLogIdempotentUnderRedelivery(t *testing.T) {
	svc, _ := setupApplyService(t, nil)
	ctx := context.Background()

	newer := shotRecord("phone-1", time.Date(2026, 3, 14, 10, 0, 5, 0, time.UTC), `{"distance":250}`)
	older := shotRecord("glasses-1", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), `{"distance":200}`)

	_, err := svc.Apply(ctx, newer)
	require.NoError(t, err)

	// The losing write is delivered three times.
	for i := 0; i < 3; i++ {
		result, err := svc.Apply(ctx, older)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeDiscarded, result.Outcome)
		assert.True(t, result.Conflict)
	}

	count, err := svc.ConflictCount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-delivered losing write must not duplicate the conflict row")
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc, store := setupApplyService(t, nil)
	ctx := context.Background()

	_, err := svc.Apply(ctx, shotRecord("glasses-1", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), `{"distance":200}`))
	require.NoError(t, err)

	del := models.SyncRecord{
		EntityType: models.EntityTypeShot,
		EntityID:   "shot-1",
		Operation:  models.OperationDelete,
		AccountID:  "acct-1",
		DeviceID:   "glasses-1",
	}

	result, err := svc.Apply(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeleted, result.Outcome)

	entity, err := store.GetEntity(ctx, models.EntityTypeShot, "shot-1")
	require.NoError(t, err)
	assert.Nil(t, entity)

	// Deleting again is a successful no-op, not an error.
	result, err = svc.Apply(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoop, result.Outcome)
}

func TestApplyRejectsInvalidRecords(t *testing.T) {
	svc, _ := setupApplyService(t, nil)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  models.SyncRecord
	}{
		{"unknown entity type", models.SyncRecord{EntityType: "CLUB", EntityID: "x", Operation: models.OperationCreate, AccountID: "a", DeviceID: "d", UpdatedAt: at, Payload: json.RawMessage(`{}`)}},
		{"unknown operation", models.SyncRecord{EntityType: models.EntityTypeShot, EntityID: "x", Operation: "UPSERT", AccountID: "a", DeviceID: "d", UpdatedAt: at, Payload: json.RawMessage(`{}`)}},
		{"missing device id", models.SyncRecord{EntityType: models.EntityTypeShot, EntityID: "x", Operation: models.OperationCreate, AccountID: "a", UpdatedAt: at, Payload: json.RawMessage(`{}`)}},
		{"missing timestamp", models.SyncRecord{EntityType: models.EntityTypeShot, EntityID: "x", Operation: models.OperationCreate, AccountID: "a", DeviceID: "d", Payload: json.RawMessage(`{}`)}},
		{"malformed payload", shotRecord("d", at, `{"distance":`)},
		{"empty payload", shotRecord("d", at, ``)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Apply(ctx, tt.rec)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeInvalidPayload, apperrors.GetCode(err))
			assert.False(t, apperrors.IsRetryable(err))
		})
	}
}

func TestApplyBatchSettlesPermanentFailures(t *testing.T) {
	svc, store := setupApplyService(t, nil)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	records := []models.SyncRecord{
		shotRecord("glasses-1", at, `{"distance":200}`),
		shotRecord("glasses-1", at, `{"distance":`), // malformed, same id is fine
		{
			EntityType: models.EntityTypeRound,
			EntityID:   "round-1",
			Operation:  models.OperationCreate,
			AccountID:  "acct-1",
			DeviceID:   "glasses-1",
			UpdatedAt:  at,
			Payload:    json.RawMessage(`{"courseName":"Pebble"}`),
		},
	}

	results, err := svc.ApplyBatch(ctx, records)
	require.Error(t, err, "the first permanent failure is reported")
	assert.False(t, apperrors.IsRetryable(err))

	require.Len(t, results, 3)
	assert.Equal(t, models.OutcomeApplied, results[0].Outcome)
	assert.Equal(t, models.OutcomeRejected, results[1].Outcome)
	assert.Equal(t, models.OutcomeApplied, results[2].Outcome, "a bad record must not block the rest of the batch")

	round, err := store.GetEntity(ctx, models.EntityTypeRound, "round-1")
	require.NoError(t, err)
	require.NotNil(t, round)
}

func TestApplyEncryptedEnvelope(t *testing.T) {
	env, err := envelope.NewServiceFromSecret("test-encryption-secret-32-chars-long!")
	require.NoError(t, err)
	svc, store := setupApplyService(t, env)
	ctx := context.Background()

	wrapped, err := env.Wrap([]byte(`{"distance":275}`))
	require.NoError(t, err)

	rec := shotRecord("glasses-1", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), ``)
	rec.Payload = nil
	rec.Envelope = wrapped

	result, err := svc.Apply(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)

	entity, err := store.GetEntity(ctx, models.EntityTypeShot, "shot-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"distance":275}`, entity.Payload)
}

func TestApplyEncryptedEnvelopeWrongKey(t *testing.T) {
	otherEnv, err := envelope.NewServiceFromSecret("another-encryption-secret-32-chars!!")
	require.NoError(t, err)
	wrapped, err := otherEnv.Wrap([]byte(`{"distance":275}`))
	require.NoError(t, err)

	env, err := envelope.NewServiceFromSecret("test-encryption-secret-32-chars-long!")
	require.NoError(t, err)
	svc, _ := setupApplyService(t, env)

	rec := shotRecord("glasses-1", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), ``)
	rec.Payload = nil
	rec.Envelope = wrapped

	_, err = svc.Apply(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDecryption, apperrors.GetCode(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestConflictsPagination(t *testing.T) {
	svc, _ := setupApplyService(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Three distinct entities, each with a cross-device losing write.
	for _, id := range []string{"shot-a", "shot-b", "shot-c"} {
		winner := shotRecord("phone-1", base.Add(time.Minute), `{"distance":250}`)
		winner.EntityID = id
		loser := shotRecord("glasses-1", base, `{"distance":200}`)
		loser.EntityID = id

		_, err := svc.Apply(ctx, winner)
		require.NoError(t, err)
		_, err = svc.Apply(ctx, loser)
		require.NoError(t, err)
	}

	total, err := svc.ConflictCount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	page, err := svc.Conflicts(ctx, "acct-1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := svc.Conflicts(ctx, "acct-1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none, err := svc.Conflicts(ctx, "other-acct", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// Concurrent writers on the same entity must converge on the newest version
// with exactly one conflict per losing device. The read-compare-write runs
// inside an immediate transaction, so no interleaving can lose an update.
func TestApplyConcurrentWritersConverge(t *testing.T) {
	svc, store := setupApplyService(t, nil)
	ctx := context.Background()

	const writers = 8
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	applyErrs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := models.SyncRecord{
				EntityType: models.EntityTypeShot,
				EntityID:   "shot-1",
				Operation:  models.OperationUpdate,
				AccountID:  "acct-1",
				DeviceID:   fmt.Sprintf("device-%d", i),
				UpdatedAt:  base.Add(time.Duration(i) * time.Second),
				Payload:    json.RawMessage(fmt.Sprintf(`{"distance":%d}`, 100+i)),
			}
			for {
				_, err := svc.Apply(ctx, rec)
				if err == nil || !apperrors.IsRetryable(err) {
					applyErrs[i] = err
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i, err := range applyErrs {
		require.NoError(t, err, "writer %d", i)
	}

	entity, err := store.GetEntity(ctx, models.EntityTypeShot, "shot-1")
	require.NoError(t, err)
	require.NotNil(t, entity)
	assert.Equal(t, fmt.Sprintf("device-%d", writers-1), entity.DeviceID)
	assert.True(t, entity.UpdatedAt.Equal(base.Add((writers-1)*time.Second)))
	assert.JSONEq(t, fmt.Sprintf(`{"distance":%d}`, 100+writers-1), entity.Payload)

	count, err := svc.ConflictCount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, writers-1, count)
}
