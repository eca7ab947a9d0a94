package cloud

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golfsync/internal/envelope"
	apperrors "golfsync/internal/errors"
	"golfsync/internal/metrics"
	"golfsync/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ApplyService applies incoming mutations to the system of record,
// idempotently and with deterministic last-write-wins conflict resolution.
// Transport delivery is at-least-once, so re-applying the identical record
// any number of times converges to the same stored state.
type ApplyService struct {
	store    *Store
	env      *envelope.Service
	registry *metrics.Registry
	logger   *logrus.Logger
	tracer   oteltrace.Tracer
}

// NewApplyService creates the cloud apply service. env may be nil when
// clients send plaintext payloads.
func NewApplyService(store *Store, env *envelope.Service, registry *metrics.Registry, logger *logrus.Logger) *ApplyService {
	return &ApplyService{
		store:    store,
		env:      env,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("golfsync/cloud"),
	}
}

// ApplyBatch applies records one at a time. A permanent failure on one
// record does not abort the rest of the batch; the per-record results and
// the first error are both reported.
func (a *ApplyService) ApplyBatch(ctx context.Context, records []models.SyncRecord) ([]models.ApplyResult, error) {
	ctx, span := a.tracer.Start(ctx, "cloud.apply_batch",
		oteltrace.WithAttributes(attribute.Int("batch.size", len(records))))
	defer span.End()

	results := make([]models.ApplyResult, 0, len(records))
	var firstErr error

	for i := range records {
		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}

		result, err := a.Apply(ctx, records[i])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// Transient failures abort the batch so the client retries the
			// remainder; permanent ones are settled and skipped.
			if apperrors.IsRetryable(err) {
				break
			}
			results = append(results, models.ApplyResult{EntityID: records[i].EntityID, Outcome: models.OutcomeRejected})
			continue
		}
		results = append(results, *result)
	}

	return results, firstErr
}

// Apply applies one mutation. CREATE and UPDATE are a single upsert: the
// stored and incoming modification timestamps decide the winner, and a
// losing write from a different device is recorded as a SyncConflict.
// DELETE is idempotent. The compare-and-write runs inside one immediate
// transaction so concurrent applies cannot lose an update.
func (a *ApplyService) Apply(ctx context.Context, rec models.SyncRecord) (*models.ApplyResult, error) {
	ctx, span := a.tracer.Start(ctx, "cloud.apply",
		oteltrace.WithAttributes(
			attribute.String("entity.type", string(rec.EntityType)),
			attribute.String("entity.id", rec.EntityID),
			attribute.String("operation", string(rec.Operation)),
		))
	defer span.End()

	if err := validateRecord(&rec); err != nil {
		return nil, err
	}

	payload, err := a.decodePayload(&rec)
	if err != nil {
		return nil, err
	}

	tx, err := a.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("begin apply", err)
	}
	defer func() { _ = tx.Rollback() }()

	var result *models.ApplyResult
	switch rec.Operation {
	case models.OperationDelete:
		result, err = a.applyDelete(ctx, tx, &rec)
	default:
		result, err = a.applyUpsert(ctx, tx, &rec, payload)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewTransientStorageError("commit apply", err)
	}

	a.count(result)
	return result, nil
}

func (a *ApplyService) applyDelete(ctx context.Context, tx *sql.Tx, rec *models.SyncRecord) (*models.ApplyResult, error) {
	res, err := tx.ExecContext(ctx, deleteEntityQuery, rec.EntityType, rec.EntityID)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("delete entity", err)
	}

	affected, _ := res.RowsAffected()
	outcome := models.OutcomeDeleted
	if affected == 0 {
		// Deleting an absent entity is a success, not an error.
		outcome = models.OutcomeNoop
	}
	return &models.ApplyResult{EntityID: rec.EntityID, Outcome: outcome}, nil
}

func (a *ApplyService) applyUpsert(ctx context.Context, tx *sql.Tx, rec *models.SyncRecord, payload []byte) (*models.ApplyResult, error) {
	incomingAt := rec.UpdatedAt.UTC()

	var storedDevice, storedPayload string
	var storedAt time.Time
	err := tx.QueryRowContext(ctx, selectEntityForUpdateQuery, rec.EntityType, rec.EntityID).
		Scan(&storedDevice, &storedPayload, &storedAt)

	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, insertEntityQuery,
			rec.EntityType, rec.EntityID, rec.AccountID, rec.DeviceID, string(payload), incomingAt,
		); err != nil {
			return nil, apperrors.NewTransientStorageError("insert entity", err)
		}
		return &models.ApplyResult{EntityID: rec.EntityID, Outcome: models.OutcomeApplied}, nil
	}
	if err != nil {
		return nil, apperrors.NewTransientStorageError("read entity", err)
	}
	storedAt = storedAt.UTC()

	sameDevice := storedDevice == rec.DeviceID

	if incomingAt.After(storedAt) {
		// Incoming write wins: forward progress. A conflict is only recorded
		// when the overwritten version came from a different device.
		if _, err := tx.ExecContext(ctx, updateEntityQuery,
			rec.AccountID, rec.DeviceID, string(payload), incomingAt, rec.EntityType, rec.EntityID,
		); err != nil {
			return nil, apperrors.NewTransientStorageError("update entity", err)
		}

		conflict := false
		if !sameDevice {
			conflict = true
			winner := models.ConflictVersion{DeviceID: rec.DeviceID, UpdatedAt: incomingAt, Payload: json.RawMessage(payload)}
			loser := models.ConflictVersion{DeviceID: storedDevice, UpdatedAt: storedAt, Payload: json.RawMessage(storedPayload)}
			if err := a.logConflict(ctx, tx, rec, winner, loser); err != nil {
				return nil, err
			}
		}
		return &models.ApplyResult{EntityID: rec.EntityID, Outcome: models.OutcomeApplied, Conflict: conflict}, nil
	}

	if sameDevice {
		// Older-or-equal from the same writer is a re-delivery of history the
		// store already has. At-least-once transport makes this routine.
		return &models.ApplyResult{EntityID: rec.EntityID, Outcome: models.OutcomeNoop}, nil
	}

	// Stored version wins: discard the incoming write but log the decision.
	// This is still a successful apply; the client must not retry.
	winner := models.ConflictVersion{DeviceID: storedDevice, UpdatedAt: storedAt, Payload: json.RawMessage(storedPayload)}
	loser := models.ConflictVersion{DeviceID: rec.DeviceID, UpdatedAt: incomingAt, Payload: json.RawMessage(payload)}
	if err := a.logConflict(ctx, tx, rec, winner, loser); err != nil {
		return nil, err
	}
	return &models.ApplyResult{EntityID: rec.EntityID, Outcome: models.OutcomeDiscarded, Conflict: true}, nil
}

// logConflict appends one SyncConflict row inside the apply transaction.
// The unique key on (entity, losing device, losing timestamp) makes the
// insert idempotent under re-delivery.
func (a *ApplyService) logConflict(ctx context.Context, tx *sql.Tx, rec *models.SyncRecord, winner, loser models.ConflictVersion) error {
	data, err := json.Marshal(models.ConflictData{Winner: winner, Loser: loser})
	if err != nil {
		return apperrors.NewInvalidPayloadError(string(rec.EntityType), rec.EntityID, err)
	}

	_, err = tx.ExecContext(ctx, insertConflictQuery,
		uuid.NewString(), rec.AccountID, rec.EntityType, rec.EntityID,
		models.ResolutionLastWriteWins, string(data),
		loser.DeviceID, loser.UpdatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return apperrors.NewTransientStorageError("log conflict", err)
	}

	a.logger.WithFields(logrus.Fields{
		"entityType":   rec.EntityType,
		"entityId":     rec.EntityID,
		"winnerDevice": winner.DeviceID,
		"loserDevice":  loser.DeviceID,
	}).Info("Resolved sync conflict with last-write-wins")

	return nil
}

// Conflicts returns the account's conflict log, newest first.
func (a *ApplyService) Conflicts(ctx context.Context, accountID string, limit, offset int) ([]models.SyncConflict, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := a.store.db.QueryContext(ctx, selectConflictsByAccountQuery, accountID, limit, offset)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("query conflicts", err)
	}
	defer func() { _ = rows.Close() }()

	var conflicts []models.SyncConflict
	for rows.Next() {
		var c models.SyncConflict
		if err := rows.Scan(&c.ID, &c.AccountID, &c.EntityType, &c.EntityID,
			&c.ResolutionStrategy, &c.ConflictData, &c.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		c.ResolvedAt = c.ResolvedAt.UTC()
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// ConflictCount returns the total number of logged conflicts for an account.
func (a *ApplyService) ConflictCount(ctx context.Context, accountID string) (int, error) {
	var count int
	if err := a.store.db.QueryRowContext(ctx, countConflictsQuery, accountID).Scan(&count); err != nil {
		return 0, apperrors.NewTransientStorageError("count conflicts", err)
	}
	return count, nil
}

// decodePayload extracts the plaintext payload, unwrapping the encryption
// envelope when present, and verifies CREATE/UPDATE payloads are valid JSON.
func (a *ApplyService) decodePayload(rec *models.SyncRecord) ([]byte, error) {
	var payload []byte

	if rec.Envelope != nil && rec.Envelope.Encrypted {
		plain, err := a.env.Unwrap(rec.Envelope)
		if err != nil {
			return nil, apperrors.NewDecryptionError(err)
		}
		payload = plain
	} else {
		payload = rec.Payload
	}

	if rec.Operation == models.OperationDelete {
		return nil, nil
	}

	if len(payload) == 0 || !json.Valid(payload) {
		return nil, apperrors.NewInvalidPayloadError(string(rec.EntityType), rec.EntityID,
			fmt.Errorf("payload is empty or not valid JSON"))
	}
	return payload, nil
}

func validateRecord(rec *models.SyncRecord) error {
	if !rec.EntityType.Valid() {
		return apperrors.NewInvalidPayloadError(string(rec.EntityType), rec.EntityID,
			fmt.Errorf("unknown entity type %q", rec.EntityType))
	}
	if !rec.Operation.Valid() {
		return apperrors.NewInvalidPayloadError(string(rec.EntityType), rec.EntityID,
			fmt.Errorf("unknown operation %q", rec.Operation))
	}
	if rec.EntityID == "" || rec.AccountID == "" || rec.DeviceID == "" {
		return apperrors.NewInvalidPayloadError(string(rec.EntityType), rec.EntityID,
			fmt.Errorf("missing entity, account or device id"))
	}
	if rec.Operation != models.OperationDelete && rec.UpdatedAt.IsZero() {
		return apperrors.NewInvalidPayloadError(string(rec.EntityType), rec.EntityID,
			fmt.Errorf("missing modification timestamp"))
	}
	return nil
}

func (a *ApplyService) count(result *models.ApplyResult) {
	if a.registry == nil {
		return
	}
	a.registry.IncrementCounter("golfsync_apply_total", map[string]string{"outcome": string(result.Outcome)}, "")
	if result.Conflict {
		a.registry.IncrementCounter("golfsync_conflicts_total", nil, "")
	}
}
