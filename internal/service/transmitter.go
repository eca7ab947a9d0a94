package service

import (
	"context"
	"encoding/json"

	"golfsync/internal/envelope"
	apperrors "golfsync/internal/errors"
	"golfsync/internal/models"
	"golfsync/internal/queue"
	"golfsync/pkg/transport"

	"github.com/sirupsen/logrus"
)

// Transmitter turns queued local mutations into sync records and pushes them
// to the cloud apply endpoint. It implements TransmitFunc.
type Transmitter struct {
	store  *queue.Store
	client transport.Client
	env    *envelope.Service
	device models.DeviceConfig
	logger *logrus.Logger
}

func NewTransmitter(store *queue.Store, client transport.Client, env *envelope.Service, device models.DeviceConfig, logger *logrus.Logger) *Transmitter {
	return &Transmitter{
		store:  store,
		client: client,
		env:    env,
		device: device,
		logger: logger,
	}
}

// Transmit pushes one queue item to the cloud. A nil return means the cloud
// acknowledged the record; classified errors tell the scheduler whether the
// item is worth retrying.
func (t *Transmitter) Transmit(ctx context.Context, item models.QueueItem) error {
	record, err := t.buildRecord(&item)
	if err != nil {
		return err
	}

	results, err := t.client.PushRecords(ctx, []models.SyncRecord{*record})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Outcome == models.OutcomeRejected {
			return apperrors.NewInvalidPayloadError(string(item.EntityType), item.EntityID, nil)
		}
		t.logger.WithFields(logrus.Fields{
			"entityType": item.EntityType,
			"entityId":   result.EntityID,
			"outcome":    result.Outcome,
			"conflict":   result.Conflict,
		}).Debug("Cloud acknowledged sync record")
	}

	return nil
}

// buildRecord decodes the item's stored payload and reassembles the wire
// record. When encryption is enabled the payload travels inside an envelope
// and the cloud stores it without ever seeing plaintext keys on disk here.
func (t *Transmitter) buildRecord(item *models.QueueItem) (*models.SyncRecord, error) {
	record := &models.SyncRecord{
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Operation:  item.Operation,
		AccountID:  t.device.AccountID,
		DeviceID:   t.device.DeviceID,
		UpdatedAt:  item.CreatedAt.UTC(),
	}

	if item.Operation == models.OperationDelete {
		return record, nil
	}

	plain, err := t.store.DecodePayload(item)
	if err != nil {
		return nil, err
	}

	if t.env.Enabled() {
		env, err := t.env.Wrap(plain)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to wrap payload for transit")
		}
		record.Envelope = env
		return record, nil
	}

	if !json.Valid(plain) {
		return nil, apperrors.NewInvalidPayloadError(string(item.EntityType), item.EntityID, nil)
	}
	record.Payload = json.RawMessage(plain)
	return record, nil
}
