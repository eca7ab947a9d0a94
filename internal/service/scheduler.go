package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "golfsync/internal/errors"
	"golfsync/internal/metrics"
	"golfsync/internal/models"
	"golfsync/internal/queue"
	"golfsync/internal/retry"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TransmitFunc performs the actual network transmission of one queue item.
// A nil return acknowledges the item; a retryable error schedules another
// attempt with backoff; a permanent error (invalid payload, decryption)
// moves the item straight to the terminal failed state.
type TransmitFunc func(ctx context.Context, item models.QueueItem) error

// SchedulerConfig tunes the background drain loop.
type SchedulerConfig struct {
	Interval        time.Duration
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	TransmitTimeout time.Duration
}

// Scheduler drains the durable queue in the background, adapting to network
// availability. The periodic loop, the network-restoration pass and manual
// SyncNow calls all serialize on one drain mutex so an item can never be
// in flight twice.
type Scheduler struct {
	store        *queue.Store
	config       SchedulerConfig
	networkCheck func() bool
	logger       *logrus.Logger
	registry     *metrics.Registry
	tracer       oteltrace.Tracer

	mu         sync.RWMutex
	running    bool
	online     bool
	callback   TransmitFunc
	batchSize  int
	lastSyncAt *time.Time

	drainMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a sync scheduler. networkCheck is optional: when nil,
// online status is controlled solely through SetOnlineStatus.
func NewScheduler(store *queue.Store, config SchedulerConfig, networkCheck func() bool, registry *metrics.Registry, logger *logrus.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}
	if config.TransmitTimeout <= 0 {
		config.TransmitTimeout = 30 * time.Second
	}

	return &Scheduler{
		store:        store,
		config:       config,
		networkCheck: networkCheck,
		registry:     registry,
		logger:       logger,
		tracer:       otel.Tracer("golfsync/scheduler"),
	}
}

// Start begins the background drain loop. Transitions STOPPED to RUNNING;
// starting twice is an error.
func (s *Scheduler) Start(ctx context.Context, callback TransmitFunc, batchSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sync scheduler is already running")
	}
	if callback == nil {
		return fmt.Errorf("sync callback is required")
	}
	if batchSize <= 0 {
		batchSize = 10
	}

	s.callback = callback
	s.batchSize = batchSize
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.drainLoop()

	s.logger.WithFields(logrus.Fields{
		"interval":  s.config.Interval,
		"batchSize": batchSize,
	}).Info("Sync scheduler started")

	return nil
}

// Stop transitions RUNNING to STOPPED and blocks until the loop goroutine
// has fully exited. An in-flight drain pass finishes its current item and
// abandons the rest.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Stopping sync scheduler...")
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("Sync scheduler stopped")
}

// IsRunning returns whether the background loop is currently active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// IsOnline returns the cached network status, refreshed through the
// injected network check when one is configured.
func (s *Scheduler) IsOnline() bool {
	if s.networkCheck != nil {
		online := s.networkCheck()
		s.mu.Lock()
		s.online = online
		s.mu.Unlock()
		return online
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// SetOnlineStatus manually sets network availability. An offline-to-online
// transition while the loop is running triggers one immediate synchronous
// drain pass so queued items propagate without waiting for the next tick.
func (s *Scheduler) SetOnlineStatus(online bool) {
	s.mu.Lock()
	wasOffline := !s.online
	s.online = online
	running := s.running
	hasCallback := s.callback != nil
	s.mu.Unlock()

	s.logger.WithField("online", online).Info("Network status changed")

	if wasOffline && online && running && hasCallback {
		s.logger.Info("Network restored, triggering immediate sync")
		stats := s.drain(s.ctx)
		s.logDrain("restore sync", stats)
	}
}

// SyncNow performs one immediate synchronous drain pass, independent of the
// background loop.
func (s *Scheduler) SyncNow(ctx context.Context) (models.SyncStats, error) {
	s.mu.RLock()
	hasCallback := s.callback != nil
	s.mu.RUnlock()

	if !hasCallback {
		return models.SyncStats{}, fmt.Errorf("no sync callback configured")
	}

	stats := s.drain(ctx)
	s.logDrain("manual sync", stats)
	return stats, nil
}

// GetQueueStatus reports pending/failed counts and the time of the last
// drain pass that transmitted anything.
func (s *Scheduler) GetQueueStatus(ctx context.Context) (*models.QueueStatus, error) {
	pending, failed, err := s.store.Status(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	lastSyncAt := s.lastSyncAt
	s.mu.RUnlock()

	return &models.QueueStatus{
		Pending:    pending,
		Failed:     failed,
		LastSyncAt: lastSyncAt,
	}, nil
}

func (s *Scheduler) drainLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			stats := s.drain(s.ctx)
			s.logDrain("background sync", stats)
		}
	}
}

// drain performs one pass over the pending queue. Serialized: concurrent
// drains could double-send an item or race on its retry counter.
func (s *Scheduler) drain(ctx context.Context) models.SyncStats {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	var stats models.SyncStats

	if ctx == nil || ctx.Err() != nil {
		return stats
	}
	if !s.IsOnline() {
		s.logger.Debug("Network unavailable, skipping sync pass")
		return stats
	}

	s.mu.RLock()
	callback := s.callback
	batchSize := s.batchSize
	s.mu.RUnlock()
	if batchSize <= 0 {
		batchSize = 10
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.drain")
	defer span.End()

	items, err := s.store.DequeueBatch(ctx, batchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to dequeue sync batch")
		return stats
	}
	span.SetAttributes(attribute.Int("batch.size", len(items)))

	now := time.Now()
	for i := range items {
		if ctx.Err() != nil {
			// Cooperative cancellation: remaining items stay pending and are
			// picked up by the next pass.
			break
		}

		item := items[i]
		if !s.eligible(&item, now) {
			stats.Skipped++
			continue
		}

		if s.transmit(ctx, callback, item) {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}

	if stats.Succeeded > 0 || stats.Failed > 0 {
		completed := time.Now().UTC()
		s.mu.Lock()
		s.lastSyncAt = &completed
		s.mu.Unlock()
	}

	return stats
}

// eligible applies the backoff policy: an item that failed before may not be
// re-attempted until lastRetryAt + min(baseDelay * 2^(retryCount-1), maxDelay).
func (s *Scheduler) eligible(item *models.QueueItem, now time.Time) bool {
	if item.RetryCount == 0 || item.LastRetryAt == nil {
		return true
	}
	delay := retry.DelayForRetry(s.config.BaseDelay, s.config.MaxDelay, item.RetryCount-1)
	return now.Sub(*item.LastRetryAt) >= delay
}

// transmit sends one item and settles its queue state from the result.
func (s *Scheduler) transmit(ctx context.Context, callback TransmitFunc, item models.QueueItem) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, s.config.TransmitTimeout)
	err := callback(attemptCtx, item)
	cancel()

	fields := logrus.Fields{
		"queueId":    item.ID,
		"entityType": item.EntityType,
		"entityId":   item.EntityID,
		"operation":  item.Operation,
	}

	if err == nil {
		if markErr := s.store.MarkSucceeded(ctx, item.ID); markErr != nil {
			s.logger.WithError(markErr).WithFields(fields).Error("Failed to remove synced item from queue")
		}
		s.count("golfsync_sync_succeeded", string(item.EntityType))
		s.logger.WithFields(fields).Info("Synced item")
		return true
	}

	if isPermanent(err) {
		if markErr := s.store.MarkFailedTerminal(ctx, item.ID); markErr != nil {
			s.logger.WithError(markErr).WithFields(fields).Error("Failed to mark item terminally failed")
		}
		s.count("golfsync_sync_permanent_failures", string(item.EntityType))
		s.logger.WithError(err).WithFields(fields).Error("Permanent sync failure, item moved to failed set")
		return false
	}

	terminal, markErr := s.store.MarkFailed(ctx, item.ID)
	if markErr != nil {
		s.logger.WithError(markErr).WithFields(fields).Error("Failed to record sync attempt")
		return false
	}

	s.count("golfsync_sync_failed_attempts", string(item.EntityType))
	if terminal {
		s.logger.WithError(err).WithFields(fields).WithField("retries", s.store.MaxRetries()).
			Error("Item exhausted retries, moved to failed set")
	} else {
		s.logger.WithError(err).WithFields(fields).WithField("retryCount", item.RetryCount+1).
			Warn("Sync attempt failed, will retry with backoff")
	}
	return false
}

func (s *Scheduler) logDrain(pass string, stats models.SyncStats) {
	if stats.Succeeded == 0 && stats.Failed == 0 && stats.Skipped == 0 {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
	}).Infof("%s completed", pass)
}

func (s *Scheduler) count(name, entityType string) {
	if s.registry == nil {
		return
	}
	s.registry.IncrementCounter(name, map[string]string{"entity_type": entityType}, "")
}

// isPermanent reports whether a transmission error can never succeed on
// retry. Unknown error types default to retryable so flaky transports get
// their full backoff budget.
func isPermanent(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidPayload, apperrors.ErrCodeDecryption:
		return true
	}
	return false
}
