package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golfsync/internal/cloud"
	"golfsync/internal/constants"
	apperrors "golfsync/internal/errors"
	"golfsync/internal/metrics"
	"golfsync/internal/models"
	"golfsync/internal/notify"
	"golfsync/pkg/transport"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the cloud sync API: the apply endpoint devices push to,
// the device registry, delta queries, conflict inspection and the websocket
// notification hub.
type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	config   *CloudConfig
	apply    *cloud.ApplyService
	devices  *cloud.DeviceRegistry
	hub      *notify.Hub
	registry *metrics.Registry
	server   *http.Server
}

func NewServer(cfg *CloudConfig, apply *cloud.ApplyService, devices *cloud.DeviceRegistry, hub *notify.Hub, registry *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		config:   cfg,
		apply:    apply,
		devices:  devices,
		hub:      hub,
		registry: registry,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.hub.HandleWebSocket).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/sync", s.handleSync()).Methods(http.MethodPost)
	api.HandleFunc("/conflicts", s.handleConflicts()).Methods(http.MethodGet)

	api.HandleFunc("/devices", s.handleListDevices()).Methods(http.MethodGet)
	api.HandleFunc("/devices/register", s.handleRegisterDevice()).Methods(http.MethodPost)
	api.HandleFunc("/devices/{deviceId}", s.handleDeactivateDevice()).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{deviceId}/entities", s.handleDeviceEntities()).Methods(http.MethodGet)
	api.HandleFunc("/devices/{deviceId}/sync-log", s.handleSyncLog()).Methods(http.MethodPost)
	api.HandleFunc("/devices/{deviceId}/status", s.handleDeviceStatus()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting cloud server on %s", s.config.Address())
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware enforces the shared bearer token when one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token != s.config.AuthToken {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK")) //nolint:errcheck
	}
}

// handleSync is the idempotent apply endpoint. Records are resolved with
// last-write-wins, the pushing device's watermarks are advanced so its own
// writes never echo back, and other devices get a websocket nudge.
func (s *Server) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transport.SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.Records) == 0 {
			http.Error(w, "No records to apply", http.StatusBadRequest)
			return
		}
		if len(req.Records) > constants.MaxSyncBatchSize {
			http.Error(w, "Batch too large", http.StatusRequestEntityTooLarge)
			return
		}

		results, err := s.apply.ApplyBatch(r.Context(), req.Records)
		if err != nil && apperrors.IsRetryable(err) {
			// Transient failure: the client retries the whole batch, which is
			// safe because applies are idempotent.
			s.logger.WithError(err).Error("Failed to apply sync batch")
			s.writeError(w, err)
			return
		}
		if err != nil {
			s.logger.WithError(err).Warn("Batch contained rejected records")
		}

		s.settleBatch(r.Context(), req.Records, results)
		s.writeJSON(w, transport.SyncResponse{Results: results})
	}
}

// settleBatch advances sync watermarks and publishes notifications for the
// records that changed cloud state. Failures here are logged, not returned:
// the apply itself already committed and the pusher must see success.
func (s *Server) settleBatch(ctx context.Context, records []models.SyncRecord, results []models.ApplyResult) {
	applied := make(map[models.EntityType][]string)
	var accountID, deviceID string

	for i := range results {
		if i >= len(records) {
			break
		}
		rec := &records[i]
		result := &results[i]
		if result.Outcome == models.OutcomeRejected {
			continue
		}

		accountID, deviceID = rec.AccountID, rec.DeviceID
		if err := s.devices.LogSync(ctx, rec.DeviceID, rec.EntityType, rec.EntityID, models.DirectionToCloud); err != nil {
			s.logger.WithError(err).Warn("Failed to record sync watermark")
		}
		// The pusher already has this version. Advancing its FROM_CLOUD
		// watermark keeps its own write out of its next delta.
		if err := s.devices.LogSync(ctx, rec.DeviceID, rec.EntityType, rec.EntityID, models.DirectionFromCloud); err != nil {
			s.logger.WithError(err).Warn("Failed to advance pusher watermark")
		}
		if result.Outcome == models.OutcomeApplied || result.Outcome == models.OutcomeDeleted {
			applied[rec.EntityType] = append(applied[rec.EntityType], rec.EntityID)
		}
	}

	if deviceID != "" {
		if err := s.devices.TouchLastSync(ctx, accountID, deviceID); err != nil {
			s.logger.WithError(err).Warn("Failed to update device last sync time")
		}
	}

	for entityType, ids := range applied {
		s.hub.Publish(notify.Event{
			AccountID:  accountID,
			EntityType: entityType,
			EntityIDs:  ids,
			Timestamp:  time.Now().UTC(),
		})
	}
}

func (s *Server) handleRegisterDevice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.DeviceRecord
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.AccountID == "" || req.DeviceID == "" {
			http.Error(w, "accountId and deviceId are required", http.StatusBadRequest)
			return
		}

		device, err := s.devices.RegisterDevice(r.Context(), req.AccountID, req.DeviceID, req.DeviceType, req.DeviceName, req.Metadata)
		if err != nil {
			s.logger.WithError(err).Error("Failed to register device")
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, device)
	}
}

func (s *Server) handleListDevices() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			http.Error(w, "account_id is required", http.StatusBadRequest)
			return
		}

		devices, err := s.devices.Devices(r.Context(), accountID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to list devices")
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, map[string]interface{}{"devices": devices, "count": len(devices)})
	}
}

func (s *Server) handleDeactivateDevice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["deviceId"]
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			http.Error(w, "account_id is required", http.StatusBadRequest)
			return
		}

		if err := s.devices.DeactivateDevice(r.Context(), accountID, deviceID); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeviceEntities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["deviceId"]
		accountID := r.URL.Query().Get("account_id")
		entityType := models.EntityType(r.URL.Query().Get("entity_type"))
		if accountID == "" || !entityType.Valid() {
			http.Error(w, "account_id and a valid entity_type are required", http.StatusBadRequest)
			return
		}

		var since *time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				http.Error(w, "since must be RFC 3339", http.StatusBadRequest)
				return
			}
			since = &parsed
		}

		entities, err := s.devices.EntitiesToSync(r.Context(), deviceID, accountID, entityType, since)
		if err != nil {
			s.logger.WithError(err).Error("Failed to compute device delta")
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, transport.EntitiesResponse{Entities: entities})
	}
}

func (s *Server) handleSyncLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["deviceId"]

		var req transport.SyncLogRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !req.EntityType.Valid() || len(req.EntityIDs) == 0 {
			http.Error(w, "entity_type and entity_ids are required", http.StatusBadRequest)
			return
		}

		direction := models.SyncDirection(req.Direction)
		if direction != models.DirectionToCloud && direction != models.DirectionFromCloud {
			http.Error(w, "direction must be TO_CLOUD or FROM_CLOUD", http.StatusBadRequest)
			return
		}

		for _, entityID := range req.EntityIDs {
			if err := s.devices.LogSync(r.Context(), deviceID, req.EntityType, entityID, direction); err != nil {
				s.logger.WithError(err).Error("Failed to record sync log entry")
				s.writeError(w, err)
				return
			}
		}
		s.writeJSON(w, map[string]int{"logged": len(req.EntityIDs)})
	}
}

func (s *Server) handleDeviceStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["deviceId"]
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			http.Error(w, "account_id is required", http.StatusBadRequest)
			return
		}

		status, err := s.devices.SyncStatus(r.Context(), deviceID, accountID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to compute device sync status")
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, status)
	}
}

func (s *Server) handleConflicts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			http.Error(w, "account_id is required", http.StatusBadRequest)
			return
		}

		limit := queryInt(r, "limit", constants.DefaultConflictPageSize)
		offset := queryInt(r, "offset", 0)

		conflicts, err := s.apply.Conflicts(r.Context(), accountID, limit, offset)
		if err != nil {
			s.logger.WithError(err).Error("Failed to list conflicts")
			s.writeError(w, err)
			return
		}
		total, err := s.apply.ConflictCount(r.Context(), accountID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to count conflicts")
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, map[string]interface{}{
			"conflicts": conflicts,
			"total":     total,
			"limit":     limit,
			"offset":    offset,
		})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.registry.Snapshot()); err != nil {
			s.logger.WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeInvalidPayload, apperrors.ErrCodeDecryption:
		status = http.StatusBadRequest
	case apperrors.ErrCodeTransientStorage:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, http.StatusText(status), status)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
