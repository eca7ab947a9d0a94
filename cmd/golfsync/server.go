package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golfsync/internal/constants"
	"golfsync/internal/metrics"
	"golfsync/internal/queue"
	"golfsync/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the edge agent's operational surface: queue inspection,
// manual sync triggering, and network status hints from the host platform.
type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	store     *queue.Store
	scheduler *service.Scheduler
	registry  *metrics.Registry
	server    *http.Server
}

func NewServer(store *queue.Store, scheduler *service.Scheduler, registry *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		store:     store,
		scheduler: scheduler,
		registry:  registry,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	q := s.router.PathPrefix("/queue").Subrouter()
	q.HandleFunc("/status", s.handleQueueStatus()).Methods(http.MethodGet)
	q.HandleFunc("/failed", s.handleFailedItems()).Methods(http.MethodGet)
	q.HandleFunc("/failed", s.handleCleanupFailed()).Methods(http.MethodDelete)

	sync := s.router.PathPrefix("/sync").Subrouter()
	sync.HandleFunc("/now", s.handleSyncNow()).Methods(http.MethodPost)

	s.router.HandleFunc("/network/status", s.handleNetworkStatus()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	port := os.Getenv("GOLFSYNC_PORT")
	if port == "" {
		port = fmt.Sprintf("%d", constants.DefaultEdgePort)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting edge server on port %s", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK")) //nolint:errcheck
	}
}

func (s *Server) handleQueueStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.scheduler.GetQueueStatus(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Failed to read queue status")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, status)
	}
}

func (s *Server) handleFailedItems() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.store.FailedItems(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Failed to list failed queue items")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]interface{}{"items": items, "count": len(items)})
	}
}

func (s *Server) handleCleanupFailed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := s.store.CleanupFailed(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Failed to clean up failed queue items")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		s.logger.WithField("removed", removed).Info("Cleaned up failed queue items")
		s.writeJSON(w, map[string]int64{"removed": removed})
	}
}

func (s *Server) handleSyncNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.scheduler.SyncNow(r.Context())
		if err != nil {
			s.logger.WithError(err).Warn("Manual sync failed")
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.writeJSON(w, stats)
	}
}

// handleNetworkStatus lets the host platform report connectivity changes.
// Coming back online triggers an immediate drain.
func (s *Server) handleNetworkStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Online bool `json:"online"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		s.scheduler.SetOnlineStatus(body.Online)
		s.writeJSON(w, map[string]bool{"online": body.Online})
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
