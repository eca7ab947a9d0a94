package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golfsync/internal/cloud"
	"golfsync/internal/envelope"
	"golfsync/internal/metrics"
	"golfsync/internal/notify"
	"golfsync/internal/tracing"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// CloudConfig is the cloud service configuration. Unlike the edge agent,
// which reads a JSON config file shipped with the device image, the cloud
// service is configured entirely through the environment.
type CloudConfig struct {
	Host            string        `envconfig:"GOLFSYNC_CLOUD_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"GOLFSYNC_CLOUD_PORT" default:"8094"`
	DatabasePath    string        `envconfig:"GOLFSYNC_CLOUD_DB_PATH" default:"./data/golfsync.db"`
	AuthToken       string        `envconfig:"GOLFSYNC_AUTH_TOKEN" default:""`
	LogLevel        string        `envconfig:"GOLFSYNC_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"GOLFSYNC_SHUTDOWN_TIMEOUT" default:"30s"`

	EncryptionEnabled bool `envconfig:"GOLFSYNC_ENABLE_ENCRYPTION" default:"false"`

	TracingEnabled bool    `envconfig:"GOLFSYNC_TRACING_ENABLED" default:"false"`
	TracingStdout  bool    `envconfig:"GOLFSYNC_TRACING_STDOUT" default:"false"`
	OTLPEndpoint   string  `envconfig:"GOLFSYNC_OTLP_ENDPOINT" default:""`
	SampleRate     float64 `envconfig:"GOLFSYNC_TRACE_SAMPLE_RATE" default:"1.0"`
	Environment    string  `envconfig:"GOLFSYNC_ENVIRONMENT" default:"development"`
}

func (c *CloudConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	var cfg CloudConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting golfsync cloud service")

	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    "golfsync-cloud",
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.SampleRate,
		Enabled:        cfg.TracingEnabled,
		UseStdout:      cfg.TracingStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	env, err := envelope.NewServiceFromEnv(cfg.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to initialize payload encryption: %w", err)
	}

	store, err := cloud.NewStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open cloud database: %w", err)
	}
	defer store.Close()

	registry := metrics.NewRegistry()
	applySvc := cloud.NewApplyService(store, env, registry, logger)
	devices := cloud.NewDeviceRegistry(store, logger)

	hub := notify.NewHub(logger)
	hub.Start()
	defer hub.Stop()

	server := NewServer(&cfg, applySvc, devices, hub, registry, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Cloud service shutdown completed")
	return nil
}
