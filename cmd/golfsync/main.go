package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golfsync/internal/config"
	"golfsync/internal/constants"
	"golfsync/internal/envelope"
	"golfsync/internal/metrics"
	"golfsync/internal/models"
	"golfsync/internal/queue"
	"golfsync/internal/retry"
	"golfsync/internal/service"
	"golfsync/internal/tracing"
	"golfsync/pkg/transport"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("golfsync %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	// Optional .env for local development; the file is not required.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting golfsync edge agent")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg)

	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	env, err := envelope.NewServiceFromEnv(cfg.Encryption.Enabled)
	if err != nil {
		return fmt.Errorf("failed to initialize payload encryption: %w", err)
	}
	if env.Enabled() {
		logger.Info("Payload encryption enabled")
	}

	// Open the queue database with exponential backoff. The device may come
	// up while the filesystem is still settling.
	var store *queue.Store
	dbRetry := queue.DBRetryConfig{
		MaxAttempts: cfg.Retry.DBMaxAttempts,
		Backoff:     time.Duration(cfg.Retry.DBBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.Retry.DBMaxBackoffMs) * time.Millisecond,
	}
	backoff := retry.NewBackoff(retry.BackoffConfig{
		BaseDelay:   dbRetry.Backoff,
		MaxDelay:    dbRetry.MaxBackoff,
		MaxAttempts: dbRetry.MaxAttempts,
		Jitter:      true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		store, initErr = queue.New(cfg.Database.Path, env, cfg.Retry.MaxRetries, dbRetry)
		if initErr != nil {
			logger.Warnf("Failed to open queue database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to open queue database after retries: %w", err)
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: time.Duration(cfg.Cloud.TimeoutSec) * time.Second}
	client := transport.NewClient(cfg.Cloud.APIBaseURL, cfg.Cloud.AuthToken, httpClient, logger)

	if err := client.RegisterDevice(ctx, models.DeviceRecord{
		AccountID:  cfg.Device.AccountID,
		DeviceID:   cfg.Device.DeviceID,
		DeviceType: models.DeviceType(cfg.Device.DeviceType),
		DeviceName: cfg.Device.DeviceName,
	}); err != nil {
		// Not fatal. Queued items accumulate locally until the cloud is
		// reachable and registration is retried on next startup.
		logger.Warnf("Device registration failed, continuing offline: %v", err)
	}

	registry := metrics.NewRegistry()
	transmitter := service.NewTransmitter(store, client, env, cfg.Device, logger)

	scheduler := service.NewScheduler(store, service.SchedulerConfig{
		Interval:        time.Duration(cfg.Sync.IntervalSec) * time.Second,
		BaseDelay:       time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		TransmitTimeout: time.Duration(constants.DefaultTransmitTimeoutSec) * time.Second,
	}, nil, registry, logger)

	if err := scheduler.Start(ctx, transmitter.Transmit, cfg.Sync.BatchSize); err != nil {
		return fmt.Errorf("failed to start sync scheduler: %w", err)
	}
	defer scheduler.Stop()

	// Assume connectivity until the host platform reports otherwise through
	// POST /network/status. This also drains anything queued while offline.
	scheduler.SetOnlineStatus(true)

	server := NewServer(store, scheduler, registry, logger)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Edge agent shutdown completed")
	return nil
}

func configureLogLevel(logger *logrus.Logger, cfg *models.Config) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if cfg.LogLevel == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
