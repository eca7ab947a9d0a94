package config

import (
	"encoding/json"
	"fmt"
	"os"

	"golfsync/internal/constants"
	apperrors "golfsync/internal/errors"
	"golfsync/internal/models"
)

var (
	ErrMissingCloudURL  = apperrors.New(apperrors.ErrCodeMissingConfig, "missing cloud API base URL").WithContext("config_key", "cloud.api_base_url")
	ErrMissingDBPath    = apperrors.New(apperrors.ErrCodeMissingConfig, "missing queue database path").WithContext("config_key", "database.path")
	ErrMissingAccountID = apperrors.New(apperrors.ErrCodeMissingConfig, "missing account id").WithContext("config_key", "device.account_id")
	ErrMissingDeviceID  = apperrors.New(apperrors.ErrCodeMissingConfig, "missing device id").WithContext("config_key", "device.device_id")
)

// LoadConfig reads the edge agent configuration from a JSON file, fills in
// defaults, and applies environment overrides.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Cloud.APIBaseURL == "" {
		return ErrMissingCloudURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Device.AccountID == "" {
		return ErrMissingAccountID
	}
	if c.Device.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if c.Sync.BatchSize > constants.MaxSyncBatchSize {
		return apperrors.NewConfigError("sync.batch_size", fmt.Sprintf("sync batch size exceeds maximum of %d", constants.MaxSyncBatchSize))
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Sync.IntervalSec <= 0 {
		c.Sync.IntervalSec = constants.DefaultSyncIntervalSec
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = constants.DefaultSyncBatchSize
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = constants.DefaultMaxRetries
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = constants.DefaultRetryBaseDelayMs
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = constants.DefaultRetryMaxDelayMs
	}
	if c.Retry.DBMaxAttempts <= 0 {
		c.Retry.DBMaxAttempts = constants.DefaultDatabaseRetryAttempts
	}
	if c.Retry.DBBackoffMs <= 0 {
		c.Retry.DBBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.DBMaxBackoffMs <= 0 {
		c.Retry.DBMaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Cloud.TimeoutSec <= 0 {
		c.Cloud.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Device.DeviceType == "" {
		c.Device.DeviceType = string(models.DeviceTypeARGlasses)
	}
}

// applyEnvironmentOverrides lets deployments override file settings without
// editing the config. Secrets (auth token, encryption secret) should only
// ever come from the environment.
func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("GOLFSYNC_CLOUD_URL"); v != "" {
		c.Cloud.APIBaseURL = v
	}
	if v := os.Getenv("GOLFSYNC_AUTH_TOKEN"); v != "" {
		c.Cloud.AuthToken = v
	}
	if v := os.Getenv("GOLFSYNC_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("GOLFSYNC_ACCOUNT_ID"); v != "" {
		c.Device.AccountID = v
	}
	if v := os.Getenv("GOLFSYNC_DEVICE_ID"); v != "" {
		c.Device.DeviceID = v
	}
	if v := os.Getenv("GOLFSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if os.Getenv("GOLFSYNC_ENABLE_ENCRYPTION") == "true" {
		c.Encryption.Enabled = true
	}
}
