package config

import (
	"os"
	"path/filepath"
	"testing"

	"golfsync/internal/constants"
	apperrors "golfsync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `{
	"cloud": {"api_base_url": "https://sync.example.com"},
	"database": {"path": "/var/lib/golfsync/queue.db"},
	"device": {"account_id": "acct-1", "device_id": "glasses-1"}
}`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultSyncIntervalSec, cfg.Sync.IntervalSec)
	assert.Equal(t, constants.DefaultSyncBatchSize, cfg.Sync.BatchSize)
	assert.Equal(t, constants.DefaultMaxRetries, cfg.Retry.MaxRetries)
	assert.Equal(t, constants.DefaultRetryBaseDelayMs, cfg.Retry.BaseDelayMs)
	assert.Equal(t, constants.DefaultRetryMaxDelayMs, cfg.Retry.MaxDelayMs)
	assert.Equal(t, constants.DefaultDatabaseRetryAttempts, cfg.Retry.DBMaxAttempts)
	assert.Equal(t, constants.DefaultRetryBackoffMs, cfg.Retry.DBBackoffMs)
	assert.Equal(t, constants.DefaultMaxBackoffMs, cfg.Retry.DBMaxBackoffMs)
	assert.Equal(t, constants.DefaultHTTPTimeoutSec, cfg.Cloud.TimeoutSec)
	assert.Equal(t, "AR_GLASSES", cfg.Device.DeviceType)
	assert.False(t, cfg.Encryption.Enabled)
}

func TestLoadConfigExplicitValuesWin(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"cloud": {"api_base_url": "https://sync.example.com", "timeout_sec": 5},
		"database": {"path": "/tmp/q.db"},
		"sync": {"interval_sec": 30, "batch_size": 50},
		"retry": {"max_retries": 8},
		"device": {"account_id": "a", "device_id": "d", "device_type": "MOBILE_IOS"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Sync.IntervalSec)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 8, cfg.Retry.MaxRetries)
	assert.Equal(t, 5, cfg.Cloud.TimeoutSec)
	assert.Equal(t, "MOBILE_IOS", cfg.Device.DeviceType)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    apperrors.ErrorCode
	}{
		{"missing cloud url", `{"database": {"path": "/tmp/q.db"}, "device": {"account_id": "a", "device_id": "d"}}`, apperrors.ErrCodeMissingConfig},
		{"missing db path", `{"cloud": {"api_base_url": "https://x"}, "device": {"account_id": "a", "device_id": "d"}}`, apperrors.ErrCodeMissingConfig},
		{"missing account id", `{"cloud": {"api_base_url": "https://x"}, "database": {"path": "/tmp/q.db"}, "device": {"device_id": "d"}}`, apperrors.ErrCodeMissingConfig},
		{"missing device id", `{"cloud": {"api_base_url": "https://x"}, "database": {"path": "/tmp/q.db"}, "device": {"account_id": "a"}}`, apperrors.ErrCodeMissingConfig},
		{"oversized batch", `{"cloud": {"api_base_url": "https://x"}, "database": {"path": "/tmp/q.db"}, "device": {"account_id": "a", "device_id": "d"}, "sync": {"batch_size": 100000}}`, apperrors.ErrCodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))
		})
	}
}

func TestLoadConfigMissingFieldSentinels(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"database": {"path": "/tmp/q.db"}, "device": {"account_id": "a", "device_id": "d"}}`))
	assert.ErrorIs(t, err, ErrMissingCloudURL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"cloud": `))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GOLFSYNC_CLOUD_URL", "https://override.example.com")
	t.Setenv("GOLFSYNC_AUTH_TOKEN", "secret-token")
	t.Setenv("GOLFSYNC_DEVICE_ID", "glasses-2")
	t.Setenv("GOLFSYNC_LOG_LEVEL", "debug")
	t.Setenv("GOLFSYNC_ENABLE_ENCRYPTION", "true")

	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com", cfg.Cloud.APIBaseURL)
	assert.Equal(t, "secret-token", cfg.Cloud.AuthToken)
	assert.Equal(t, "glasses-2", cfg.Device.DeviceID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Encryption.Enabled)
}
