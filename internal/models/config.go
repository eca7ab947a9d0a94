package models

// Config holds the edge agent configuration
type Config struct {
	Cloud      CloudConfig      `json:"cloud"`
	Database   DatabaseConfig   `json:"database"`
	Sync       SyncConfig       `json:"sync"`
	Retry      RetryConfig      `json:"retry"`
	Device     DeviceConfig     `json:"device"`
	Encryption EncryptionConfig `json:"encryption"`
	Tracing    TracingConfig    `json:"tracing"`
	LogLevel   string           `json:"log_level"`
}

// CloudConfig holds the cloud apply endpoint configuration
type CloudConfig struct {
	APIBaseURL string `json:"api_base_url"`
	AuthToken  string `json:"auth_token"`
	TimeoutSec int    `json:"timeout_sec"`
}

// DatabaseConfig holds the local queue database configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SyncConfig holds the background sync loop configuration
type SyncConfig struct {
	IntervalSec int `json:"interval_sec"`
	BatchSize   int `json:"batch_size"`
}

// RetryConfig holds retry/backoff configuration shared by the queue
// scheduler and database access
type RetryConfig struct {
	MaxRetries     int `json:"max_retries"`
	BaseDelayMs    int `json:"base_delay_ms"`
	MaxDelayMs     int `json:"max_delay_ms"`
	DBMaxAttempts  int `json:"db_max_attempts"`
	DBBackoffMs    int `json:"db_backoff_ms"`
	DBMaxBackoffMs int `json:"db_max_backoff_ms"`
}

// DeviceConfig identifies this device to the cloud
type DeviceConfig struct {
	AccountID  string `json:"account_id"`
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	DeviceName string `json:"device_name"`
}

// EncryptionConfig controls payload encryption at rest and in transit.
// The secret itself comes from GOLFSYNC_ENCRYPTION_SECRET, never from file.
type EncryptionConfig struct {
	Enabled bool `json:"enabled"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}
