package constants

// Default sync scheduler configuration values
const (
	DefaultSyncIntervalSec    = 10
	DefaultSyncBatchSize      = 10
	DefaultMaxRetries         = 5
	DefaultRetryBaseDelayMs   = 1000
	DefaultRetryMaxDelayMs    = 60000
	DefaultTransmitTimeoutSec = 30
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// Default server ports
const (
	DefaultEdgePort  = 8093
	DefaultCloudPort = 8094
)

// Cloud query limits
const (
	DefaultConflictPageSize = 50
	MaxSyncBatchSize        = 500
)

// EncryptionSalt is used for PBKDF2 key derivation. Changing it invalidates
// every payload encrypted with a password-derived key.
const EncryptionSalt = "golfsync-payload-salt-v1"
