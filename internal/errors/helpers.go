package errors

import "fmt"

// Common error creators for frequent use cases

// NewLocalStorageError creates a fatal local-storage error. These surface
// straight to the producer: an enqueue that cannot persist is never dropped.
func NewLocalStorageError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeLocalStorage, fmt.Sprintf("local storage %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Local storage failed")
}

// NewTransientStorageError creates a retryable storage error
func NewTransientStorageError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeTransientStorage, fmt.Sprintf("storage %s unavailable", operation)).
		WithContext("operation", operation).
		WithUserMessage("Storage temporarily unavailable, will retry")
}

// NewInvalidPayloadError creates a permanent malformed-payload error
func NewInvalidPayloadError(entityType, entityID string, err error) *AppError {
	return Wrap(err, ErrCodeInvalidPayload, "malformed sync payload").
		WithContext("entity_type", entityType).
		WithContext("entity_id", entityID).
		WithUserMessage("Record payload could not be parsed")
}

// NewDecryptionError creates a permanent decryption failure. Distinct from
// plaintext passthrough: a wrong key or corrupted ciphertext is a
// data-integrity issue, not an absent envelope.
func NewDecryptionError(err error) *AppError {
	return Wrap(err, ErrCodeDecryption, "payload decryption failed").
		WithUserMessage("Encrypted payload could not be decrypted")
}

// NewCloudAPIError creates an error for a failed cloud apply call.
// Retryability follows the HTTP status: server-side and throttling failures
// are transient, everything else is permanent.
func NewCloudAPIError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeCloudAPI, "cloud API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if statusCode >= 500 || statusCode == 429 || statusCode == 408 || statusCode == 0 {
		appErr.Retryable = true
	}

	return appErr
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewTimeoutError creates a timeout error. Timeouts are transient by
// definition here: the queue keeps the item and retries with backoff.
func NewTimeoutError(operation string, duration string) *AppError {
	appErr := New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
	appErr.Retryable = true
	return appErr
}
