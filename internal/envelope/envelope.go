package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golfsync/internal/constants"
	"golfsync/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionSecretEnv provides the key material for payload encryption.
// The secret is never embedded in an envelope or written to disk.
const EncryptionSecretEnv = "GOLFSYNC_ENCRYPTION_SECRET"

// ErrNoService is returned when an encrypted envelope arrives but no
// encryption service is configured. Plaintext passthrough (no envelope at
// all) is not an error; an undecryptable envelope is.
var ErrNoService = errors.New("encrypted envelope but no encryption service configured")

// DecryptionError marks a wrong key or corrupted ciphertext. Permanent:
// callers must not retry.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// IsDecryptionError reports whether err is a payload decryption failure.
func IsDecryptionError(err error) bool {
	var de *DecryptionError
	return errors.As(err, &de)
}

// Service wraps and unwraps queue payloads with AES-256-GCM. A nil *Service
// is valid and means encryption is not configured: Wrap returns no envelope
// and payloads pass through in plaintext.
type Service struct {
	gcm cipher.AEAD
}

// NewService creates an envelope service from a raw 32-byte key.
func NewService(key []byte) (*Service, error) {
	if len(key) != models.KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes", models.KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Service{gcm: gcm}, nil
}

// NewServiceFromSecret derives the key from a password with PBKDF2-SHA256.
func NewServiceFromSecret(secret string) (*Service, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), models.Iterations, models.KeySize, sha256.New)
	return NewService(key)
}

// NewServiceFromEnv builds a service from GOLFSYNC_ENCRYPTION_SECRET.
// Returns (nil, nil) when enabled is false so callers get the plaintext
// passthrough behavior without a special case.
func NewServiceFromEnv(enabled bool) (*Service, error) {
	if !enabled {
		return nil, nil
	}

	secret := os.Getenv(EncryptionSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EncryptionSecretEnv)
	}

	return NewServiceFromSecret(secret)
}

// Wrap encrypts a payload into an envelope with a fresh random nonce.
// Wrapping the same plaintext twice produces different ciphertexts.
func (s *Service) Wrap(plain []byte) (*models.Envelope, error) {
	if s == nil || s.gcm == nil {
		return nil, nil
	}

	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.gcm.Seal(nil, nonce, plain, nil)
	data := append(nonce, ciphertext...)

	return &models.Envelope{
		Encrypted: true,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Unwrap decrypts an envelope back to the plaintext payload. A nil envelope
// or an unencrypted one is not decryptable and yields an error distinct from
// a key/ciphertext failure.
func (s *Service) Unwrap(env *models.Envelope) ([]byte, error) {
	if env == nil || !env.Encrypted {
		return nil, fmt.Errorf("no encrypted envelope present")
	}
	if s == nil || s.gcm == nil {
		return nil, ErrNoService
	}

	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, &DecryptionError{Err: fmt.Errorf("failed to decode base64: %w", err)}
	}

	if len(data) < models.NonceSize {
		return nil, &DecryptionError{Err: errors.New("ciphertext too short")}
	}

	nonce, ciphertext := data[:models.NonceSize], data[models.NonceSize:]
	plain, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &DecryptionError{Err: err}
	}

	return plain, nil
}

// Enabled reports whether payloads will actually be encrypted.
func (s *Service) Enabled() bool {
	return s != nil && s.gcm != nil
}
