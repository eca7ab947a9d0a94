package models

const (
	KeySize    = 32     // AES-256
	NonceSize  = 12     // GCM standard nonce size
	Iterations = 100000 // PBKDF2 iterations
)

// Envelope wraps an encrypted queue payload. Data is
// base64(nonce || ciphertext); the key is never part of the envelope.
type Envelope struct {
	Encrypted bool   `json:"encrypted"`
	Data      string `json:"data"`
}
