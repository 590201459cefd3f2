package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize         = 32 // AES-256
	nonceSize       = 12 // GCM standard nonce size
	iterations      = 100000
	minSecretLength = 32

	encryptionSalt = "wacompose-history-v1"
	lookupSalt     = "wacompose-lookup-v1"
)

// encryptor seals message bodies and key columns. A nil gcm disables
// encryption and every method passes data through unchanged.
type encryptor struct {
	gcm cipher.AEAD
}

func newEncryptor(enabled bool, secret string) (*encryptor, error) {
	if !enabled {
		return &encryptor{}, nil
	}
	if secret == "" {
		return nil, fmt.Errorf("an encryption secret is required when encryption is enabled")
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", minSecretLength)
	}

	key := pbkdf2.Key([]byte(secret), []byte(encryptionSalt), iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) enabled() bool {
	return e.gcm != nil
}

// Seal encrypts a blob with a random nonce prepended to the ciphertext
func (e *encryptor) Seal(plaintext []byte) ([]byte, error) {
	if !e.enabled() {
		return plaintext, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal
func (e *encryptor) Open(data []byte) ([]byte, error) {
	if !e.enabled() {
		return data, nil
	}
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plaintext, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// LookupKey encrypts a key column deterministically so equality queries
// still match. Empty values stay empty.
// #nosec G407 - deterministic nonce required for equality lookups
func (e *encryptor) LookupKey(plaintext string) string {
	if plaintext == "" || !e.enabled() {
		return plaintext
	}
	hash := sha256.Sum256([]byte(plaintext + lookupSalt))
	nonce := hash[:nonceSize]
	sealed := e.gcm.Seal(append([]byte(nil), nonce...), nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}
