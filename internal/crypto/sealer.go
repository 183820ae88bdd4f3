// Package crypto seals manager memory entries at rest and hashes the
// operator token that guards destructive API calls.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// KeyLength is the AES-256 key length in bytes.
	KeyLength = 32
	// Argon2Time is the number of passes over memory for Argon2id.
	Argon2Time = 3
	// Argon2Memory is the Argon2id memory cost in KiB.
	Argon2Memory = 64 * 1024
	// Argon2Threads is the Argon2id parallelism.
	Argon2Threads = 4
)

var (
	// ErrEmptyKey is returned when no key material is supplied.
	ErrEmptyKey = errors.New("crypto: empty key material")
	// ErrSealedMalformed is returned when a sealed entry is too short
	// or not valid base64.
	ErrSealedMalformed = errors.New("crypto: sealed entry malformed")
	// ErrOpenFailed is returned when authentication fails, meaning the
	// entry was sealed under a different key or has been tampered with.
	ErrOpenFailed = errors.New("crypto: open failed")
)

// MemorySealer encrypts manager memory entries with AES-256-GCM. Sealed
// entries carry the nonce as a prefix and are base64-encoded, so they
// survive any of the storage backends unchanged.
type MemorySealer struct {
	aead cipher.AEAD
}

// NewMemorySealer builds a sealer from configured key material. A hex
// or base64 string that decodes to 32 bytes is used directly; anything
// else is treated as a passphrase and stretched with SHA-256. The
// passphrase path is deterministic so every process sharing the config
// opens the same entries.
func NewMemorySealer(keyMaterial string) (*MemorySealer, error) {
	if keyMaterial == "" {
		return nil, ErrEmptyKey
	}

	key := deriveKey(keyMaterial)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm init: %w", err)
	}

	return &MemorySealer{aead: aead}, nil
}

// Seal encrypts a plaintext entry and returns base64(nonce || ciphertext).
func (s *MemorySealer) Seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an entry produced by Seal.
func (s *MemorySealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSealedMalformed
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrSealedMalformed
	}

	plain, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// GenerateKeyHex returns a fresh random key as hex, suitable for the
// auth.encryption_key config field.
func GenerateKeyHex() (string, error) {
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("crypto: generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Fingerprint returns a short stable digest of key material for logs,
// so operators can tell which key a process loaded without exposing it.
func Fingerprint(keyMaterial string) string {
	sum := sha256.Sum256([]byte(keyMaterial))
	return hex.EncodeToString(sum[:4])
}

// deriveKey accepts a 32-byte key in hex or base64, or stretches an
// arbitrary passphrase.
func deriveKey(material string) []byte {
	if key, err := hex.DecodeString(material); err == nil && len(key) == KeyLength {
		return key
	}
	if key, err := base64.StdEncoding.DecodeString(material); err == nil && len(key) == KeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(material))
	return sum[:]
}
