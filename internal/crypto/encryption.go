// Package crypto provides authenticated encryption for secrets at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrInvalidKey is returned when the encryption key is invalid.
	ErrInvalidKey = errors.New("invalid encryption key: must be 16, 24, or 32 bytes")

	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
)

// Service performs AES-GCM authenticated encryption with a per-call random
// nonce. Used by the Secret Store (spec §4.D:
// "AEAD with per-row nonce").
type Service struct {
	gcm   cipher.AEAD
	mu    sync.RWMutex
	keyID string
}

// NewService creates a Service from a raw key. Key must be 16 (AES-128),
// 24 (AES-192), or 32 (AES-256) bytes.
func NewService(key []byte) (*Service, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	keyHash := sha256.Sum256(key)
	keyID := base64.RawURLEncoding.EncodeToString(keyHash[:8])

	return &Service{gcm: gcm, keyID: keyID}, nil
}

// NewServiceFromString creates a Service from a base64-encoded key, as
// supplied via the master key env var at startup.
func NewServiceFromString(encodedKey string) (*Service, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return NewService(key)
}

// EncryptBytes encrypts plaintext under a fresh random nonce and returns
// the ciphertext and the nonce separately.
func (s *Service) EncryptBytes(plaintext []byte) (ciphertext, nonce []byte, err error) {
	if len(plaintext) == 0 {
		return nil, nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	nonce = make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return s.gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// DecryptBytes decrypts ciphertext using the given nonce.
func (s *Service) DecryptBytes(ciphertext, nonce []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	if len(nonce) != s.gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Encrypt is the string convenience form, base64-encoding the result with
// the nonce prepended (single-column storage).
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ciphertext, nonce, err := s.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Decrypt is the inverse of Encrypt.
func (s *Service) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	s.mu.RLock()
	nonceSize := s.gcm.NonceSize()
	s.mu.RUnlock()

	if len(raw) < nonceSize+1 {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := s.DecryptBytes(raw[nonceSize:], raw[:nonceSize])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// KeyID identifies this encryption key for rotation tracking.
func (s *Service) KeyID() string {
	return s.keyID
}

// GenerateKey generates a random key of the given size (16, 24, or 32).
func GenerateKey(size int) ([]byte, error) {
	if size != 16 && size != 24 && size != 32 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
