// Package secret implements the Secret Store (spec §4.D): user-supplied
// provider API keys, encrypted at rest and addressable only by their
// owning user_id, grounded on the teacher's internal/provider/key_selector.go
// (every query parameterized by tenant/user, never a bare lookup by key).
package secret

import (
	"context"
	"fmt"

	"gateway/internal/crypto"
	"gateway/internal/domain"
)

// Store is the Secret Store: domain.SecretRepository plus the
// encrypt/decrypt step the repository itself never sees.
type Store struct {
	repo domain.SecretRepository
	enc  *crypto.Service
}

func New(repo domain.SecretRepository, enc *crypto.Service) *Store {
	return &Store{repo: repo, enc: enc}
}

// Put encrypts plaintext and stores it for (userID, provider). A second
// Put for the same pair overwrites the prior key (rotation).
func (s *Store) Put(ctx context.Context, userID, provider, plaintext string) error {
	if userID == "" {
		return fmt.Errorf("secret: user_id required")
	}
	ciphertext, nonce, err := s.enc.EncryptBytes([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("secret: encrypt: %w", err)
	}
	return s.repo.PutSecret(ctx, userID, provider, ciphertext, nonce)
}

// Get decrypts and returns the plaintext key for (userID, provider).
func (s *Store) Get(ctx context.Context, userID, provider string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("secret: user_id required")
	}
	k, err := s.repo.GetSecret(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	plaintext, err := s.enc.DecryptBytes(k.Ciphertext, k.Nonce)
	if err != nil {
		return "", fmt.Errorf("secret: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// ListProviders lists the providers for which userID has stored a key,
// without ever touching ciphertext.
func (s *Store) ListProviders(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ListSecretProviders(ctx, userID)
}

// Rotate replaces the stored key for (userID, provider) with newPlaintext,
// re-encrypting under the Store's current key (and therefore current
// key ID, surfaced via s.enc.KeyID() for operational rotation tracking).
func (s *Store) Rotate(ctx context.Context, userID, provider, newPlaintext string) error {
	return s.Put(ctx, userID, provider, newPlaintext)
}

// Delete removes the stored key for (userID, provider).
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	return s.repo.DeleteSecret(ctx, userID, provider)
}

// KeyID identifies the active encryption key, exposed for health/rotation
// reporting without ever exposing secret material.
func (s *Store) KeyID() string {
	return s.enc.KeyID()
}

// Health delegates to the underlying repository for aggregate counts.
func (s *Store) Health() domain.SecretStoreHealth {
	type healthReporter interface {
		Health() domain.SecretStoreHealth
	}
	if hr, ok := s.repo.(healthReporter); ok {
		return hr.Health()
	}
	return domain.SecretStoreHealth{}
}
