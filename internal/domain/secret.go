package domain

import (
	"context"
	"time"
)

// UserKey is a per-user, per-provider encrypted API key held by the
// Secret Store. Ciphertext/Nonce are opaque to every layer above
// internal/crypto; plaintext is never logged.
type UserKey struct {
	UserID    string
	Provider  string
	Ciphertext []byte
	Nonce     []byte
	CreatedAt time.Time
}

// SecretRepository is the storage contract for the Secret Store (§4.D).
// Every method is parameterized by user_id; there is no API without one.
type SecretRepository interface {
	PutSecret(ctx context.Context, userID, provider string, ciphertext, nonce []byte) error
	GetSecret(ctx context.Context, userID, provider string) (*UserKey, error)
	ListSecretProviders(ctx context.Context, userID string) ([]string, error)
	DeleteSecret(ctx context.Context, userID, provider string) error
}

// SecretStoreHealth is the health report shape from §4.D: never carries
// key material.
type SecretStoreHealth struct {
	Connected bool `json:"connected"`
	Users     int  `json:"users"`
	Secrets   int  `json:"secrets"`
	Providers int  `json:"providers"`
}
