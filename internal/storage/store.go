// Package storage defines the aggregate persistence contract shared by
// the in-memory and Postgres backends (SPEC_FULL §4.O).
package storage

import "gateway/internal/domain"

// Store aggregates every repository the gateway needs. Both
// internal/storage/memory and internal/storage/postgres implement it.
type Store interface {
	domain.TokenRepository
	domain.AuthCodeRepository
	domain.OAuthClientRepository
	domain.SecretRepository
	domain.WalletRepository
	domain.UsageRepository
	domain.ToolServerRepository
	domain.AuditRepository

	// Health reports connectivity and row counts without exposing any
	// secret material (spec §4.D).
	Health() domain.SecretStoreHealth

	Close() error
}
