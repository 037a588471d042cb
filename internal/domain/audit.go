package domain

import (
	"context"
	"time"
)

// AuditAction enumerates the mutations the gateway records (SPEC_FULL
// §4.Q): secret lifecycle, OAuth client/token lifecycle, ledger credits,
// and remote tool-server configuration changes.
type AuditAction string

const (
	AuditActionSecretPut     AuditAction = "secret.put"
	AuditActionSecretRotate  AuditAction = "secret.rotate"
	AuditActionSecretDelete  AuditAction = "secret.delete"
	AuditActionOAuthRegister AuditAction = "oauth.client_register"
	AuditActionOAuthIssue    AuditAction = "oauth.token_issue"
	AuditActionOAuthRefresh  AuditAction = "oauth.token_refresh"
	AuditActionLedgerCredit  AuditAction = "ledger.credit"
	AuditActionLedgerDebit   AuditAction = "ledger.debit"
	AuditActionToolServerSet AuditAction = "toolserver.upsert"
)

// AuditLog is one append-only record of a mutation. Details must never
// carry secret material (same rule as GatewayError.Data).
type AuditLog struct {
	ID         string
	OccurredAt time.Time
	Action     AuditAction
	ActorID    string
	ActorKind  string // "user", "service", "anonymous"
	Resource   string
	Status     string // "success" or "failure"
	Details    map[string]any
	Error      string
}

// AuditRepository persists append-only audit records.
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry *AuditLog) error
	ListAudit(ctx context.Context, limit int) ([]*AuditLog, error)
}
