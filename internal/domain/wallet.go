package domain

import (
	"context"
	"time"
)

// WalletState is the per-user token-denominated budget (spec §3, §4.J).
type WalletState struct {
	UserID            string
	BalanceTokens     int64
	MonthlyUsageTokens int64
	LastResetAt       time.Time
	Active            bool
}

// Payment is the raw, audited record of a webhook-driven top-up.
// Idempotent by PaymentID.
type Payment struct {
	PaymentID   string
	UserID      string
	Kind        string
	AmountCents int64
	Currency    string
	Raw         []byte // raw webhook payload, for audit
	ProcessedAt time.Time
}

// PrecheckResult is the outcome of a ledger precheck call.
type PrecheckResult struct {
	Allowed      bool
	Reason       string
	BalanceAfter int64
	UsageAfter   int64
}

// WalletRepository is the durable-state contract for the Virtual-Token
// Ledger (§4.J). debit/credit are idempotent by request_id/payment_id;
// concurrency is delegated to the database via unique constraints.
type WalletRepository interface {
	GetWallet(ctx context.Context, userID string) (*WalletState, error)
	Precheck(ctx context.Context, userID string, costTokens int64) (*PrecheckResult, error)
	Debit(ctx context.Context, userID string, costTokens int64, requestID string) (*WalletState, error)
	Credit(ctx context.Context, userID string, tokens int64, paymentID string, amountCents int64, currency string, raw []byte) (*WalletState, error)
}
