package domain

import (
	"context"
	"time"
)

// PaymentMethod is how a generation's cost was settled.
type PaymentMethod string

const (
	PaymentCredits PaymentMethod = "credits"
	PaymentBYOK    PaymentMethod = "byok"
)

// UsageRecord is an append-only row describing one completed generation.
// RequestID is the idempotency key for double-write protection.
type UsageRecord struct {
	RequestID         string
	UserID            string
	Provider          string
	Model             string
	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
	CostCents         *float64 // nil when pricing was unknown
	PlatformFeeCents  *float64
	PaymentMethod     PaymentMethod
	Timestamp         time.Time
}

// UsageRepository is the storage contract for usage records.
type UsageRepository interface {
	RecordUsage(ctx context.Context, rec *UsageRecord) error
	GetUsage(ctx context.Context, requestID string) (*UsageRecord, error)
}
