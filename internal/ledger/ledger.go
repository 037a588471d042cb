// Package ledger implements the Virtual-Token Ledger (spec §4.J):
// precheck/debit/credit against a per-user WalletState, plus webhook
// ingestion for top-ups, grounded on the teacher's resilience/service.go
// transactional-guard style and webhook-verification convention from
// internal/http/server.go's bearer/signature handling.
package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gateway/internal/domain"
)

var ErrQuotaExceeded = errors.New("ledger: quota exceeded")

// Ledger wraps domain.WalletRepository with the quota-check semantics
// Executor step 5 requires.
type Ledger struct {
	repo domain.WalletRepository
}

func New(repo domain.WalletRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Precheck estimates whether userID may spend costTokens under their
// monthly cap and balance, without mutating state (spec §4.G step 5).
func (l *Ledger) Precheck(ctx context.Context, userID string, costTokens int64, monthlyCap int64) (*domain.PrecheckResult, error) {
	res, err := l.repo.Precheck(ctx, userID, costTokens)
	if err != nil {
		return nil, err
	}
	if res.Allowed && monthlyCap > 0 && res.UsageAfter > monthlyCap {
		return &domain.PrecheckResult{Allowed: false, Reason: "monthly_cap_exceeded"}, nil
	}
	return res, nil
}

// Debit is idempotent by requestID (spec §4.J).
func (l *Ledger) Debit(ctx context.Context, userID string, costTokens int64, requestID string) (*domain.WalletState, error) {
	return l.repo.Debit(ctx, userID, costTokens, requestID)
}

// Credit is idempotent by paymentID (spec §4.J).
func (l *Ledger) Credit(ctx context.Context, userID string, tokens int64, paymentID string, amountCents int64, currency string, raw []byte) (*domain.WalletState, error) {
	return l.repo.Credit(ctx, userID, tokens, paymentID, amountCents, currency, raw)
}

func (l *Ledger) Wallet(ctx context.Context, userID string) (*domain.WalletState, error) {
	return l.repo.GetWallet(ctx, userID)
}

// VerifyWebhookSignature checks the `x-signature: sha256=<hex>` header
// against an HMAC-SHA256 of the raw body using secret, in constant time.
// Callers MUST reject the request (401, no ledger mutation) when this
// returns false, per spec §4.J.
func VerifyWebhookSignature(secret []byte, body []byte, header string) bool {
	const prefix = "sha256="
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)
	return hmac.Equal(got, want)
}

// ParseWebhookError is returned when a webhook payload cannot be parsed
// into a top-up event after signature verification succeeded.
func ParseWebhookError(msg string) error {
	return fmt.Errorf("ledger: webhook payload: %s", msg)
}
