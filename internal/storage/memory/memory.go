// Package memory is the in-memory Store backend, grounded on the
// teacher's internal/storage/memory.go — used for local development and
// the test suite, implementing the same repository interfaces the
// Postgres backend does.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gateway/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAuthCodeConsumed = errors.New("auth code already consumed")
)

// Store is a single process-wide in-memory Store. One RWMutex, mu,
// guards every map.
type Store struct {
	mu sync.RWMutex

	tokens      map[string]*domain.AccessToken
	refreshIdx  map[string]string // refresh token -> access token
	authCodes   map[string]*domain.AuthCode
	clients     map[string]*domain.OAuthClient
	secrets     map[string]map[string]*domain.UserKey // userID -> provider -> key
	wallets     map[string]*domain.WalletState
	debited     map[string]struct{} // request_id -> debited, the Debit idempotency guard
	usage       map[string]*domain.UsageRecord
	payments    map[string]*domain.Payment
	toolServers map[string]*domain.RemoteToolServer
	audit       []*domain.AuditLog
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		tokens:      make(map[string]*domain.AccessToken),
		refreshIdx:  make(map[string]string),
		authCodes:   make(map[string]*domain.AuthCode),
		clients:     make(map[string]*domain.OAuthClient),
		secrets:     make(map[string]map[string]*domain.UserKey),
		wallets:     make(map[string]*domain.WalletState),
		debited:     make(map[string]struct{}),
		usage:       make(map[string]*domain.UsageRecord),
		payments:    make(map[string]*domain.Payment),
		toolServers: make(map[string]*domain.RemoteToolServer),
	}
}

// --- TokenRepository ---

func (s *Store) PutToken(ctx context.Context, token *domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.Token] = &cp
	if token.RefreshToken != "" {
		s.refreshIdx[token.RefreshToken] = token.Token
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, token string) (*domain.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetTokenByRefresh(ctx context.Context, refreshToken string) (*domain.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.refreshIdx[refreshToken]
	if !ok {
		return nil, ErrNotFound
	}
	t, ok := s.tokens[tok]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) RevokeToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

// --- AuthCodeRepository ---

func (s *Store) PutAuthCode(ctx context.Context, code *domain.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.authCodes[code.Code] = &cp
	return nil
}

func (s *Store) ConsumeAuthCode(ctx context.Context, code string) (*domain.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.authCodes[code]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Consumed {
		return nil, ErrAuthCodeConsumed
	}
	if time.Now().After(c.ExpiresAt) {
		return nil, ErrNotFound
	}
	c.Consumed = true
	cp := *c
	return &cp, nil
}

// --- OAuthClientRepository ---

func (s *Store) CreateClient(ctx context.Context, client *domain.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *client
	s.clients[client.ID] = &cp
	return nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.OAuthClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// --- SecretRepository ---

func (s *Store) PutSecret(ctx context.Context, userID, provider string, ciphertext, nonce []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets[userID] == nil {
		s.secrets[userID] = make(map[string]*domain.UserKey)
	}
	s.secrets[userID][provider] = &domain.UserKey{
		UserID: userID, Provider: provider,
		Ciphertext: ciphertext, Nonce: nonce,
		CreatedAt: time.Now(),
	}
	return nil
}

func (s *Store) GetSecret(ctx context.Context, userID, provider string) (*domain.UserKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.secrets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	k, ok := m[provider]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *Store) ListSecretProviders(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.secrets[userID]
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) DeleteSecret(ctx context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.secrets[userID]; ok {
		delete(m, provider)
	}
	return nil
}

// --- WalletRepository ---

func (s *Store) GetWallet(ctx context.Context, userID string) (*domain.WalletState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return &domain.WalletState{UserID: userID, Active: true, LastResetAt: time.Now()}, nil
	}
	cp := *w
	return &cp, nil
}

func (s *Store) Precheck(ctx context.Context, userID string, costTokens int64) (*domain.PrecheckResult, error) {
	w, _ := s.GetWallet(ctx, userID)
	if w.BalanceTokens < costTokens {
		return &domain.PrecheckResult{Allowed: false, Reason: "insufficient_balance"}, nil
	}
	return &domain.PrecheckResult{
		Allowed:      true,
		BalanceAfter: w.BalanceTokens - costTokens,
		UsageAfter:   w.MonthlyUsageTokens + costTokens,
	}, nil
}

func (s *Store) Debit(ctx context.Context, userID string, costTokens int64, requestID string) (*domain.WalletState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.debited[requestID]; ok {
		w := s.wallets[userID]
		if w == nil {
			w = &domain.WalletState{UserID: userID, Active: true, LastResetAt: time.Now()}
			s.wallets[userID] = w
		}
		cp := *w
		return &cp, nil // idempotent no-op: already debited for this request_id
	}

	w := s.wallets[userID]
	if w == nil {
		w = &domain.WalletState{UserID: userID, Active: true, LastResetAt: time.Now()}
		s.wallets[userID] = w
	}
	if maybeResetMonth(w) {
		w.MonthlyUsageTokens = 0
	}
	if w.BalanceTokens < costTokens {
		return nil, errors.New("insufficient_balance")
	}
	w.BalanceTokens -= costTokens
	w.MonthlyUsageTokens += costTokens
	s.debited[requestID] = struct{}{}
	cp := *w
	return &cp, nil
}

func (s *Store) Credit(ctx context.Context, userID string, tokens int64, paymentID string, amountCents int64, currency string, raw []byte) (*domain.WalletState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[paymentID]; ok {
		w := s.wallets[userID]
		if w == nil {
			w = &domain.WalletState{UserID: userID, Active: true, LastResetAt: time.Now()}
		}
		cp := *w
		return &cp, nil // idempotent no-op
	}

	s.payments[paymentID] = &domain.Payment{
		PaymentID: paymentID, UserID: userID, AmountCents: amountCents,
		Currency: currency, Raw: raw, ProcessedAt: time.Now(),
	}

	w := s.wallets[userID]
	if w == nil {
		w = &domain.WalletState{UserID: userID, Active: true, LastResetAt: time.Now()}
		s.wallets[userID] = w
	}
	w.BalanceTokens += tokens
	cp := *w
	return &cp, nil
}

func maybeResetMonth(w *domain.WalletState) bool {
	now := time.Now()
	if w.LastResetAt.IsZero() {
		w.LastResetAt = now
		return false
	}
	reset := now.Year() != w.LastResetAt.Year() || now.Month() != w.LastResetAt.Month()
	if reset {
		w.LastResetAt = now
	}
	return reset
}

// --- UsageRepository ---

func (s *Store) RecordUsage(ctx context.Context, rec *domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usage[rec.RequestID]; exists {
		return nil // idempotent
	}
	cp := *rec
	s.usage[rec.RequestID] = &cp
	return nil
}

func (s *Store) GetUsage(ctx context.Context, requestID string) (*domain.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.usage[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// --- ToolServerRepository ---

func (s *Store) ListToolServers(ctx context.Context) ([]*domain.RemoteToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.RemoteToolServer, 0, len(s.toolServers))
	for _, ts := range s.toolServers {
		cp := *ts
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) UpsertToolServer(ctx context.Context, server *domain.RemoteToolServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *server
	s.toolServers[server.Name] = &cp
	return nil
}

func (s *Store) DeleteToolServer(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.toolServers, name)
	return nil
}

// --- health / lifecycle ---

func (s *Store) Health() domain.SecretStoreHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	providers := make(map[string]struct{})
	count := 0
	for _, m := range s.secrets {
		for p := range m {
			providers[p] = struct{}{}
			count++
		}
	}
	return domain.SecretStoreHealth{
		Connected: true,
		Users:     len(s.secrets),
		Secrets:   count,
		Providers: len(providers),
	}
}

// --- AuditRepository ---

func (s *Store) AppendAudit(ctx context.Context, entry *domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = time.Now()
	}
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]*domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.AuditLog, len(s.audit))
	copy(out, s.audit)
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
