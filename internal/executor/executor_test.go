package executor

import (
	"context"
	"errors"
	"testing"

	"gateway/internal/crypto"
	"gateway/internal/domain"
	"gateway/internal/ledger"
	"gateway/internal/models"
	"gateway/internal/provider"
	"gateway/internal/secret"
)

// --- fakes ---

type fakeAdapter struct {
	name        string
	text        string
	usage       domain.Usage
	genErr      error
	nativeWebSearch bool
	calls       int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Generate(ctx context.Context, model string, messages []domain.Message, opts domain.GenerateOptions) (*domain.GenerateResult, error) {
	f.calls++
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &domain.GenerateResult{Text: f.text, Usage: f.usage, FinishReason: domain.FinishStop}, nil
}

func (f *fakeAdapter) SupportsNativeWebSearch() bool { return f.nativeWebSearch }

type fakeUsageRepo struct {
	records []*domain.UsageRecord
}

func (f *fakeUsageRepo) RecordUsage(ctx context.Context, rec *domain.UsageRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeUsageRepo) GetUsage(ctx context.Context, requestID string) (*domain.UsageRecord, error) {
	for _, r := range f.records {
		if r.RequestID == requestID {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}

type fakeWalletRepo struct {
	allowed    bool
	reason     string
	usageAfter int64
	debits     []int64
	debited    map[string]bool // request_id -> already debited, mirrors the real stores' own guard
}

func (f *fakeWalletRepo) GetWallet(ctx context.Context, userID string) (*domain.WalletState, error) {
	return &domain.WalletState{UserID: userID, Active: true}, nil
}

func (f *fakeWalletRepo) Precheck(ctx context.Context, userID string, costTokens int64) (*domain.PrecheckResult, error) {
	return &domain.PrecheckResult{Allowed: f.allowed, Reason: f.reason, UsageAfter: f.usageAfter}, nil
}

func (f *fakeWalletRepo) Debit(ctx context.Context, userID string, costTokens int64, requestID string) (*domain.WalletState, error) {
	if f.debited == nil {
		f.debited = make(map[string]bool)
	}
	if f.debited[requestID] {
		return &domain.WalletState{UserID: userID}, nil
	}
	f.debited[requestID] = true
	f.debits = append(f.debits, costTokens)
	return &domain.WalletState{UserID: userID}, nil
}

func (f *fakeWalletRepo) Credit(ctx context.Context, userID string, tokens int64, paymentID string, amountCents int64, currency string, raw []byte) (*domain.WalletState, error) {
	return &domain.WalletState{UserID: userID}, nil
}

type fakeSecretRepo struct {
	stored map[string]bool
}

func (f *fakeSecretRepo) PutSecret(ctx context.Context, userID, provider string, ciphertext, nonce []byte) error {
	if f.stored == nil {
		f.stored = make(map[string]bool)
	}
	f.stored[userID+"/"+provider] = true
	return nil
}

func (f *fakeSecretRepo) GetSecret(ctx context.Context, userID, provider string) (*domain.UserKey, error) {
	if f.stored[userID+"/"+provider] {
		return &domain.UserKey{UserID: userID, Provider: provider, Ciphertext: []byte("x"), Nonce: []byte("y")}, nil
	}
	return nil, errors.New("no such secret")
}

func (f *fakeSecretRepo) ListSecretProviders(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

func (f *fakeSecretRepo) DeleteSecret(ctx context.Context, userID, provider string) error { return nil }

// --- helpers ---

func newTestExecutor(t *testing.T, adapter *fakeAdapter, wallet *fakeWalletRepo) (*Executor, *fakeUsageRepo, *fakeSecretRepo) {
	t.Helper()
	mgr := provider.NewManager()
	mgr.Register("openai", adapter)
	mgr.RegisterFactory("openai", func(apiKey string) (provider.Adapter, error) { return adapter, nil })

	registry := models.New()
	registry.Register("openai", &domain.ModelDescriptor{Provider: "openai", ID: "gpt-4o"})
	registry.SetDefault("openai", "gpt-4o")

	enc, err := crypto.NewService(make([]byte, 32))
	if err != nil {
		t.Fatalf("crypto.NewService: %v", err)
	}
	secrets := fakeSecretRepo{}
	store := secret.New(&secrets, enc)

	usage := &fakeUsageRepo{}
	var led *ledger.Ledger
	if wallet != nil {
		led = ledger.New(wallet)
	}

	return &Executor{
		Registry:        registry,
		Providers:       mgr,
		Secrets:         store,
		Ledger:          led,
		Usage:           usage,
		Prompts:         NewPromptCatalog(nil),
		DefaultProvider: "openai",
	}, usage, &secrets
}

func oauthPrincipal(userID string) domain.Principal {
	return domain.Principal{Kind: domain.PrincipalOAuth, UserID: userID, Scopes: domain.ScopeSet{}}
}

// --- tests ---

func TestExecuteCreditsPathSuccess(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", text: "hello there", usage: domain.Usage{PromptTokens: 10, CompletionTokens: 5}}
	wallet := &fakeWalletRepo{allowed: true}
	exec, usage, secrets := newTestExecutor(t, adapter, wallet)
	secrets.stored = map[string]bool{"user-1/openai": true}
	// Only a priced model is debited; unpriced usage is recorded without a debit.
	exec.Registry.Register("openai", &domain.ModelDescriptor{Provider: "openai", ID: "gpt-4o", Pricing: &domain.Pricing{InputPerToken: 1, OutputPerToken: 2}})

	resp, err := exec.Execute(context.Background(), GenerateRequest{
		Principal:    oauthPrincipal("user-1"),
		Content:      "hi",
		SystemPrompt: "be helpful",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total tokens 15, got %d", resp.Usage.TotalTokens)
	}
	if len(usage.records) != 1 {
		t.Fatalf("expected one usage record, got %d", len(usage.records))
	}
	if len(wallet.debits) != 1 {
		t.Errorf("expected one ledger debit, got %d", len(wallet.debits))
	}
}

func TestExecuteRequiresExactlyOnePrompt(t *testing.T) {
	adapter := &fakeAdapter{name: "openai"}
	exec, _, _ := newTestExecutor(t, adapter, &fakeWalletRepo{allowed: true})

	_, err := exec.Execute(context.Background(), GenerateRequest{Principal: domain.Anonymous(), Content: "hi"})
	if err == nil {
		t.Fatal("expected an error when neither prompt_id nor system_prompt is set")
	}

	_, err = exec.Execute(context.Background(), GenerateRequest{
		Principal: domain.Anonymous(), Content: "hi", PromptID: "a", SystemPrompt: "b",
	})
	if err == nil {
		t.Fatal("expected an error when both prompt_id and system_prompt are set")
	}
}

func TestExecuteUnknownProviderRejected(t *testing.T) {
	adapter := &fakeAdapter{name: "openai"}
	exec, _, _ := newTestExecutor(t, adapter, &fakeWalletRepo{allowed: true})

	_, err := exec.Execute(context.Background(), GenerateRequest{
		Principal: oauthPrincipal("user-1"), Content: "hi", SystemPrompt: "sys",
		Metadata: Metadata{Provider: "does-not-exist"},
	})
	if err == nil {
		t.Fatal("expected an error for an unregistered provider")
	}
}

func TestExecuteNoCredentialsWithoutStoredKeyOrBYOK(t *testing.T) {
	adapter := &fakeAdapter{name: "openai"}
	exec, _, _ := newTestExecutor(t, adapter, &fakeWalletRepo{allowed: true})

	_, err := exec.Execute(context.Background(), GenerateRequest{
		Principal: oauthPrincipal("user-without-a-key"), Content: "hi", SystemPrompt: "sys",
	})
	gwErr, ok := err.(*domain.GatewayError)
	if !ok || gwErr.Kind != domain.ErrNoCredentials {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestExecuteBYOKBypassesSecretStoreAndLedger(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", text: "byok response", usage: domain.Usage{PromptTokens: 1, CompletionTokens: 1}}
	wallet := &fakeWalletRepo{allowed: true}
	exec, usage, _ := newTestExecutor(t, adapter, wallet)

	resp, err := exec.Execute(context.Background(), GenerateRequest{
		Principal: domain.Anonymous(), Content: "hi", SystemPrompt: "sys", BYOKKey: "sk-caller-key",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Content != "byok response" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if len(wallet.debits) != 0 {
		t.Error("expected BYOK requests to never touch the ledger")
	}
	if len(usage.records) != 1 || usage.records[0].PaymentMethod != domain.PaymentBYOK {
		t.Errorf("expected one usage record tagged byok, got %+v", usage.records)
	}
}

func TestExecuteModelNotAllowedMapsToGatewayError(t *testing.T) {
	adapter := &fakeAdapter{name: "openai"}
	exec, _, secrets := newTestExecutor(t, adapter, &fakeWalletRepo{allowed: true})
	secrets.stored = map[string]bool{"user-1/openai": true}
	exec.Registry.SetRestrictions("openai", domain.ModelRestrictions{AllowedModels: []string{"gpt-4o"}})

	_, err := exec.Execute(context.Background(), GenerateRequest{
		Principal: oauthPrincipal("user-1"), Content: "hi", SystemPrompt: "sys",
		Metadata: Metadata{Model: "gpt-4o-mini"},
	})
	gwErr, ok := err.(*domain.GatewayError)
	if !ok || gwErr.Kind != domain.ErrModelNotAllowed {
		t.Fatalf("expected ErrModelNotAllowed, got %v", err)
	}
}

func TestExecuteQuotaExceededRejectsBeforeUpstreamCall(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", text: "should not be reached"}
	wallet := &fakeWalletRepo{allowed: false, reason: "insufficient_balance"}
	exec, usage, secrets := newTestExecutor(t, adapter, wallet)
	secrets.stored = map[string]bool{"user-1/openai": true}

	_, err := exec.Execute(context.Background(), GenerateRequest{
		Principal: oauthPrincipal("user-1"), Content: "hi", SystemPrompt: "sys",
	})
	gwErr, ok := err.(*domain.GatewayError)
	if !ok || gwErr.Kind != domain.ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if adapter.calls != 0 {
		t.Error("expected the upstream adapter never to be called when the quota precheck rejects")
	}
	if len(usage.records) != 0 {
		t.Error("expected no usage record to be written on a quota rejection")
	}
}

func TestExecuteUpstreamErrorMapped(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", genErr: &provider.VendorError{Kind: provider.ErrUnauthorized, Provider: "openai", Message: "bad key"}}
	exec, _, secrets := newTestExecutor(t, adapter, &fakeWalletRepo{allowed: true})
	secrets.stored = map[string]bool{"user-1/openai": true}

	_, err := exec.Execute(context.Background(), GenerateRequest{
		Principal: oauthPrincipal("user-1"), Content: "hi", SystemPrompt: "sys",
	})
	gwErr, ok := err.(*domain.GatewayError)
	if !ok || gwErr.Kind != domain.ErrUpstreamUnauthorized {
		t.Fatalf("expected ErrUpstreamUnauthorized, got %v", err)
	}
}

func TestExecutePromptIDLiteralFallback(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", text: "ok"}
	exec, _, secrets := newTestExecutor(t, adapter, &fakeWalletRepo{allowed: true})
	secrets.stored = map[string]bool{"user-1/openai": true}

	_, err := exec.Execute(context.Background(), GenerateRequest{
		Principal: oauthPrincipal("user-1"), Content: "hi", PromptID: "not-in-any-catalog",
	})
	if err != nil {
		t.Fatalf("expected an unresolved prompt_id to fall through to literal text, got %v", err)
	}
}
