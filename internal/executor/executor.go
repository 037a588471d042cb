// Package executor implements the AI Executor (spec §4.G): the main
// generate pipeline — prompt resolution, provider selection, key
// resolution, model resolution, quota pre-check, tool preparation, the
// upstream call (wrapped in the resilience package), the external tool
// loop, and usage accounting. Grounded on the teacher's
// internal/gateway/gateway.go request pipeline, which resolves
// tenant/policy/provider/model in the same sequential-steps shape this
// spec's ten-step pipeline generalizes.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateway/internal/domain"
	"gateway/internal/ledger"
	"gateway/internal/models"
	"gateway/internal/provider"
	"gateway/internal/resilience"
	"gateway/internal/secret"
)

// WebSearchPreference mirrors spec §4.G metadata.web_search_preference.
type WebSearchPreference string

const (
	WebSearchNative   WebSearchPreference = "native"
	WebSearchExternal WebSearchPreference = "external"
	WebSearchNever    WebSearchPreference = "never"
)

// ToolInvoker is the subset of the Remote Tool-Server Manager (§4.I) the
// Executor needs for the external tool loop (§4.G step 8). Implemented
// by internal/toolserver.Manager; declared here so the Executor depends
// on an interface, not the manager's concrete type.
type ToolInvoker interface {
	MatchingTools(ctx context.Context) ([]domain.Tool, error)
	Invoke(ctx context.Context, call domain.ToolCall) (string, error)
}

// ResponseCache is the Semantic Response Cache (SPEC_FULL §4.P),
// consulted immediately before step 7 and populated immediately after
// step 9. Implemented by internal/cache.Service.
type ResponseCache interface {
	Get(ctx context.Context, scopeKey, model, content string) (*domain.GenerateResult, bool)
	Set(ctx context.Context, scopeKey, model, provider, content string, result *domain.GenerateResult)
}

// Metadata is the optional per-call knob bag from spec §4.G inputs.
type Metadata struct {
	Provider           string
	Model              string
	MaxTokens          int
	Temperature        float64
	UseWebSearch       bool
	WebSearchPreference WebSearchPreference
	MaxWebSearches     int
}

// GenerateRequest is the Executor's single entry point input.
type GenerateRequest struct {
	Principal domain.Principal
	Content   string

	// Exactly one of PromptID / SystemPrompt must be set (spec §4.G
	// inputs: "either prompt_id or system_prompt (exactly one)").
	PromptID     string
	SystemPrompt string

	Context  map[string]string // {var} interpolation dictionary
	Metadata Metadata

	BYOKKey string // caller-supplied API key, bypasses the server-owned key

	// RequestID is the idempotency key for usage/debit; generated if empty.
	RequestID string
}

// GenerateResponse is the pipeline's normalized output (spec §4.G step 10).
type GenerateResponse struct {
	Content      string
	Usage        domain.Usage
	Model        string
	Provider     string
	RequestID    string
	FinishReason domain.FinishReason
}

// Executor wires every collaborator the pipeline needs.
type Executor struct {
	Registry  *models.Registry
	Providers *provider.Manager
	Secrets   *secret.Store
	Ledger    *ledger.Ledger
	Usage     domain.UsageRepository
	Prompts   *PromptCatalog
	Tools     ToolInvoker    // nil disables external tool preparation
	Cache     ResponseCache  // nil disables the semantic response cache

	Breaker *resilience.CircuitBreaker
	Retry   func(err error) bool // IsRetryable predicate for resilience.Retry

	DefaultProvider    string
	FeePercent         float64
	MonthlyCapTokens   int64 // 0 disables the monthly cap, balance is still enforced
	CacheHitTokenCharge int64 // flat token charge debited on a cache hit

	Logger *slog.Logger
}

// estimateTokens is the crude chars/4 heuristic spec §4.G step 5
// explicitly sanctions for the quota pre-check.
func estimateTokens(s string) int64 {
	return int64(math.Ceil(float64(len(s)) / 4))
}

// Execute runs the full ten-step pipeline for one generate call.
func (e *Executor) Execute(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	logger := e.logger()

	// Step 1: prompt resolution.
	systemPrompt, err := e.resolvePrompt(req)
	if err != nil {
		return nil, err
	}

	// Step 2: provider choice.
	providerName := req.Metadata.Provider
	if providerName == "" {
		providerName = req.Principal.PreferredProvider
	}
	if providerName == "" {
		providerName = e.DefaultProvider
	}
	if providerName == "" {
		return nil, domain.NewError(domain.ErrInvalidParams, "no provider configured", nil)
	}
	if _, err := e.Providers.Get(providerName); err != nil {
		return nil, domain.NewError(domain.ErrInvalidParams, fmt.Sprintf("unknown provider %q", providerName), nil)
	}

	// Step 3: key resolution. BYOK bypasses the secret store entirely.
	// Otherwise the caller must have a key stored in the secret store for
	// this provider (anonymous callers never do); that stored key is only
	// checked for presence, and the call goes through the provider's
	// registered adapter with its server-configured key.
	paymentMethod := domain.PaymentBYOK
	byokKey := req.BYOKKey
	if byokKey == "" {
		paymentMethod = domain.PaymentCredits
		if req.Principal.UserID != "" {
			if _, err := e.Secrets.Get(ctx, req.Principal.UserID, providerName); err != nil {
				return nil, domain.NewError(domain.ErrNoCredentials, "no credentials available for provider "+providerName, nil)
			}
		} else {
			return nil, domain.NewError(domain.ErrNoCredentials, "no credentials available for provider "+providerName, nil)
		}
	}
	adapter, err := e.Providers.GetForKey(providerName, byokKey)
	if err != nil {
		return nil, domain.NewError(domain.ErrNoCredentials, err.Error(), nil)
	}

	// Step 4: model resolution.
	modelAlias := req.Metadata.Model
	if modelAlias == "" {
		modelAlias = "auto"
	}
	resolved, err := e.Registry.Resolve(providerName, modelAlias)
	if err != nil {
		if notAllowed, ok := err.(*domain.ModelNotAllowedError); ok {
			return nil, domain.NewError(domain.ErrModelNotAllowed, notAllowed.Error(), map[string]any{
				"suggestions": notAllowed.Suggestions,
			})
		}
		return nil, domain.NewError(domain.ErrModelNotAllowed, err.Error(), nil)
	}
	if resolved.ShouldWarn {
		logger.Warn("model deprecated", "provider", providerName, "model", modelAlias, "replacement", resolved.Replacement)
	}

	// Step 5: quota pre-check (credits only; BYOK never touches the ledger).
	if paymentMethod == domain.PaymentCredits && req.Principal.UserID != "" && e.Ledger != nil {
		estimate := estimateTokens(req.Content) + estimateTokens(systemPrompt)
		result, err := e.Ledger.Precheck(ctx, req.Principal.UserID, estimate, e.MonthlyCapTokens)
		if err != nil {
			return nil, domain.NewError(domain.ErrInternal, "quota check failed", nil)
		}
		if !result.Allowed {
			return nil, domain.NewError(domain.ErrQuotaExceeded, "monthly quota or balance exceeded", map[string]any{"reason": result.Reason})
		}
	}

	// Step 6: tool preparation.
	messages := []domain.Message{{Role: domain.RoleSystem, Content: systemPrompt}}
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: req.Content})

	opts := domain.GenerateOptions{MaxTokens: req.Metadata.MaxTokens, Temperature: req.Metadata.Temperature}
	externalToolsEngaged := false
	if req.Metadata.UseWebSearch {
		switch req.Metadata.WebSearchPreference {
		case WebSearchNative:
			if adapter.SupportsNativeWebSearch() {
				opts.Tools = append(opts.Tools, domain.Tool{Kind: domain.ToolKindNative, Native: "web_search"})
			}
		case WebSearchExternal:
			if e.Tools != nil {
				externalTools, err := e.Tools.MatchingTools(ctx)
				if err == nil && len(externalTools) > 0 {
					opts.Tools = append(opts.Tools, externalTools...)
					opts.ToolChoice = domain.ToolChoiceAuto
					externalToolsEngaged = true
					messages[0].Content += "\n\nYou have access to external tools: " + toolNames(externalTools) + "."
				}
			}
		}
	}

	// Step 7: semantic cache lookup, then upstream call (through the
	// resilience wrapper) on a miss. Tool-engaged requests never consult
	// the cache — a cached single-turn answer cannot stand in for a
	// conversation that may still need a tool round-trip.
	cacheHit := false
	var result *domain.GenerateResult
	if e.Cache != nil && !externalToolsEngaged {
		if cached, ok := e.Cache.Get(ctx, e.scopeKey(req.Principal), resolved.Descriptor.ID, req.Content); ok {
			result = cached
			cacheHit = true
		}
	}
	if result == nil {
		var err error
		result, err = e.callWithResilience(ctx, req.Principal, providerName, adapter, resolved.NormalizedID, messages, opts)
		if err != nil {
			return nil, mapVendorError(err)
		}
	}

	// Step 8: external tool loop.
	maxIterations := req.Metadata.MaxWebSearches + 1
	if maxIterations < 1 {
		maxIterations = 1
	}
	iterations := 0
	for externalToolsEngaged && len(result.ToolCalls) > 0 && iterations < maxIterations {
		iterations++
		for _, call := range result.ToolCalls {
			content, toolErr := e.Tools.Invoke(ctx, call)
			if toolErr != nil {
				// Tool-call failures are not fatal to the request (spec §7):
				// materialize the error as the tool's result content.
				content = fmt.Sprintf(`{"error": %q}`, toolErr.Error())
			}
			messages = append(messages, domain.Message{Role: domain.RoleTool, Content: content, ToolCallID: call.ID})
		}
		followUpOpts := opts
		followUpOpts.ToolChoice = domain.ToolChoiceNone
		next, err := e.callWithResilience(ctx, req.Principal, providerName, adapter, resolved.NormalizedID, messages, followUpOpts)
		if err != nil {
			return nil, mapVendorError(err)
		}
		result.Usage.PromptTokens += next.Usage.PromptTokens
		result.Usage.CompletionTokens += next.Usage.CompletionTokens
		result.Usage.TotalTokens += next.Usage.TotalTokens
		result.Text = next.Text
		result.FinishReason = next.FinishReason
		result.ToolCalls = next.ToolCalls
	}

	// Step 9: usage accounting. A cache hit incurred no upstream cost
	// (SPEC_FULL §4.P: "records a UsageRecord with zero upstream cost and
	// does not debit the ledger beyond a configurable flat cache-hit
	// token charge").
	var costCents *float64
	var feeCents *float64
	debitTokens := int64(result.Usage.TotalTokens)
	if cacheHit {
		zero := 0.0
		costCents = &zero
		debitTokens = e.CacheHitTokenCharge
	} else {
		costCents = resolved.Descriptor.CalculateCostCents(result.Usage.PromptTokens, result.Usage.CompletionTokens)
		if costCents != nil && e.FeePercent > 0 {
			fee := math.Floor(*costCents * e.FeePercent / 100)
			feeCents = &fee
		}
	}
	record := &domain.UsageRecord{
		RequestID:        req.RequestID,
		UserID:           req.Principal.UserID,
		Provider:         providerName,
		Model:            resolved.Descriptor.ID,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		CostCents:        costCents,
		PlatformFeeCents: feeCents,
		PaymentMethod:    paymentMethod,
		Timestamp:        time.Now(),
	}
	if e.Usage != nil {
		if err := e.Usage.RecordUsage(ctx, record); err != nil {
			logger.Error("usage record failed", "error", err, "request_id", req.RequestID)
		}
	}
	if e.Cache != nil && !cacheHit && !externalToolsEngaged {
		e.Cache.Set(ctx, e.scopeKey(req.Principal), resolved.Descriptor.ID, providerName, req.Content, result)
	}
	if paymentMethod == domain.PaymentCredits && req.Principal.UserID != "" && e.Ledger != nil && costCents != nil {
		if _, err := e.Ledger.Debit(ctx, req.Principal.UserID, debitTokens, req.RequestID); err != nil {
			logger.Error("ledger debit failed", "error", err, "request_id", req.RequestID)
		}
	}

	// Step 10: response.
	return &GenerateResponse{
		Content:      result.Text,
		Usage:        result.Usage,
		Model:        resolved.Descriptor.ID,
		Provider:     providerName,
		RequestID:    req.RequestID,
		FinishReason: result.FinishReason,
	}, nil
}

func (e *Executor) resolvePrompt(req GenerateRequest) (string, error) {
	hasPromptID := req.PromptID != ""
	hasSystemPrompt := req.SystemPrompt != ""
	if hasPromptID == hasSystemPrompt {
		return "", domain.NewError(domain.ErrInvalidParams, "exactly one of prompt_id or system_prompt is required", nil)
	}
	if hasSystemPrompt {
		return Interpolate(req.SystemPrompt, req.Context), nil
	}
	text, warned := e.Prompts.Resolve(req.Metadata.Provider, req.PromptID)
	if warned {
		e.logger().Warn("prompt_id not found in catalog, treating as literal prompt text", "prompt_id", req.PromptID)
	}
	return Interpolate(text, req.Context), nil
}

func (e *Executor) scopeKey(p domain.Principal) string {
	if p.UserID != "" {
		return p.UserID
	}
	if p.KeyID != "" {
		return p.KeyID
	}
	return "anonymous"
}

func (e *Executor) callWithResilience(ctx context.Context, principal domain.Principal, providerName string, adapter provider.Adapter, model string, messages []domain.Message, opts domain.GenerateOptions) (*domain.GenerateResult, error) {
	scopeKey := e.scopeKey(principal)
	if e.Breaker != nil {
		allowed, err := e.Breaker.AllowRequest(scopeKey, providerName)
		if err != nil || !allowed {
			return nil, &provider.VendorError{Kind: provider.ErrTransport, Provider: providerName, Message: "circuit open"}
		}
	}

	var result *domain.GenerateResult
	isRetryable := e.Retry
	if isRetryable == nil {
		isRetryable = func(err error) bool {
			ve, ok := err.(*provider.VendorError)
			return ok && ve.Retryable()
		}
	}
	retryCfg := resilience.DefaultRetryConfig(isRetryable)
	err := resilience.Retry(ctx, retryCfg, func() error {
		var callErr error
		result, callErr = adapter.Generate(ctx, model, messages, opts)
		return callErr
	})
	if err == nil && result != nil {
		result.Usage.Normalize()
	}

	if e.Breaker != nil {
		if err != nil {
			e.Breaker.RecordFailure(scopeKey, providerName)
		} else {
			e.Breaker.RecordSuccess(scopeKey, providerName)
		}
	}
	return result, err
}

func mapVendorError(err error) error {
	if err == context.DeadlineExceeded {
		return domain.NewError(domain.ErrUpstreamTimeout, "upstream call exceeded the request deadline", nil)
	}
	ve, ok := err.(*provider.VendorError)
	if !ok {
		return domain.NewError(domain.ErrUpstreamError, err.Error(), nil)
	}
	switch ve.Kind {
	case provider.ErrUnauthorized:
		return domain.NewError(domain.ErrUpstreamUnauthorized, ve.Message, nil)
	case provider.ErrRateLimited:
		return domain.NewError(domain.ErrUpstreamRateLimited, ve.Message, nil)
	case provider.ErrBadRequest:
		return domain.NewError(domain.ErrInvalidParams, ve.Message, nil)
	default:
		return domain.NewError(domain.ErrUpstreamError, ve.Message, nil)
	}
}

func toolNames(tools []domain.Tool) string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Function.Name)
	}
	return strings.Join(names, ", ")
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
