// Package procedures registers every callable operation into the
// Procedure Catalog (spec §4.A): the handlers are thin adapters from
// the catalog's (principal, params map) shape onto the concrete
// collaborators (executor, secret store, ledger, model registry,
// tool-server manager, audit log). Grounded on the teacher's
// internal/mcp/gateway.go, which registers one ToolDefinition per
// callable operation over the same kind of handler map this package
// builds for the catalog.
package procedures

import (
	"context"
	"fmt"

	"gateway/internal/audit"
	"gateway/internal/catalog"
	"gateway/internal/domain"
	"gateway/internal/executor"
	"gateway/internal/ledger"
	"gateway/internal/models"
	"gateway/internal/secret"
	"gateway/internal/toolserver"
)

// Scopes is the fixed set of capability strings procedures require.
// Declared once here so auth config and catalog registration agree on
// spelling.
const (
	ScopeGenerate     = domain.Scope("generate")
	ScopeSecretsRead  = domain.Scope("secrets:read")
	ScopeSecretsWrite = domain.Scope("secrets:write")
	ScopeWalletRead   = domain.Scope("wallet:read")
	ScopeModelsRead   = domain.Scope("models:read")
	ScopeAdminTools   = domain.Scope("admin:tools")
	ScopeAdminAudit   = domain.Scope("admin:audit")
)

// Deps bundles every collaborator a procedure handler may need.
type Deps struct {
	Executor   *executor.Executor
	Secrets    *secret.Store
	Ledger     *ledger.Ledger
	Registry   *models.Registry
	ToolServers *toolserver.Manager
	Audit      *audit.Service
}

func str(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("field %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalStr(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func optionalMapStr(params map[string]any, key string) map[string]string {
	raw, ok := params[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Register adds every procedure this gateway exposes to cat. Call once
// at startup, before cat.Freeze().
func Register(cat *catalog.Catalog, d Deps) error {
	for _, reg := range []func(*catalog.Catalog, Deps) error{
		registerGenerate,
		registerModels,
		registerSecrets,
		registerWallet,
		registerToolServers,
		registerAudit,
	} {
		if err := reg(cat, d); err != nil {
			return err
		}
	}
	return nil
}

func registerGenerate(cat *catalog.Catalog, d Deps) error {
	return cat.Register(&domain.Procedure{
		Name:           "generate",
		Kind:           domain.ProcedureMutation,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeGenerate}},
		ToolVisibility: domain.ToolVisibilityPublic,
		Description:    "Generate a completion through the configured AI provider.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":       map[string]any{"type": "string"},
				"prompt_id":     map[string]any{"type": "string"},
				"system_prompt": map[string]any{"type": "string"},
				"context":       map[string]any{"type": "object"},
				"metadata": map[string]any{"type": "object", "properties": map[string]any{
					"provider":               map[string]any{"type": "string"},
					"model":                  map[string]any{"type": "string"},
					"max_tokens":             map[string]any{"type": "integer"},
					"temperature":            map[string]any{"type": "number"},
					"use_web_search":         map[string]any{"type": "boolean"},
					"web_search_preference":  map[string]any{"type": "string", "enum": []string{"native", "external", "never"}},
					"max_web_searches":       map[string]any{"type": "integer"},
				}},
				"byok_key":   map[string]any{"type": "string"},
				"request_id": map[string]any{"type": "string"},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			content, err := str(params, "content")
			if err != nil {
				return nil, domain.NewError(domain.ErrInvalidParams, err.Error(), nil)
			}
			req := executor.GenerateRequest{
				Principal:    principal,
				Content:      content,
				PromptID:     optionalStr(params, "prompt_id"),
				SystemPrompt: optionalStr(params, "system_prompt"),
				Context:      optionalMapStr(params, "context"),
				BYOKKey:      optionalStr(params, "byok_key"),
				RequestID:    optionalStr(params, "request_id"),
			}
			if meta, ok := params["metadata"].(map[string]any); ok {
				req.Metadata = executor.Metadata{
					Provider:           optionalStr(meta, "provider"),
					Model:              optionalStr(meta, "model"),
					WebSearchPreference: executor.WebSearchPreference(optionalStr(meta, "web_search_preference")),
				}
				if mt, ok := meta["max_tokens"].(float64); ok {
					req.Metadata.MaxTokens = int(mt)
				}
				if t, ok := meta["temperature"].(float64); ok {
					req.Metadata.Temperature = t
				}
				if uws, ok := meta["use_web_search"].(bool); ok {
					req.Metadata.UseWebSearch = uws
				}
				if mws, ok := meta["max_web_searches"].(float64); ok {
					req.Metadata.MaxWebSearches = int(mws)
				}
			}
			resp, err := d.Executor.Execute(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp, nil
		},
	})
}

func registerModels(cat *catalog.Catalog, d Deps) error {
	return cat.Register(&domain.Procedure{
		Name:           "models.list",
		Kind:           domain.ProcedureQuery,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeModelsRead}},
		ToolVisibility: domain.ToolVisibilityPublic,
		Description:    "List the models available for a provider.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"provider": map[string]any{"type": "string"}},
			"required":   []string{"provider"},
		},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			providerName, err := str(params, "provider")
			if err != nil {
				return nil, domain.NewError(domain.ErrInvalidParams, err.Error(), nil)
			}
			return d.Registry.List(providerName), nil
		},
	})
}

func registerSecrets(cat *catalog.Catalog, d Deps) error {
	logAuditSecret := func(ctx context.Context, principal domain.Principal, action domain.AuditAction, provider string, err error) {
		if d.Audit == nil {
			return
		}
		actor := audit.ActorFromPrincipal(principal)
		entry := audit.Entry{Action: action, Resource: "secret:" + provider, Actor: actor, Details: map[string]any{"provider": provider}}
		if err != nil {
			d.Audit.LogFailure(ctx, entry, err.Error())
		} else {
			d.Audit.LogSuccess(ctx, entry)
		}
	}

	if err := cat.Register(&domain.Procedure{
		Name:           "secrets.put",
		Kind:           domain.ProcedureMutation,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeSecretsWrite}},
		ToolVisibility: domain.ToolVisibilityScoped,
		Description:    "Store or rotate the caller's API key for a provider.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider":  map[string]any{"type": "string"},
				"plaintext": map[string]any{"type": "string"},
			},
			"required": []string{"provider", "plaintext"},
		},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			providerName, err := str(params, "provider")
			if err != nil {
				return nil, domain.NewError(domain.ErrInvalidParams, err.Error(), nil)
			}
			plaintext, err := str(params, "plaintext")
			if err != nil {
				return nil, domain.NewError(domain.ErrInvalidParams, err.Error(), nil)
			}
			err = d.Secrets.Put(ctx, principal.UserID, providerName, plaintext)
			logAuditSecret(ctx, principal, domain.AuditActionSecretPut, providerName, err)
			if err != nil {
				return nil, domain.NewError(domain.ErrInternal, "could not store secret", nil)
			}
			return map[string]any{"ok": true}, nil
		},
	}); err != nil {
		return err
	}

	if err := cat.Register(&domain.Procedure{
		Name:           "secrets.list",
		Kind:           domain.ProcedureQuery,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeSecretsRead}},
		ToolVisibility: domain.ToolVisibilityScoped,
		Description:    "List the providers the caller has stored a key for.",
		InputSchema:    map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			providers, err := d.Secrets.ListProviders(ctx, principal.UserID)
			if err != nil {
				return nil, domain.NewError(domain.ErrInternal, "could not list secrets", nil)
			}
			return map[string]any{"providers": providers}, nil
		},
	}); err != nil {
		return err
	}

	if err := cat.Register(&domain.Procedure{
		Name:           "secrets.rotate",
		Kind:           domain.ProcedureMutation,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeSecretsWrite}},
		ToolVisibility: domain.ToolVisibilityScoped,
		Description:    "Rotate the caller's API key for a provider.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider":      map[string]any{"type": "string"},
				"new_plaintext": map[string]any{"type": "string"},
			},
			"required": []string{"provider", "new_plaintext"},
		},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			providerName, err := str(params, "provider")
			if err != nil {
				return nil, domain.NewError(domain.ErrInvalidParams, err.Error(), nil)
			}
			newPlaintext, err := str(params, "new_plaintext")
			if err != nil {
				return nil, domain.NewError(domain.ErrInvalidParams, err.Error(), nil)
			}
			err = d.Secrets.Rotate(ctx, principal.UserID, providerName, newPlaintext)
			logAuditSecret(ctx, principal, domain.AuditActionSecretRotate, providerName, err)
			if err != nil {
				return nil, domain.NewError(domain.ErrInternal, "could not rotate secret", nil)
			}
			return map[string]any{"ok": true}, nil
		},
	}); err != nil {
		return err
	}

	return cat.Register(&domain.Procedure{
		Name:           "secrets.delete",
		Kind:           domain.ProcedureMutation,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeSecretsWrite}},
		ToolVisibility: domain.ToolVisibilityScoped,
		Description:    "Delete the caller's stored API key for a provider.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"provider": map[string]any{"type": "string"}},
			"required":   []string{"provider"},
		},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			providerName, err := str(params, "provider")
			if err != nil {
				return nil, domain.NewError(domain.ErrInvalidParams, err.Error(), nil)
			}
			err = d.Secrets.Delete(ctx, principal.UserID, providerName)
			logAuditSecret(ctx, principal, domain.AuditActionSecretDelete, providerName, err)
			if err != nil {
				return nil, domain.NewError(domain.ErrInternal, "could not delete secret", nil)
			}
			return map[string]any{"ok": true}, nil
		},
	})
}

func registerWallet(cat *catalog.Catalog, d Deps) error {
	return cat.Register(&domain.Procedure{
		Name:           "wallet.get",
		Kind:           domain.ProcedureQuery,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeWalletRead}},
		ToolVisibility: domain.ToolVisibilityScoped,
		Description:    "Return the caller's token balance and monthly usage.",
		InputSchema:    map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			wallet, err := d.Ledger.Wallet(ctx, principal.UserID)
			if err != nil {
				return nil, domain.NewError(domain.ErrInternal, "could not load wallet", nil)
			}
			return wallet, nil
		},
	})
}

func registerToolServers(cat *catalog.Catalog, d Deps) error {
	return cat.Register(&domain.Procedure{
		Name:           "tool_servers.status",
		Kind:           domain.ProcedureQuery,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeAdminTools}},
		ToolVisibility: domain.ToolVisibilityHidden,
		Description:    "Report the state of every configured remote tool server.",
		InputSchema:    map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			if d.ToolServers == nil {
				return map[string]any{"servers": []domain.RemoteToolServer{}}, nil
			}
			return map[string]any{"servers": d.ToolServers.Status()}, nil
		},
	})
}

func registerAudit(cat *catalog.Catalog, d Deps) error {
	return cat.Register(&domain.Procedure{
		Name:           "audit.list",
		Kind:           domain.ProcedureQuery,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{ScopeAdminAudit}},
		ToolVisibility: domain.ToolVisibilityHidden,
		Description:    "List the most recent audit log entries.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"limit": map[string]any{"type": "integer"}},
		},
		Handler: func(ctx context.Context, principal domain.Principal, params map[string]any) (any, error) {
			limit := 50
			if lf, ok := params["limit"].(float64); ok && lf > 0 {
				limit = int(lf)
			}
			if d.Audit == nil {
				return map[string]any{"entries": []domain.AuditLog{}}, nil
			}
			entries, err := d.Audit.List(ctx, limit)
			if err != nil {
				return nil, domain.NewError(domain.ErrInternal, "could not list audit log", nil)
			}
			return map[string]any{"entries": entries}, nil
		},
	})
}
