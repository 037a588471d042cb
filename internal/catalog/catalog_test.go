package catalog

import (
	"context"
	"testing"

	"gateway/internal/domain"
)

func echoProcedure(name string, visibility domain.ToolVisibility) *domain.Procedure {
	return &domain.Procedure{
		Name:           name,
		Kind:           domain.ProcedureQuery,
		ToolVisibility: visibility,
		Handler: func(ctx context.Context, p domain.Principal, params map[string]any) (any, error) {
			return params, nil
		},
	}
}

func TestRegisterRejectsInvalidAndDuplicateNames(t *testing.T) {
	c := New()
	if err := c.Register(echoProcedure("bad name!", domain.ToolVisibilityPublic)); err == nil {
		t.Error("expected an error for a name with disallowed characters")
	}
	if err := c.Register(echoProcedure("models.list", domain.ToolVisibilityPublic)); err != nil {
		t.Fatalf("unexpected error registering a valid name: %v", err)
	}
	if err := c.Register(echoProcedure("models.list", domain.ToolVisibilityPublic)); err == nil {
		t.Error("expected an error registering a duplicate name")
	}
}

func TestRegisterAfterFreezeFails(t *testing.T) {
	c := New()
	c.Freeze()
	if err := c.Register(echoProcedure("generate", domain.ToolVisibilityPublic)); err != ErrFrozen {
		t.Errorf("expected ErrFrozen, got %v", err)
	}
}

func TestLookupNotFound(t *testing.T) {
	c := New()
	c.Freeze()
	if _, err := c.Lookup("nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListToolsExcludesHidden(t *testing.T) {
	c := New()
	_ = c.Register(echoProcedure("generate", domain.ToolVisibilityPublic))
	_ = c.Register(echoProcedure("audit.list", domain.ToolVisibilityHidden))
	_ = c.Register(echoProcedure("secrets.put", domain.ToolVisibilityScoped))
	c.Freeze()

	tools := c.ListTools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 non-hidden tools, got %d", len(tools))
	}
	for _, tool := range tools {
		if tool.Name == "audit.list" {
			t.Error("hidden procedure leaked into ListTools")
		}
	}
}

func TestListProceduresSortedAfterFreeze(t *testing.T) {
	c := New()
	_ = c.Register(echoProcedure("wallet.get", domain.ToolVisibilityPublic))
	_ = c.Register(echoProcedure("generate", domain.ToolVisibilityPublic))
	c.Freeze()

	procs := c.ListProcedures()
	if len(procs) != 2 || procs[0].Name != "generate" || procs[1].Name != "wallet.get" {
		t.Errorf("expected sorted [generate, wallet.get], got %v", names(procs))
	}
}

func names(procs []*domain.Procedure) []string {
	out := make([]string, len(procs))
	for i, p := range procs {
		out[i] = p.Name
	}
	return out
}

func schemaProcedure(name string, schema map[string]any) *domain.Procedure {
	p := echoProcedure(name, domain.ToolVisibilityPublic)
	p.InputSchema = schema
	return p
}

func TestValidateParamsAcceptsMatchingParams(t *testing.T) {
	c := New()
	_ = c.Register(schemaProcedure("secrets.put", map[string]any{
		"type":     "object",
		"required": []any{"provider"},
		"properties": map[string]any{
			"provider": map[string]any{"type": "string"},
		},
	}))
	c.Freeze()

	if err := c.ValidateParams("secrets.put", map[string]any{"provider": "openai"}); err != nil {
		t.Errorf("unexpected error validating matching params: %v", err)
	}
}

func TestValidateParamsRejectsMissingRequiredField(t *testing.T) {
	c := New()
	_ = c.Register(schemaProcedure("secrets.put", map[string]any{
		"type":     "object",
		"required": []any{"provider"},
		"properties": map[string]any{
			"provider": map[string]any{"type": "string"},
		},
	}))
	c.Freeze()

	if err := c.ValidateParams("secrets.put", map[string]any{}); err == nil {
		t.Error("expected an error for params missing a required field")
	}
}

func TestValidateParamsRejectsWrongType(t *testing.T) {
	c := New()
	_ = c.Register(schemaProcedure("wallet.get", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer"},
		},
	}))
	c.Freeze()

	if err := c.ValidateParams("wallet.get", map[string]any{"limit": "not-a-number"}); err == nil {
		t.Error("expected an error for a field of the wrong type")
	}
}

func TestValidateParamsSkipsProceduresWithoutASchema(t *testing.T) {
	c := New()
	_ = c.Register(echoProcedure("echo", domain.ToolVisibilityPublic))
	c.Freeze()

	if err := c.ValidateParams("echo", map[string]any{"anything": 1}); err != nil {
		t.Errorf("expected no validation without a registered schema, got %v", err)
	}
}

func TestValidateParamsPropagatesLookupError(t *testing.T) {
	c := New()
	c.Freeze()
	if err := c.ValidateParams("missing", map[string]any{}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
