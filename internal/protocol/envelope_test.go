package protocol

import (
	"context"
	"encoding/json"
	"testing"

	"gateway/internal/catalog"
	"gateway/internal/domain"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cat := catalog.New()
	err := cat.Register(&domain.Procedure{
		Name:           "echo",
		Kind:           domain.ProcedureQuery,
		ToolVisibility: domain.ToolVisibilityPublic,
		Handler: func(ctx context.Context, p domain.Principal, params map[string]any) (any, error) {
			return params, nil
		},
	})
	if err != nil {
		t.Fatalf("register echo: %v", err)
	}
	err = cat.Register(&domain.Procedure{
		Name:           "secrets.put",
		Kind:           domain.ProcedureMutation,
		ToolVisibility: domain.ToolVisibilityScoped,
		RequiredScopes: domain.ScopeShape{AllOf: []domain.Scope{"secrets:write"}},
		Handler: func(ctx context.Context, p domain.Principal, params map[string]any) (any, error) {
			return "stored", nil
		},
	})
	if err != nil {
		t.Fatalf("register secrets.put: %v", err)
	}
	cat.Freeze()
	return NewDispatcher(cat)
}

func TestHandleEnvelopeMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.HandleEnvelope(context.Background(), domain.Anonymous(), EnvelopeRequest{ID: 1, Method: "nope"})
	if resp.Error == nil || resp.Error.Code != domain.ErrMethodNotFound.EnvelopeCode() {
		t.Fatalf("expected method_not_found error, got %+v", resp)
	}
}

func TestHandleEnvelopeInvalidMethodCharset(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.HandleEnvelope(context.Background(), domain.Anonymous(), EnvelopeRequest{ID: 1, Method: "bad method!"})
	if resp.Error == nil || resp.Error.Code != domain.ErrInvalidRequest.EnvelopeCode() {
		t.Fatalf("expected invalid_request error, got %+v", resp)
	}
}

func TestHandleEnvelopeScopeDenied(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.HandleEnvelope(context.Background(), domain.Anonymous(), EnvelopeRequest{ID: 1, Method: "secrets.put"})
	if resp.Error == nil || resp.Error.Code != domain.ErrUnauthorized.EnvelopeCode() {
		t.Fatalf("expected unauthorized error for anonymous caller, got %+v", resp)
	}
}

func TestHandleEnvelopeSuccess(t *testing.T) {
	d := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]any{"hello": "world"})
	resp := d.HandleEnvelope(context.Background(), domain.Anonymous(), EnvelopeRequest{ID: "abc", Method: "echo", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	out, ok := resp.Result.(map[string]any)
	if !ok || out["hello"] != "world" {
		t.Errorf("expected echoed params, got %+v", resp.Result)
	}
}

func TestHandleEnvelopeMalformedParams(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.HandleEnvelope(context.Background(), domain.Anonymous(), EnvelopeRequest{ID: 1, Method: "echo", Params: json.RawMessage(`[1,2,3]`)})
	if resp.Error == nil || resp.Error.Code != domain.ErrInvalidRequest.EnvelopeCode() {
		t.Fatalf("expected invalid_request for non-object params, got %+v", resp)
	}
}

func TestHandleTypedMatchesEnvelopeBehavior(t *testing.T) {
	d := newTestDispatcher(t)

	// Same scope-denied outcome through the typed surface as the envelope
	// surface (spec §4.B: "a difference in behavior between them is a bug").
	_, err := d.HandleTyped(context.Background(), domain.Anonymous(), "secrets.put", nil)
	if err == nil {
		t.Fatal("expected an authorization error")
	}
	ge, ok := err.(*domain.GatewayError)
	if !ok || ge.Kind != domain.ErrUnauthorized {
		t.Fatalf("expected GatewayError(unauthorized), got %v", err)
	}

	result, err := d.HandleTyped(context.Background(), domain.Anonymous(), "echo", map[string]any{"hello": "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := result.(map[string]any)
	if !ok || out["hello"] != "world" {
		t.Errorf("expected echoed params, got %+v", result)
	}
}

func TestHandleTypedMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	if _, err := d.HandleTyped(context.Background(), domain.Anonymous(), "nope", nil); err == nil {
		t.Fatal("expected an error for an unregistered procedure")
	}
}
