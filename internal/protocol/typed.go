package protocol

import (
	"context"

	"gateway/internal/auth"
	"gateway/internal/domain"
)

// HandleTyped is the typed-surface counterpart to HandleEnvelope (spec
// §4.B: "The two surfaces share the same handler — a difference in any
// behavior between them is a bug"). The HTTP path already names the
// procedure and its idempotency (query vs mutation) by convention, so
// typed callers skip method-charset validation; everything else —
// lookup, scope check, dispatch, error shape — is identical.
func (d *Dispatcher) HandleTyped(ctx context.Context, principal domain.Principal, name string, params map[string]any) (any, error) {
	proc, err := d.Catalog.Lookup(name)
	if err != nil {
		return nil, domain.NewError(domain.ErrMethodNotFound, "method not found: "+name, nil)
	}
	if scopeErr := auth.CheckScopes(principal, proc.RequiredScopes); scopeErr != nil {
		return nil, scopeErr
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := d.Catalog.ValidateParams(name, params); err != nil {
		return nil, domain.NewError(domain.ErrInvalidParams, err.Error(), nil)
	}
	return proc.Handler(ctx, principal, params)
}
