// Package protocol implements the dual-protocol front door (spec §4.B):
// the envelope surface (`{version, id, method, params}` over `/rpc`)
// and the typed procedure surface (`/trpc/<name>`), sharing one
// dispatch path into the Procedure Catalog so a difference in behavior
// between the two surfaces is always a bug. Grounded on the teacher's
// internal/mcp/server.go JSONRPCRequest/JSONRPCResponse/RPCError shape,
// reused here for the envelope surface's wire format.
package protocol

import (
	"context"
	"encoding/json"
	"regexp"

	"gateway/internal/auth"
	"gateway/internal/catalog"
	"gateway/internal/domain"
)

var methodRE = regexp.MustCompile(`^[A-Za-z0-9._]+$`)

// EnvelopeRequest is the wire shape of an envelope-protocol request
// (spec §4.B: "{version:"2.0", id, method, params}").
type EnvelopeRequest struct {
	Version string          `json:"version"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// EnvelopeError is the `{code, message, data?}` error shape.
type EnvelopeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// EnvelopeResponse is always `{id, result}` or `{id, error}` (spec §4.B:
// "The response is always 200 ... except for parse failures").
type EnvelopeResponse struct {
	ID     any            `json:"id"`
	Result any            `json:"result,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

// Dispatcher is the single entry point both front-door surfaces call
// into, holding only what's needed to validate and run one procedure.
type Dispatcher struct {
	Catalog *catalog.Catalog
}

func NewDispatcher(cat *catalog.Catalog) *Dispatcher {
	return &Dispatcher{Catalog: cat}
}

// HandleEnvelope implements the validation order spec §4.B mandates:
// "shape -> method charset -> params is object-or-absent -> method
// exists -> scopes satisfied -> dispatch".
func (d *Dispatcher) HandleEnvelope(ctx context.Context, principal domain.Principal, req EnvelopeRequest) EnvelopeResponse {
	if req.Method == "" {
		return errorResponse(req.ID, domain.ErrInvalidRequest, "method is required", nil)
	}
	if !methodRE.MatchString(req.Method) {
		return errorResponse(req.ID, domain.ErrInvalidRequest, "method contains invalid characters", nil)
	}

	params, perr := decodeParams(req.Params)
	if perr != nil {
		return errorResponse(req.ID, domain.ErrInvalidRequest, "params must be an object or absent", nil)
	}

	proc, err := d.Catalog.Lookup(req.Method)
	if err != nil {
		return errorResponse(req.ID, domain.ErrMethodNotFound, "method not found: "+req.Method, nil)
	}

	if scopeErr := auth.CheckScopes(principal, proc.RequiredScopes); scopeErr != nil {
		if ge, ok := scopeErr.(*domain.GatewayError); ok {
			return errorResponse(req.ID, ge.Kind, ge.Message, ge.Data)
		}
		return errorResponse(req.ID, domain.ErrInternal, "authorization failed", nil)
	}

	if err := d.Catalog.ValidateParams(req.Method, params); err != nil {
		return errorResponse(req.ID, domain.ErrInvalidParams, err.Error(), nil)
	}

	result, err := proc.Handler(ctx, principal, params)
	if err != nil {
		return responseFromError(req.ID, err)
	}
	return EnvelopeResponse{ID: req.ID, Result: result}
}

// decodeParams enforces "params is object-or-absent" (spec §4.B).
func decodeParams(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func errorResponse(id any, kind domain.ErrorKind, message string, data any) EnvelopeResponse {
	return EnvelopeResponse{
		ID: id,
		Error: &EnvelopeError{
			Code:    kind.EnvelopeCode(),
			Message: message,
			Data:    data,
		},
	}
}

// responseFromError maps a handler error to the envelope shape. A
// *domain.GatewayError carries its kind/message/data through unchanged;
// any other error is an internal failure whose message is never leaked
// to the caller (spec §7).
func responseFromError(id any, err error) EnvelopeResponse {
	if ge, ok := err.(*domain.GatewayError); ok {
		return errorResponse(id, ge.Kind, ge.Message, ge.Data)
	}
	return errorResponse(id, domain.ErrInternal, "internal error", nil)
}
