package domain

import "context"

// ProcedureKind distinguishes idempotent reads from mutations.
type ProcedureKind string

const (
	ProcedureQuery    ProcedureKind = "query"
	ProcedureMutation ProcedureKind = "mutation"
)

// ToolVisibility controls whether a procedure is exposed as an MCP tool.
type ToolVisibility string

const (
	ToolVisibilityHidden ToolVisibility = "hidden"
	ToolVisibilityPublic ToolVisibility = "public"
	ToolVisibilityScoped ToolVisibility = "scoped"
)

// Handler executes a procedure for an authenticated principal.
type Handler func(ctx context.Context, principal Principal, params map[string]any) (any, error)

// Procedure is a single callable operation registered in the catalog.
// Registered at startup; immutable thereafter.
type Procedure struct {
	Name            string
	Kind            ProcedureKind
	InputSchema     map[string]any
	RequiredScopes  ScopeShape
	ToolVisibility  ToolVisibility
	Description     string
	Handler         Handler
}

// CatalogSchema is the discovery document served at the well-known path
// and consumed by the MCP tool surface.
type CatalogSchema struct {
	Procedures []ProcedureDescriptor `json:"procedures"`
}

// ProcedureDescriptor is the public, schema-only view of a Procedure.
type ProcedureDescriptor struct {
	Name           string         `json:"name"`
	Kind           ProcedureKind  `json:"kind"`
	InputSchema    map[string]any `json:"input_schema"`
	Description    string         `json:"description,omitempty"`
	ToolVisibility ToolVisibility `json:"tool_visibility,omitempty"`
}
