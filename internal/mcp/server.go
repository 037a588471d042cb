// Package mcp exposes the Procedure Catalog as an MCP tool surface
// (spec §4.H): initialize, tools/list and tools/call over the same
// dispatch path the envelope and typed surfaces use. Grounded on the
// teacher's internal/mcp/server.go JSON-RPC handling, trimmed to the
// three operations the spec names plus ping (no SSE push channel, no tool_search —
// Non-goals: "no resources/prompts capabilities, no server-initiated
// notifications").
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gateway/internal/domain"
	"gateway/internal/protocol"
)

// ServerInfo is echoed back to the client in initialize's result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolCapabilities struct {
	ListChanged bool `json:"listChanged"`
}

type serverCapabilities struct {
	Tools toolCapabilities `json:"tools"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      map[string]any `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []toolDefinition `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// rpcError mirrors the JSON-RPC error object every MCP response carries
// on failure; Code follows the same numbering as the envelope protocol
// since both derive from spec §4.B's error taxonomy.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Request is one incoming MCP JSON-RPC call.
type Request struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON-RPC envelope returned for a Request.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

// Server adapts the Procedure Catalog, via protocol.Dispatcher, to the
// three MCP operations. Unlike the teacher, there is no per-tenant store
// lookup here — visibility is the catalog's ToolVisibility field and
// scope enforcement is the same auth.CheckScopes every surface uses, so
// a principal only ever sees and calls what it could already reach
// through /rpc or /trpc.
type Server struct {
	dispatcher *protocol.Dispatcher
	info       ServerInfo
	logger     *slog.Logger
}

func NewServer(dispatcher *protocol.Dispatcher, info ServerInfo, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dispatcher: dispatcher, info: info, logger: logger}
}

// Handle dispatches one MCP request for principal and returns the
// JSON-RPC response to write back, never an error itself — protocol
// failures are carried in Response.Error per JSON-RPC convention.
func (s *Server) Handle(ctx context.Context, principal domain.Principal, req Request) Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleListTools(ctx, principal, req)
	case "tools/call":
		return s.handleCallTool(ctx, principal, req)
	case "ping":
		return Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}
	default:
		return errorResponse(req.ID, -32601, "method not found: "+req.Method)
	}
}

// handleInitialize accepts any protocolVersion the client offers and
// echoes it back — the catalog is already frozen, so there is nothing
// version-specific to negotiate (Open Question, resolved: lax echo).
func (s *Server) handleInitialize(req Request) Response {
	var params initializeParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	version := params.ProtocolVersion
	if version == "" {
		version = "2024-11-05"
	}
	return Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: initializeResult{
			ProtocolVersion: version,
			Capabilities:    serverCapabilities{Tools: toolCapabilities{ListChanged: false}},
			ServerInfo:      s.info,
		},
	}
}

func (s *Server) handleListTools(ctx context.Context, principal domain.Principal, req Request) Response {
	procs := s.dispatcher.Catalog.ListTools()
	tools := make([]toolDefinition, 0, len(procs))
	for _, p := range procs {
		if p.ToolVisibility == domain.ToolVisibilityScoped {
			if err := requireScoped(principal, p); err != nil {
				continue
			}
		}
		tools = append(tools, toolDefinition{
			Name:        p.Name,
			Description: p.Description,
			InputSchema: p.InputSchema,
		})
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: listToolsResult{Tools: tools}}
}

func (s *Server) handleCallTool(ctx context.Context, principal domain.Principal, req Request) Response {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, -32602, "invalid params")
	}

	result, err := s.dispatcher.HandleTyped(ctx, principal, params.Name, params.Arguments)
	if err != nil {
		if gwErr, ok := err.(*domain.GatewayError); ok {
			return Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Result: callToolResult{
					IsError: true,
					Content: []contentBlock{{Type: "text", Text: gwErr.Message}},
				},
			}
		}
		return errorResponse(req.ID, -32603, err.Error())
	}

	text, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, -32603, "failed to encode result")
	}
	return Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: callToolResult{
			Content: []contentBlock{{Type: "text", Text: string(text)}},
		},
	}
}

// requireScoped mirrors the catalog's own scope shape check; a "scoped"
// tool is only listed to a principal who could actually call it.
func requireScoped(principal domain.Principal, p *domain.Procedure) error {
	if !p.RequiredScopes.Satisfies(principal.Scopes) {
		return fmt.Errorf("mcp: principal lacks scope for %s", p.Name)
	}
	return nil
}

func errorResponse(id any, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}
