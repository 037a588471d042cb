package toolserver

import (
	"context"

	"gateway/internal/domain"
)

// Transport is the uniform interface every connection kind implements:
// a handshake that enumerates tools, and a call path that invokes one.
// Grounded on the teacher's per-transport Connect/ListTools/ExecuteTool
// trio in internal/mcp/gateway.go, collapsed into one interface here so
// the Manager never branches on transport kind past connection setup.
type Transport interface {
	// Initialize performs the handshake and returns the tools the server
	// advertises (spec §4.I: "spawn -> initialize -> ready").
	Initialize(ctx context.Context) ([]domain.RemoteTool, error)
	// Invoke calls one tool by its unprefixed name and returns its raw
	// JSON-ish result as a string (the shape the Executor's tool-loop
	// materializes into a role:tool message).
	Invoke(ctx context.Context, tool string, args map[string]any) (string, error)
	// Close releases the underlying connection/process.
	Close() error
}

// envelopeRequest/envelopeResponse mirror the line-delimited envelope
// protocol spec §4.I specifies for the stdio transport ("line-delimited
// envelope protocol over stdin/stdout"): the same {id, method, params}
// shape as the front door's envelope surface (spec §4.B), reused here
// because the spec explicitly derives the remote-tool-server wire
// format from it.
type envelopeRequest struct {
	Version string         `json:"version"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type envelopeResponse struct {
	ID     int64          `json:"id"`
	Result map[string]any `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
