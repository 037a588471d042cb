package toolserver

import (
	"context"
	"errors"
	"testing"

	"gateway/internal/config"
	"gateway/internal/domain"
)

type fakeTransport struct {
	tools      []domain.RemoteTool
	invokeErr  error
	lastTool   string
	lastArgs   map[string]any
	closed     bool
}

func (f *fakeTransport) Initialize(ctx context.Context) ([]domain.RemoteTool, error) {
	return f.tools, nil
}

func (f *fakeTransport) Invoke(ctx context.Context, tool string, args map[string]any) (string, error) {
	f.lastTool, f.lastArgs = tool, args
	if f.invokeErr != nil {
		return "", f.invokeErr
	}
	return `{"ok":true}`, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newReadyManager(t *testing.T, prefixNames bool, serverName string, transport *fakeTransport, tools []domain.RemoteTool) *Manager {
	t.Helper()
	mgr, err := NewManager(config.RemoteMCPServersConfig{PrefixToolNames: prefixNames}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.servers[serverName] = &server{
		cfg:       config.RemoteMCPServerConfig{Name: serverName},
		transport: transport,
		state:     domain.ServerReady,
		tools:     tools,
	}
	return mgr
}

func TestMatchingToolsPrefixesNamesWhenConfigured(t *testing.T) {
	transport := &fakeTransport{}
	tools := []domain.RemoteTool{{Server: "search", Name: "web_search", Description: "search the web"}}
	mgr := newReadyManager(t, true, "search", transport, tools)

	got, err := mgr.MatchingTools(context.Background())
	if err != nil {
		t.Fatalf("MatchingTools: %v", err)
	}
	if len(got) != 1 || got[0].Function.Name != "search__web_search" {
		t.Errorf("expected a prefixed tool name, got %+v", got)
	}
}

func TestMatchingToolsSkipsServersNotReady(t *testing.T) {
	mgr, err := NewManager(config.RemoteMCPServersConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.servers["down"] = &server{cfg: config.RemoteMCPServerConfig{Name: "down"}, state: domain.ServerFailed, tools: []domain.RemoteTool{{Name: "x"}}}

	got, err := mgr.MatchingTools(context.Background())
	if err != nil {
		t.Fatalf("MatchingTools: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no tools from a non-ready server, got %+v", got)
	}
}

func TestInvokeRoutesByPrefixedName(t *testing.T) {
	transport := &fakeTransport{}
	mgr := newReadyManager(t, true, "search", transport, nil)

	out, err := mgr.Invoke(context.Background(), domain.ToolCall{Name: "search__web_search", Arguments: map[string]any{"q": "go"}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("unexpected result: %q", out)
	}
	if transport.lastTool != "web_search" {
		t.Errorf("expected the prefix to be stripped before invoking, got %q", transport.lastTool)
	}
}

func TestInvokeRejectsMalformedPrefixedName(t *testing.T) {
	mgr := newReadyManager(t, true, "search", &fakeTransport{}, nil)
	if _, err := mgr.Invoke(context.Background(), domain.ToolCall{Name: "not-prefixed"}); err == nil {
		t.Error("expected an error for a tool name with no server prefix")
	}
}

func TestInvokeFindsServerByToolNameWhenUnprefixed(t *testing.T) {
	transport := &fakeTransport{}
	mgr := newReadyManager(t, false, "search", transport, []domain.RemoteTool{{Server: "search", Name: "web_search"}})

	if _, err := mgr.Invoke(context.Background(), domain.ToolCall{Name: "web_search"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestInvokeUnknownToolErrors(t *testing.T) {
	mgr := newReadyManager(t, false, "search", &fakeTransport{}, []domain.RemoteTool{{Server: "search", Name: "web_search"}})
	if _, err := mgr.Invoke(context.Background(), domain.ToolCall{Name: "does-not-exist"}); err == nil {
		t.Error("expected an error for an unknown tool name")
	}
}

func TestInvokePropagatesTransportError(t *testing.T) {
	transport := &fakeTransport{invokeErr: errors.New("boom")}
	mgr := newReadyManager(t, true, "search", transport, nil)

	if _, err := mgr.Invoke(context.Background(), domain.ToolCall{Name: "search__web_search"}); err == nil {
		t.Error("expected the transport error to propagate")
	}
}

func TestShutdownClosesEveryTransport(t *testing.T) {
	transport := &fakeTransport{}
	mgr := newReadyManager(t, true, "search", transport, nil)
	mgr.Shutdown()
	if !transport.closed {
		t.Error("expected Shutdown to close the server's transport")
	}
}

func TestStatusReportsServerState(t *testing.T) {
	mgr := newReadyManager(t, true, "search", &fakeTransport{}, []domain.RemoteTool{{Name: "web_search"}})
	status := mgr.Status()
	if len(status) != 1 || status[0].State != domain.ServerReady {
		t.Errorf("unexpected status: %+v", status)
	}
}
