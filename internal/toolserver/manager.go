package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"gateway/internal/config"
	"gateway/internal/domain"
)

// server is one configured remote tool server plus its live transport.
type server struct {
	cfg       config.RemoteMCPServerConfig
	transport Transport
	mu        sync.RWMutex
	state     domain.ServerState
	tools     []domain.RemoteTool
	lastErr   string
}

// Manager owns every configured remote tool server: it starts their
// transports, tracks discovered tools, and routes tool calls back to the
// owning server by prefixed name (spec §4.I). Grounded on the teacher's
// Gateway struct in internal/mcp/gateway.go, which plays the identical
// role for the teacher's own remote-tool fleet.
type Manager struct {
	prefixNames bool
	repo        domain.ToolServerRepository
	logger      *slog.Logger

	mu      sync.RWMutex
	servers map[string]*server

	// toolCache memoizes the flattened, prefixed tool list so a steady
	// stream of generate calls doesn't re-walk every server each time.
	toolCache *lru.Cache[string, []domain.Tool]
}

// NewManager builds a Manager from config and optional persistence. repo
// may be nil when server bookkeeping need not survive restarts.
func NewManager(cfg config.RemoteMCPServersConfig, repo domain.ToolServerRepository, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, []domain.Tool](1)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		prefixNames: cfg.PrefixToolNames,
		repo:        repo,
		logger:      logger,
		servers:     make(map[string]*server),
		toolCache:   cache,
	}
	for _, sc := range cfg.Servers {
		m.servers[sc.Name] = &server{cfg: sc, state: domain.ServerStarting}
	}
	return m, nil
}

// Start connects every AutoStart server, retrying per its configured
// StartupRetries/StartupDelayMS (spec §4.I: "reconnect-on-failure").
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	servers := make([]*server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.RUnlock()

	for _, s := range servers {
		if !s.cfg.AutoStart {
			continue
		}
		go m.connectWithRetry(ctx, s)
	}
}

func (m *Manager) connectWithRetry(ctx context.Context, s *server) {
	retries := s.cfg.StartupRetries
	if retries <= 0 {
		retries = 1
	}
	delay := time.Duration(s.cfg.StartupDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if err := m.connect(ctx, s); err != nil {
			lastErr = err
			m.logger.Warn("toolserver connect failed", "server", s.cfg.Name, "attempt", attempt+1, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		return
	}

	s.mu.Lock()
	s.state = domain.ServerFailed
	if lastErr != nil {
		s.lastErr = lastErr.Error()
	}
	s.mu.Unlock()
	m.toolCache.Purge()
	m.persist(ctx, s)
}

func (m *Manager) connect(ctx context.Context, s *server) error {
	transport, err := m.dial(ctx, s.cfg)
	if err != nil {
		return err
	}

	timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tools, err := transport.Initialize(initCtx)
	if err != nil {
		_ = transport.Close()
		return err
	}
	for i := range tools {
		tools[i].Server = s.cfg.Name
	}

	s.mu.Lock()
	s.transport = transport
	s.tools = tools
	s.state = domain.ServerReady
	s.lastErr = ""
	s.mu.Unlock()

	m.toolCache.Purge()
	m.persist(ctx, s)
	m.logger.Info("toolserver ready", "server", s.cfg.Name, "tools", len(tools))
	return nil
}

func (m *Manager) dial(ctx context.Context, cfg config.RemoteMCPServerConfig) (Transport, error) {
	switch domain.TransportKind(cfg.Transport) {
	case domain.TransportStdio:
		return newStdioTransport(exec.CommandContext(ctx, cfg.Command, cfg.Args...))
	case domain.TransportContainer:
		return newContainerTransport(ctx, cfg.Image, cfg.Args, "")
	case domain.TransportHTTPSSE:
		return newHTTPSSETransport(cfg.URL, nil, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case domain.TransportWS:
		return newWSTransport(ctx, cfg.URL, http.Header{})
	default:
		return nil, fmt.Errorf("toolserver: unknown transport %q", cfg.Transport)
	}
}

func (m *Manager) persist(ctx context.Context, s *server) {
	if m.repo == nil {
		return
	}
	s.mu.RLock()
	rec := &domain.RemoteToolServer{
		Name:           s.cfg.Name,
		Transport:      domain.TransportKind(s.cfg.Transport),
		Command:        s.cfg.Command,
		Args:           s.cfg.Args,
		Image:          s.cfg.Image,
		URL:            s.cfg.URL,
		TimeoutMS:      s.cfg.TimeoutMS,
		AutoStart:      s.cfg.AutoStart,
		StartupRetries: s.cfg.StartupRetries,
		StartupDelayMS: s.cfg.StartupDelayMS,
		State:          s.state,
		Tools:          s.tools,
		LastError:      s.lastErr,
	}
	s.mu.RUnlock()
	if err := m.repo.UpsertToolServer(ctx, rec); err != nil {
		m.logger.Warn("toolserver persist failed", "server", s.cfg.Name, "error", err)
	}
}

// MatchingTools implements executor.ToolInvoker: it returns every
// currently-ready server's tools, prefixed per spec §4.I when configured.
func (m *Manager) MatchingTools(ctx context.Context) ([]domain.Tool, error) {
	if cached, ok := m.toolCache.Get("all"); ok {
		return cached, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Tool
	for _, s := range m.servers {
		s.mu.RLock()
		if s.state != domain.ServerReady {
			s.mu.RUnlock()
			continue
		}
		for _, rt := range s.tools {
			name := rt.Name
			if m.prefixNames {
				name = PrefixToolName(rt.Server, rt.Name)
			}
			out = append(out, domain.Tool{
				Kind: domain.ToolKindFunction,
				Function: domain.FunctionDefinition{
					Name:        name,
					Description: rt.Description,
					Parameters:  rt.InputSchema,
				},
			})
		}
		s.mu.RUnlock()
	}

	m.toolCache.Add("all", out)
	return out, nil
}

// Invoke implements executor.ToolInvoker, routing call.Name back to its
// owning server by stripping the server__ prefix (or, when prefixing is
// disabled, scanning every ready server for a matching tool name).
func (m *Manager) Invoke(ctx context.Context, call domain.ToolCall) (string, error) {
	serverName, toolName := call.Name, call.Name
	if m.prefixNames {
		s, t, ok := ParseToolName(call.Name)
		if !ok {
			return "", fmt.Errorf("toolserver: malformed prefixed tool name %q", call.Name)
		}
		serverName, toolName = s, t
	} else {
		found, err := m.findServerForTool(call.Name)
		if err != nil {
			return "", err
		}
		serverName = found
	}

	m.mu.RLock()
	s, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("toolserver: unknown server %q", serverName)
	}

	s.mu.RLock()
	state := s.state
	transport := s.transport
	s.mu.RUnlock()
	if state != domain.ServerReady || transport == nil {
		return "", fmt.Errorf("toolserver: server %q is not ready", serverName)
	}

	result, err := transport.Invoke(ctx, toolName, call.Arguments)
	if err != nil {
		go m.connectWithRetry(context.Background(), s)
	}
	return result, err
}

func (m *Manager) findServerForTool(tool string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, s := range m.servers {
		s.mu.RLock()
		if s.state != domain.ServerReady {
			s.mu.RUnlock()
			continue
		}
		for _, rt := range s.tools {
			if rt.Name == tool {
				s.mu.RUnlock()
				return name, nil
			}
		}
		s.mu.RUnlock()
	}
	return "", fmt.Errorf("toolserver: no ready server offers tool %q", tool)
}

// Shutdown closes every live transport.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.servers {
		s.mu.Lock()
		if s.transport != nil {
			_ = s.transport.Close()
			s.state = domain.ServerStopped
		}
		s.mu.Unlock()
	}
}

// Status reports each server's current lifecycle state, used by the
// admin surface and health checks.
func (m *Manager) Status() []domain.RemoteToolServer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RemoteToolServer, 0, len(m.servers))
	for _, s := range m.servers {
		s.mu.RLock()
		out = append(out, domain.RemoteToolServer{
			Name:      s.cfg.Name,
			Transport: domain.TransportKind(s.cfg.Transport),
			State:     s.state,
			Tools:     s.tools,
			LastError: s.lastErr,
		})
		s.mu.RUnlock()
	}
	return out
}
