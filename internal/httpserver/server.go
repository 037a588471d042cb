// Package httpserver wires every surface (spec §6 External Interfaces)
// onto one net/http.ServeMux: the envelope and typed protocol front
// doors, the MCP tool surface, the OAuth2 authorization server, ledger
// webhooks, health and metrics. Grounded on the teacher's
// internal/http/server.go setupRoutes/corsMiddleware/withAuthContext,
// generalized from its tenant/API-key model onto this gateway's
// Principal/bearer model.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gateway/internal/auth"
	"gateway/internal/config"
	"gateway/internal/dispatcher"
	"gateway/internal/domain"
	"gateway/internal/ledger"
	"gateway/internal/mcp"
	"gateway/internal/protocol"
	"gateway/internal/telemetry"
)

// Server bundles every collaborator an HTTP route needs.
type Server struct {
	mux *http.ServeMux

	cfg *config.Config

	envelope *protocol.Dispatcher
	mcp      *mcp.Server
	authSrv  *auth.Server
	bearer   *auth.BearerValidator
	serviceKeys *auth.ServiceKeyValidator
	ledger   *ledger.Ledger
	work     *dispatcher.Dispatcher
	metrics  *telemetry.Metrics

	webhookSecret []byte

	logger *slog.Logger
}

// Deps bundles every collaborator New needs. Kept separate from Server
// itself so callers don't have to know the field layout.
type Deps struct {
	Config      *config.Config
	Envelope    *protocol.Dispatcher
	MCP         *mcp.Server
	AuthServer  *auth.Server
	Bearer      *auth.BearerValidator
	ServiceKeys *auth.ServiceKeyValidator
	Ledger      *ledger.Ledger
	Work        *dispatcher.Dispatcher
	Metrics     *telemetry.Metrics
	WebhookSecret []byte
	Logger      *slog.Logger
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		mux:           http.NewServeMux(),
		cfg:           d.Config,
		envelope:      d.Envelope,
		mcp:           d.MCP,
		authSrv:       d.AuthServer,
		bearer:        d.Bearer,
		serviceKeys:   d.ServiceKeys,
		ledger:        d.Ledger,
		work:          d.Work,
		metrics:       d.Metrics,
		webhookSecret: d.WebhookSecret,
		logger:        d.Logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the fully wrapped handler (CORS outermost).
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

func (s *Server) setupRoutes() {
	rpcPath := "/rpc"
	if s.cfg != nil && s.cfg.Paths.RPC != "" {
		rpcPath = s.cfg.Paths.RPC
	}
	s.mux.HandleFunc("POST "+rpcPath, s.withPrincipal(s.handleEnvelope))
	s.mux.HandleFunc("GET /openrpc.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.envelope.Describe("gateway", "0.1.0"))
	})

	trpcPrefix := "/trpc/"
	if s.cfg != nil && s.cfg.Paths.TRPC != "" {
		trpcPrefix = strings.TrimSuffix(s.cfg.Paths.TRPC, "/") + "/"
	}
	s.mux.HandleFunc(trpcPrefix, s.withPrincipal(s.handleTyped))

	s.mux.HandleFunc("POST /mcp", s.withPrincipal(s.handleMCP))

	s.mux.HandleFunc("GET /.well-known/oauth-authorization-server", s.handleAuthServerMetadata)
	s.mux.HandleFunc("GET /.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	s.mux.HandleFunc("GET /.well-known/openid-configuration", s.handleOIDCMetadata)
	s.mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)

	// Some inspector clients expect these under /oauth/*, others at
	// root; spec §6 requires both be served (spec.md:193,276).
	s.mux.HandleFunc("POST /oauth/register", s.handleRegisterClient)
	s.mux.HandleFunc("POST /register", s.handleRegisterClient)
	s.mux.HandleFunc("GET /authorize", s.handleAuthorize)
	s.mux.HandleFunc("POST /token", s.handleToken)
	s.mux.HandleFunc("POST /oauth/token", s.handleToken)

	webhookPrefix := "/webhooks/"
	if s.cfg != nil && s.cfg.Paths.Webhook != "" {
		webhookPrefix = strings.TrimSuffix(s.cfg.Paths.Webhook, "/") + "/"
	}
	s.mux.HandleFunc("POST "+webhookPrefix+"{provider}", s.handleWebhook)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", telemetry.Handler())
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := "*"
	if s.cfg != nil && s.cfg.CORS.Origin != "" {
		origin = s.cfg.CORS.Origin
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withPrincipal resolves the bearer token (or static service key) into a
// domain.Principal and hands it to handler; unauthenticated requests get
// the Anonymous principal, leaving scope enforcement to the catalog.
func (s *Server) withPrincipal(handler func(w http.ResponseWriter, r *http.Request, p domain.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := domain.Anonymous()

		header := r.Header.Get("Authorization")
		if token, err := auth.ExtractToken(header); err == nil {
			if s.serviceKeys != nil {
				if p, ok := s.serviceKeys.Resolve(token); ok {
					principal = p
					handler(w, r, principal)
					return
				}
			}
			if s.bearer != nil {
				if p, err := s.bearer.Resolve(r.Context(), token); err == nil {
					principal = p
				}
			}
		}
		handler(w, r, principal)
	}
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	var req protocol.EnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, protocol.EnvelopeResponse{
			ID:    nil,
			Error: &protocol.EnvelopeError{Code: domain.ErrParse.EnvelopeCode(), Message: "malformed request body"},
		})
		return
	}
	resp := s.runThroughDispatcher(r.Context(), principal.UserID, func(ctx context.Context) (any, error) {
		return s.envelope.HandleEnvelope(ctx, principal, req), nil
	})
	if resp.Err != nil {
		writeJSON(w, http.StatusOK, protocol.EnvelopeResponse{
			ID:    req.ID,
			Error: &protocol.EnvelopeError{Code: domain.ErrInternal.EnvelopeCode(), Message: "request queue unavailable"},
		})
		return
	}
	writeJSON(w, http.StatusOK, resp.Value)
}

func (s *Server) handleTyped(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	trpcPrefix := "/trpc/"
	if s.cfg != nil && s.cfg.Paths.TRPC != "" {
		trpcPrefix = strings.TrimSuffix(s.cfg.Paths.TRPC, "/") + "/"
	}
	name := strings.TrimPrefix(r.URL.Path, trpcPrefix)
	if name == "" {
		writeError(w, http.StatusNotFound, "method_not_found", "missing procedure name")
		return
	}

	params := map[string]any{}
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_params", "malformed request body")
			return
		}
	} else {
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
	}

	result := s.runThroughDispatcher(r.Context(), principal.UserID, func(ctx context.Context) (any, error) {
		// dispatcher.HandleTyped is reached via protocol.Dispatcher, the same
		// struct handleEnvelope uses, keeping the "same handler" invariant.
		return s.envelope.HandleTyped(ctx, principal, name, params)
	})

	if result.Err != nil {
		writeErrorFromErr(w, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, result.Value)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	var req mcp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, mcp.Response{JSONRPC: "2.0"})
		return
	}
	result := s.runThroughDispatcher(r.Context(), principal.UserID, func(ctx context.Context) (any, error) {
		return s.mcp.Handle(ctx, principal, req), nil
	})
	if result.Err != nil {
		writeJSON(w, http.StatusOK, mcp.Response{JSONRPC: "2.0", ID: req.ID})
		return
	}
	writeJSON(w, http.StatusOK, result.Value)
}

// runThroughDispatcher submits fn onto the concurrency dispatcher
// (SPEC_FULL §4.N) so every request surface shares the same bounded
// worker pool and per-principal limiter; falls back to running fn
// inline when no dispatcher is wired (e.g. tests).
func (s *Server) runThroughDispatcher(ctx context.Context, principalKey string, fn func(ctx context.Context) (any, error)) dispatcher.Result {
	if s.work == nil {
		v, err := fn(ctx)
		return dispatcher.Result{Value: v, Err: err}
	}
	task := &dispatcher.Task{
		Ctx:          ctx,
		PrincipalKey: principalKey,
		Priority:     1,
		Run:          fn,
		Done:         make(chan dispatcher.Result, 1),
	}
	if err := s.work.Submit(task); err != nil {
		return dispatcher.Result{Err: err}
	}
	select {
	case res := <-task.Done:
		return res
	case <-ctx.Done():
		return dispatcher.Result{Err: ctx.Err()}
	}
}

func writeErrorFromErr(w http.ResponseWriter, err error) {
	var gw *domain.GatewayError
	if errors.As(err, &gw) {
		status := http.StatusInternalServerError
		switch gw.Kind {
		case domain.ErrUnauthorized:
			status = http.StatusUnauthorized
		case domain.ErrForbidden:
			status = http.StatusForbidden
		case domain.ErrInvalidParams, domain.ErrInvalidRequest:
			status = http.StatusBadRequest
		case domain.ErrMethodNotFound:
			status = http.StatusNotFound
		case domain.ErrRateLimited:
			status = http.StatusTooManyRequests
		case domain.ErrQuotaExceeded:
			status = http.StatusPaymentRequired
		}
		writeJSON(w, status, map[string]any{"error": map[string]any{"kind": gw.Kind, "message": gw.Message, "data": gw.Data}})
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"kind": errType, "message": message}})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
