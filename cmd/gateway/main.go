// Command gateway runs the AI request gateway: loads configuration,
// wires every component, and serves the dual-protocol front door, MCP
// tool surface and OAuth2 authorization server over one HTTP listener.
// Grounded on the teacher's cmd/modelgate/main.go startup sequence
// (flags, structured logging, storage selection, provider registration,
// embedder factory switch, dispatcher start, graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway/internal/audit"
	"gateway/internal/auth"
	"gateway/internal/cache"
	"gateway/internal/catalog"
	"gateway/internal/config"
	"gateway/internal/crypto"
	"gateway/internal/dispatcher"
	"gateway/internal/domain"
	"gateway/internal/executor"
	"gateway/internal/httpserver"
	"gateway/internal/ledger"
	"gateway/internal/mcp"
	"gateway/internal/models"
	"gateway/internal/procedures"
	"gateway/internal/protocol"
	"gateway/internal/provider"
	"gateway/internal/resilience"
	"gateway/internal/secret"
	"gateway/internal/storage"
	"gateway/internal/storage/memory"
	"gateway/internal/storage/postgres"
	"gateway/internal/telemetry"
	"gateway/internal/toolserver"
)

func main() {
	configPath := flag.String("config", "gateway.toml", "path to the TOML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting gateway", "port", cfg.Port, "database_driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := mustOpenStore(ctx, cfg, logger)
	defer closeStore()

	metrics := telemetry.NewMetrics(nil)

	providers := provider.NewManager()
	registerProviders(providers, cfg, logger)

	registry := models.New()
	seedModelRegistry(registry, cfg)

	var encSvc *crypto.Service
	if cfg.OAuth.EncryptionKey != "" {
		encSvc, err = crypto.NewServiceFromString(cfg.OAuth.EncryptionKey)
		if err != nil {
			logger.Warn("failed to initialize encryption service, secrets will not be usable", "error", err)
		}
	}
	var secretStore *secret.Store
	if encSvc != nil {
		secretStore = secret.New(store, encSvc)
	}

	ledgerSvc := ledger.New(store)

	var toolManager *toolserver.Manager
	if cfg.RemoteMCPServers.Enabled {
		toolManager, err = toolserver.NewManager(cfg.RemoteMCPServers, store, logger)
		if err != nil {
			logger.Error("failed to initialize remote tool-server manager", "error", err)
			os.Exit(1)
		}
		toolManager.Start(ctx)
		defer toolManager.Shutdown()
	}

	responseCache := buildResponseCache(ctx, cfg, store, logger)

	breaker := resilience.NewCircuitBreaker(5, 30*time.Second)

	exec := &executor.Executor{
		Registry:            registry,
		Providers:           providers,
		Secrets:             secretStore,
		Ledger:              ledgerSvc,
		Usage:               store,
		Prompts:             executor.NewPromptCatalog(cfg.SystemPrompts),
		Cache:               responseCache,
		Breaker:             breaker,
		Retry:               func(err error) bool { ve, ok := err.(*provider.VendorError); return ok && ve.Retryable() },
		DefaultProvider:     defaultProviderName(cfg),
		FeePercent:          cfg.TokenTracking.PlatformFeePercent,
		CacheHitTokenCharge: 100,
		Logger:              logger,
	}
	if toolManager != nil {
		exec.Tools = toolManager
	}

	auditSvc := audit.NewService(store, logger)

	cat := catalog.New()
	if err := procedures.Register(cat, procedures.Deps{
		Executor:    exec,
		Secrets:     secretStore,
		Ledger:      ledgerSvc,
		Registry:    registry,
		ToolServers: toolManager,
		Audit:       auditSvc,
	}); err != nil {
		logger.Error("failed to register procedures", "error", err)
		os.Exit(1)
	}
	cat.Freeze()

	envelopeDispatcher := protocol.NewDispatcher(cat)
	mcpServer := mcp.NewServer(envelopeDispatcher, mcp.ServerInfo{Name: "gateway", Version: "0.1.0"}, logger)

	authSrv := auth.NewServer(store, store, store, issuerURL(cfg))
	bearer := auth.NewBearerValidator(store)
	serviceKeys := auth.NewServiceKeyValidator()

	limiter := dispatcher.NewPrincipalLimiter(8)
	work := dispatcher.New(dispatcher.Config{
		MinWorkers:        cfg.Dispatcher.MinWorkers,
		MaxWorkers:        cfg.Dispatcher.MaxWorkers,
		ScaleUpStep:       4,
		ScaleDownStep:     2,
		MaxQueuedRequests: cfg.Dispatcher.QueueSize,
		QueueTimeout:      30 * time.Second,
		ScaleUpThreshold:  0.7,
		ScaleDownThreshold: 0.2,
		ScaleInterval:     5 * time.Second,
	}, limiter, logger)
	work.Start()
	defer work.Stop()

	srv := httpserver.New(httpserver.Deps{
		Config:        cfg,
		Envelope:      envelopeDispatcher,
		MCP:           mcpServer,
		AuthServer:    authSrv,
		Bearer:        bearer,
		ServiceKeys:   serviceKeys,
		Ledger:        ledgerSvc,
		Work:          work,
		Metrics:       metrics,
		WebhookSecret: []byte(cfg.TokenTracking.WebhookSecret),
		Logger:        logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Info("gateway ready", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("gateway stopped")
}

func mustOpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func()) {
	if cfg.Database.Driver == "postgres" {
		pg, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Error("failed to open postgres store", "error", err)
			os.Exit(1)
		}
		return pg, func() { _ = pg.Close() }
	}
	mem := memory.New()
	logger.Warn("using in-memory store; state does not survive a restart")
	return mem, func() { _ = mem.Close() }
}

func registerProviders(mgr *provider.Manager, cfg *config.Config, logger *slog.Logger) {
	for _, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			mgr.RegisterFactory(p.Name, func(apiKey string) (provider.Adapter, error) {
				return provider.NewOpenAIAdapter(apiKey, p.BaseURL)
			})
			if p.APIKey != "" {
				if a, err := provider.NewOpenAIAdapter(p.APIKey, p.BaseURL); err == nil {
					mgr.Register(p.Name, a)
				}
			}
		case "anthropic":
			mgr.RegisterFactory(p.Name, func(apiKey string) (provider.Adapter, error) {
				return provider.NewAnthropicAdapter(apiKey)
			})
			if p.APIKey != "" {
				if a, err := provider.NewAnthropicAdapter(p.APIKey); err == nil {
					mgr.Register(p.Name, a)
				}
			}
		case "ollama":
			if a, err := provider.NewOllamaAdapter(p.BaseURL); err == nil {
				mgr.Register(p.Name, a)
			}
		case "bedrock":
			// Region/credentials come from the standard AWS SDK chain
			// (env vars, shared config, instance role); this gateway
			// does not carry its own AWS credential fields.
			if a, err := provider.NewBedrockAdapter(context.Background(), "", "", ""); err == nil {
				mgr.Register(p.Name, a)
			}
		default:
			logger.Warn("unknown provider type in configuration, skipping", "provider", p.Name, "type", p.Type)
		}
	}
}

// seedModelRegistry registers a practical default model catalog per
// configured provider type, overridden by explicit restriction config.
// A real deployment would source this from each vendor's models API;
// the core only needs lookup/restriction/deprecation semantics to work
// against something.
func seedModelRegistry(registry *models.Registry, cfg *config.Config) {
	seeds := map[string][]string{
		"openai":    {"gpt-4o", "gpt-4o-mini", "gpt-4.1"},
		"anthropic": {"claude-3-7-sonnet-20250219", "claude-3-5-haiku-20241022"},
		"ollama":    {"llama3.1", "mistral"},
		"bedrock":   {"anthropic.claude-3-sonnet-20240229-v1:0"},
	}
	for _, p := range cfg.Providers {
		ids, ok := seeds[p.Type]
		if !ok {
			continue
		}
		for _, id := range ids {
			registry.Register(p.Name, &domain.ModelDescriptor{Provider: p.Name, ID: id, DisplayName: id})
		}
		def := p.DefaultModel
		if def == "" {
			def = ids[0]
		}
		registry.SetDefault(p.Name, def)
		registry.RegisterAlias(p.Name, "auto", def)
		registry.RegisterAlias(p.Name, "default", def)

		if r, ok := cfg.ModelRestrictions[p.Name]; ok {
			registry.SetRestrictions(p.Name, domain.ModelRestrictions{
				AllowedModels:   r.AllowedModels,
				AllowedPatterns: r.AllowedPatterns,
				BlockedModels:   r.BlockedModels,
			})
		}
	}
}

func defaultProviderName(cfg *config.Config) string {
	if len(cfg.Providers) == 0 {
		return ""
	}
	return cfg.Providers[0].Name
}

func issuerURL(cfg *config.Config) string {
	if cfg.OAuth.BaseURL != "" {
		return cfg.OAuth.BaseURL
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Port)
}

// buildResponseCache wires the Semantic Response Cache (SPEC_FULL §4.P)
// only when a Postgres store (and therefore pgvector) is available; the
// in-memory backend has no vector index to search, so the cache stays
// disabled (a pure miss-through no-op) rather than faking similarity
// search with a linear scan no caller exercises.
func buildResponseCache(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) executor.ResponseCache {
	pg, ok := store.(*postgres.Store)
	if !ok {
		return nil
	}
	var embedClient cache.EmbeddingClient
	switch cfg.TokenTracking.Enabled {
	case true:
		embedClient = &cache.OllamaEmbeddingClient{}
	default:
		return nil
	}
	embedder := cache.NewEmbeddingService(embedClient, "")
	svc := cache.NewService(pg.DB(), embedder, cache.Policy{Enabled: true, TTL: 24 * time.Hour, SimilarityThreshold: 0.95}, logger)
	if err := svc.Migrate(ctx); err != nil {
		logger.Warn("semantic cache migration failed, disabling cache", "error", err)
		return nil
	}
	return svc
}
