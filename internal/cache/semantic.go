// Package cache implements the Semantic Response Cache (SPEC_FULL §4.P):
// embeds the normalized prompt, stores it with pgvector, and is
// consulted immediately before the AI Executor's upstream call and
// populated immediately after usage accounting. Grounded on the
// teacher's internal/cache/semantic package, collapsed from its
// per-tenant repository/service split down to one Service over a single
// database, matching this gateway's single-store shape.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"

	"gateway/internal/domain"
)

// Policy gates whether a scope may read/write the cache and how long an
// entry lives, mirroring the teacher's CachingPolicy.
type Policy struct {
	Enabled              bool
	TTL                  time.Duration
	SimilarityThreshold  float64 // 0..1; 1 means exact match only
}

// Service is the Semantic Response Cache, backed directly by *sql.DB —
// grounded on the teacher's Repository, trimmed of tenant-store
// indirection.
type Service struct {
	db        *sql.DB
	embedder  *EmbeddingService
	policy    Policy
	logger    *slog.Logger
}

func NewService(db *sql.DB, embedder *EmbeddingService, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.SimilarityThreshold == 0 {
		policy.SimilarityThreshold = 0.95
	}
	return &Service{db: db, embedder: embedder, policy: policy, logger: logger}
}

// Migrate creates the semantic_cache table and the pgvector extension it
// depends on. Called once at startup alongside storage/postgres's own
// migration, kept separate since the cache is optional.
func (s *Service) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS semantic_cache (
			id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
			scope_key TEXT,
			model TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			response_content JSONB NOT NULL,
			embedding vector(1536),
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			provider TEXT,
			hit_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			last_hit_at TIMESTAMPTZ,
			UNIQUE(request_hash, model)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type cachedResult struct {
	Text         string            `json:"text"`
	Usage        domain.Usage      `json:"usage"`
	FinishReason domain.FinishReason `json:"finish_reason"`
}

// Get implements executor.ResponseCache. It tries the exact-hash fast
// path first, then falls back to pgvector similarity search — the same
// two-tier lookup as the teacher's GetByHash/SearchBySimilarity pair.
func (s *Service) Get(ctx context.Context, scopeKey, model, content string) (*domain.GenerateResult, bool) {
	if !s.policy.Enabled || s.db == nil {
		return nil, false
	}
	normalized := NormalizePrompt(content)
	hash := HashPrompt(normalized)

	if result := s.getByHash(ctx, scopeKey, model, hash); result != nil {
		return result, true
	}
	if s.embedder == nil {
		return nil, false
	}
	embedding, err := s.embedder.GenerateEmbedding(ctx, normalized)
	if err != nil {
		s.logger.Warn("cache embedding failed", "error", err)
		return nil, false
	}
	if result := s.searchBySimilarity(ctx, scopeKey, model, embedding); result != nil {
		return result, true
	}
	return nil, false
}

func (s *Service) getByHash(ctx context.Context, scopeKey, model, hash string) *domain.GenerateResult {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, response_content, prompt_tokens, completion_tokens
		FROM semantic_cache
		WHERE model = $1 AND request_hash = $2 AND (scope_key = $3 OR scope_key IS NULL) AND expires_at > now()
		ORDER BY scope_key NULLS LAST LIMIT 1`, model, hash, scopeKey)

	var id string
	var raw []byte
	var promptTokens, completionTokens int
	if err := row.Scan(&id, &raw, &promptTokens, &completionTokens); err != nil {
		return nil
	}
	go s.incrementHit(context.Background(), id)
	return decodeCached(raw, promptTokens, completionTokens)
}

func (s *Service) searchBySimilarity(ctx context.Context, scopeKey, model string, embedding pgvector.Vector) *domain.GenerateResult {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, response_content, prompt_tokens, completion_tokens,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM semantic_cache
		WHERE model = $2 AND (scope_key = $3 OR scope_key IS NULL) AND expires_at > now()
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1::vector) >= $4
		ORDER BY similarity DESC LIMIT 1`, embedding, model, scopeKey, s.policy.SimilarityThreshold)

	var id string
	var raw []byte
	var promptTokens, completionTokens int
	var similarity float64
	if err := row.Scan(&id, &raw, &promptTokens, &completionTokens, &similarity); err != nil {
		return nil
	}
	go s.incrementHit(context.Background(), id)
	return decodeCached(raw, promptTokens, completionTokens)
}

func decodeCached(raw []byte, promptTokens, completionTokens int) *domain.GenerateResult {
	var cr cachedResult
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil
	}
	usage := cr.Usage
	usage.Normalize()
	return &domain.GenerateResult{Text: cr.Text, Usage: usage, FinishReason: cr.FinishReason}
}

func (s *Service) incrementHit(ctx context.Context, id string) {
	_, _ = s.db.ExecContext(ctx, `UPDATE semantic_cache SET hit_count = hit_count + 1, last_hit_at = now() WHERE id = $1`, id)
}

// Set implements executor.ResponseCache.
func (s *Service) Set(ctx context.Context, scopeKey, model, provider, content string, result *domain.GenerateResult) {
	if !s.policy.Enabled || s.db == nil || result == nil {
		return
	}
	normalized := NormalizePrompt(content)
	hash := HashPrompt(normalized)

	payload, err := json.Marshal(cachedResult{Text: result.Text, Usage: result.Usage, FinishReason: result.FinishReason})
	if err != nil {
		s.logger.Warn("cache marshal failed", "error", err)
		return
	}
	ttl := s.policy.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	expiresAt := time.Now().Add(ttl)

	var scopeKeyArg any
	if scopeKey != "" {
		scopeKeyArg = scopeKey
	}

	var embedding *pgvector.Vector
	if s.embedder != nil {
		v, err := s.embedder.GenerateEmbedding(ctx, normalized)
		if err == nil {
			embedding = &v
		}
	}

	if embedding != nil {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO semantic_cache (scope_key, model, request_hash, response_content, embedding, prompt_tokens, completion_tokens, provider, expires_at)
			VALUES ($1,$2,$3,$4,$5::vector,$6,$7,$8,$9)
			ON CONFLICT (request_hash, model) DO UPDATE SET
				response_content = EXCLUDED.response_content, embedding = EXCLUDED.embedding,
				prompt_tokens = EXCLUDED.prompt_tokens, completion_tokens = EXCLUDED.completion_tokens,
				provider = EXCLUDED.provider, expires_at = EXCLUDED.expires_at, last_hit_at = now()`,
			scopeKeyArg, model, hash, payload, *embedding, result.Usage.PromptTokens, result.Usage.CompletionTokens, provider, expiresAt)
		if err == nil {
			return
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO semantic_cache (scope_key, model, request_hash, response_content, prompt_tokens, completion_tokens, provider, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (request_hash, model) DO UPDATE SET
			response_content = EXCLUDED.response_content, prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens, provider = EXCLUDED.provider,
			expires_at = EXCLUDED.expires_at, last_hit_at = now()`,
		scopeKeyArg, model, hash, payload, result.Usage.PromptTokens, result.Usage.CompletionTokens, provider, expiresAt)
	if err != nil {
		s.logger.Warn("cache set failed", "error", err)
	}
}

// Cleanup deletes expired entries; intended to run on a periodic ticker.
func (s *Service) Cleanup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM semantic_cache WHERE expires_at < now()`)
	return err
}
