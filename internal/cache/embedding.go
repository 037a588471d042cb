package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingClient generates embedding vectors for a batch of texts,
// grounded on the teacher's internal/cache/embedding.EmbeddingClient.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingService wraps an EmbeddingClient and turns prompt text into a
// pgvector.Vector, grounded on the teacher's
// internal/cache/embedding.EmbeddingService.
type EmbeddingService struct {
	client EmbeddingClient
	model  string
}

func NewEmbeddingService(client EmbeddingClient, model string) *EmbeddingService {
	if model == "" {
		model = "nomic-embed-text"
	}
	return &EmbeddingService{client: client, model: model}
}

func (s *EmbeddingService) GenerateEmbedding(ctx context.Context, prompt string) (pgvector.Vector, error) {
	if s.client == nil {
		return pgvector.Vector{}, fmt.Errorf("cache: embedding client not configured")
	}
	embeddings, err := s.client.Embed(ctx, []string{prompt})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("cache: generate embedding: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return pgvector.Vector{}, fmt.Errorf("cache: empty embedding returned")
	}
	return pgvector.NewVector(embeddings[0]), nil
}

// HashPrompt gives the exact-match fast path a stable lookup key before
// falling back to similarity search.
func HashPrompt(prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(h[:])
}

// NormalizePrompt trims the request content and tags it as a user turn;
// the cache key is derived from this single content string only.
func NormalizePrompt(content string) string {
	return "user:" + strings.TrimSpace(content)
}

// OpenAIEmbeddingClient calls OpenAI's /v1/embeddings endpoint, the
// first of the two embedder backends SPEC_FULL §4.P names.
type OpenAIEmbeddingClient struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := c.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	body, err := json.Marshal(map[string]any{"model": model, "input": texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cache: openai embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cache: openai embed returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("cache: decode openai embed response: %w", err)
	}
	out := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// OllamaEmbeddingClient calls a local Ollama server's /api/embeddings
// endpoint, the second embedder backend SPEC_FULL §4.P names.
type OllamaEmbeddingClient struct {
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func (c *OllamaEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := c.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := json.Marshal(map[string]any{"model": model, "prompt": text})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("cache: ollama embed request: %w", err)
		}
		var decoded struct {
			Embedding []float32 `json:"embedding"`
		}
		err = json.NewDecoder(resp.Body).Decode(&decoded)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("cache: decode ollama embed response: %w", err)
		}
		out = append(out, decoded.Embedding)
	}
	return out, nil
}
