package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gateway/internal/domain"
)

func TestHashPromptStableAndSensitiveToContent(t *testing.T) {
	a := HashPrompt("hello world")
	b := HashPrompt("hello world")
	c := HashPrompt("hello World")
	if a != b {
		t.Error("expected the same prompt to hash the same way")
	}
	if a == c {
		t.Error("expected a different prompt to hash differently")
	}
}

func TestNormalizePromptTrimsAndTags(t *testing.T) {
	got := NormalizePrompt("  what's the weather?  ")
	if got != "user:what's the weather?" {
		t.Errorf("unexpected normalized prompt: %q", got)
	}
}

func TestDecodeCachedRoundTrip(t *testing.T) {
	payload, _ := json.Marshal(cachedResult{
		Text:         "cached answer",
		Usage:        domain.Usage{PromptTokens: 3, CompletionTokens: 2},
		FinishReason: domain.FinishStop,
	})
	result := decodeCached(payload, 3, 2)
	if result == nil {
		t.Fatal("expected a decoded result")
	}
	if result.Text != "cached answer" || result.Usage.TotalTokens != 5 {
		t.Errorf("unexpected decoded result: %+v", result)
	}
}

func TestDecodeCachedRejectsMalformedJSON(t *testing.T) {
	if decodeCached([]byte("not-json"), 0, 0) != nil {
		t.Error("expected malformed JSON to decode to nil")
	}
}

func TestGetReturnsMissWhenPolicyDisabled(t *testing.T) {
	svc := NewService(nil, nil, Policy{Enabled: false}, nil)
	_, ok := svc.Get(context.Background(), "user-1", "gpt-4o", "hello")
	if ok {
		t.Error("expected a disabled cache to always miss")
	}
}

func TestGetReturnsMissWhenNoDB(t *testing.T) {
	svc := NewService(nil, nil, Policy{Enabled: true}, nil)
	_, ok := svc.Get(context.Background(), "user-1", "gpt-4o", "hello")
	if ok {
		t.Error("expected a cache with no database to always miss")
	}
}

func TestSetNoOpsWhenPolicyDisabled(t *testing.T) {
	svc := NewService(nil, nil, Policy{Enabled: false}, nil)
	// Must not panic despite a nil db — Set exits before ever touching it.
	svc.Set(context.Background(), "user-1", "gpt-4o", "openai", "hello", &domain.GenerateResult{Text: "hi"})
}

type fakeEmbeddingClient struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func TestEmbeddingServiceGenerateEmbedding(t *testing.T) {
	client := &fakeEmbeddingClient{vectors: [][]float32{{0.1, 0.2, 0.3}}}
	svc := NewEmbeddingService(client, "test-model")

	vec, err := svc.GenerateEmbedding(context.Background(), "hello")
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if len(vec.Slice()) != 3 {
		t.Errorf("expected a 3-dimensional vector, got %v", vec.Slice())
	}
}

func TestEmbeddingServiceRejectsEmptyResult(t *testing.T) {
	client := &fakeEmbeddingClient{vectors: [][]float32{}}
	svc := NewEmbeddingService(client, "")
	if _, err := svc.GenerateEmbedding(context.Background(), "hello"); err == nil {
		t.Error("expected an error when the embedder returns no vectors")
	}
}

func TestEmbeddingServicePropagatesClientError(t *testing.T) {
	client := &fakeEmbeddingClient{err: errors.New("boom")}
	svc := NewEmbeddingService(client, "")
	if _, err := svc.GenerateEmbedding(context.Background(), "hello"); err == nil {
		t.Error("expected the embedding client's error to propagate")
	}
}

func TestEmbeddingServiceRequiresConfiguredClient(t *testing.T) {
	svc := NewEmbeddingService(nil, "")
	if _, err := svc.GenerateEmbedding(context.Background(), "hello"); err == nil {
		t.Error("expected an error when no embedding client is configured")
	}
}
