package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"gateway/internal/domain"
)

// OllamaAdapter talks to a local Ollama instance, grounded on the
// teacher's internal/provider/ollama.go. Ollama requires no API key.
type OllamaAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaAdapter(baseURL string) (*OllamaAdapter, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAdapter{baseURL: baseURL, httpClient: BuildHTTPClient(0, 0)}, nil
}

func (a *OllamaAdapter) Name() string                 { return "ollama" }
func (a *OllamaAdapter) SupportsNativeWebSearch() bool { return false }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason     string `json:"done_reason"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
	Error           string `json:"error"`
}

func (a *OllamaAdapter) Generate(ctx context.Context, model string, messages []domain.Message, opts domain.GenerateOptions) (*domain.GenerateResult, error) {
	req := ollamaRequest{Model: model, Stream: false}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	if opts.Temperature > 0 {
		req.Options = map[string]any{"temperature": opts.Temperature}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &VendorError{Kind: ErrBadRequest, Provider: a.Name(), Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}

	var parsed ollamaResponse
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(raw, &parsed)
		msg := parsed.Error
		if msg == "" {
			msg = string(raw)
		}
		return nil, &VendorError{Kind: ClassifyStatus(resp.StatusCode), Status: resp.StatusCode, Provider: a.Name(), Message: msg}
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &VendorError{Kind: ErrUpstream, Provider: a.Name(), Message: "malformed response: " + err.Error()}
	}
	if parsed.Error != "" {
		return nil, &VendorError{Kind: ErrUpstream, Provider: a.Name(), Message: parsed.Error}
	}

	result := &domain.GenerateResult{
		Text:         parsed.Message.Content,
		Usage:        domain.Usage{PromptTokens: parsed.PromptEvalCount, CompletionTokens: parsed.EvalCount},
		FinishReason: domain.FinishStop,
	}
	result.Usage.Normalize()
	if parsed.DoneReason == "length" {
		result.FinishReason = domain.FinishLength
	}
	return result, nil
}
