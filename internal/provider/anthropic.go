package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gateway/internal/domain"
)

// AnthropicAdapter talks to the Messages API, grounded on the teacher's
// internal/provider/anthropic.go. Anthropic separates the system prompt
// from the message list and reports usage under input_tokens/output_tokens.
type AnthropicAdapter struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
}

func NewAnthropicAdapter(apiKey string) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider: Anthropic API key required")
	}
	return &AnthropicAdapter{
		apiKey:     apiKey,
		baseURL:    "https://api.anthropic.com/v1",
		version:    "2023-06-01",
		httpClient: BuildHTTPClient(0, 0),
	}, nil
}

func (a *AnthropicAdapter) Name() string                 { return "anthropic" }
func (a *AnthropicAdapter) SupportsNativeWebSearch() bool { return true }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature,omitempty"`
	Tools       []map[string]any    `json:"tools,omitempty"`
	ToolChoice  map[string]any      `json:"tool_choice,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) Generate(ctx context.Context, model string, messages []domain.Message, opts domain.GenerateOptions) (*domain.GenerateResult, error) {
	req := anthropicRequest{Model: model, MaxTokens: opts.MaxTokens, Temperature: opts.Temperature}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}

	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	for _, t := range opts.Tools {
		if t.Kind == domain.ToolKindNative {
			req.Tools = append(req.Tools, map[string]any{"type": t.Native, "name": t.Native})
			continue
		}
		req.Tools = append(req.Tools, map[string]any{
			"name":         t.Function.Name,
			"description":  t.Function.Description,
			"input_schema": t.Function.Parameters,
		})
	}
	if opts.ToolChoice == domain.ToolChoiceNone {
		req.ToolChoice = map[string]any{"type": "none"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &VendorError{Kind: ErrBadRequest, Provider: a.Name(), Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}

	var parsed anthropicResponse
	if resp.StatusCode != http.StatusOK {
		kind := ClassifyStatus(resp.StatusCode)
		msg := string(raw)
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &VendorError{Kind: kind, Status: resp.StatusCode, Provider: a.Name(), Message: msg}
	}

	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &VendorError{Kind: ErrUpstream, Provider: a.Name(), Message: "malformed response: " + err.Error()}
	}

	result := &domain.GenerateResult{
		Usage: domain.Usage{PromptTokens: parsed.Usage.InputTokens, CompletionTokens: parsed.Usage.OutputTokens},
	}
	result.Usage.Normalize()

	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, domain.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	switch parsed.StopReason {
	case "max_tokens":
		result.FinishReason = domain.FinishLength
	case "tool_use":
		result.FinishReason = domain.FinishToolCalls
	default:
		result.FinishReason = domain.FinishStop
	}
	return result, nil
}
