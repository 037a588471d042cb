package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gateway/internal/domain"
)

// OpenAIAdapter talks to the OpenAI-compatible chat completions API,
// grounded on the teacher's internal/provider/openai.go.
type OpenAIAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIAdapter(apiKey, baseURL string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider: OpenAI API key required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIAdapter{apiKey: apiKey, baseURL: baseURL, httpClient: BuildHTTPClient(0, 0)}, nil
}

func (a *OpenAIAdapter) Name() string                    { return "openai" }
func (a *OpenAIAdapter) SupportsNativeWebSearch() bool    { return true }

type openaiMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string                 `json:"type"`
	Function map[string]any         `json:"function"`
}

func (a *OpenAIAdapter) buildRequest(model string, messages []domain.Message, opts domain.GenerateOptions) map[string]any {
	msgs := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openaiMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID})
	}

	req := map[string]any{
		"model":    model,
		"messages": msgs,
	}
	if opts.MaxTokens > 0 {
		req["max_tokens"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req["temperature"] = opts.Temperature
	}
	if len(opts.Tools) > 0 {
		tools := make([]openaiTool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			if t.Kind == domain.ToolKindNative {
				// Vendor-native tools are passed through untouched (§4.F);
				// OpenAI's web_search tool is the only one wired here.
				tools = append(tools, openaiTool{Type: t.Native})
				continue
			}
			tools = append(tools, openaiTool{
				Type: "function",
				Function: map[string]any{
					"name":        t.Function.Name,
					"description": t.Function.Description,
					"parameters":  t.Function.Parameters,
				},
			})
		}
		req["tools"] = tools
	}
	if opts.ToolChoice == domain.ToolChoiceNone {
		req["tool_choice"] = "none"
	} else if opts.ToolChoice == domain.ToolChoiceAuto && len(opts.Tools) > 0 {
		req["tool_choice"] = "auto"
	}
	return req
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs a single non-streaming chat completion.
func (a *OpenAIAdapter) Generate(ctx context.Context, model string, messages []domain.Message, opts domain.GenerateOptions) (*domain.GenerateResult, error) {
	body, err := json.Marshal(a.buildRequest(model, messages, opts))
	if err != nil {
		return nil, &VendorError{Kind: ErrBadRequest, Provider: a.Name(), Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &VendorError{Kind: ErrTransport, Provider: a.Name(), Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		kind := ClassifyStatus(resp.StatusCode)
		msg := string(raw)
		var parsed openaiResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &VendorError{Kind: kind, Status: resp.StatusCode, Provider: a.Name(), Message: msg}
	}

	var parsed openaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &VendorError{Kind: ErrUpstream, Provider: a.Name(), Message: "malformed response: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return nil, &VendorError{Kind: ErrUpstream, Provider: a.Name(), Message: "no choices in response"}
	}
	choice := parsed.Choices[0]

	result := &domain.GenerateResult{
		Text: choice.Message.Content,
		Usage: domain.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		FinishReason: normalizeFinishReason(choice.FinishReason),
	}
	result.Usage.Normalize()

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return result, nil
}

func normalizeFinishReason(s string) domain.FinishReason {
	switch strings.ToLower(s) {
	case "length":
		return domain.FinishLength
	case "tool_calls", "function_call":
		return domain.FinishToolCalls
	case "content_filter":
		return domain.FinishContentFilter
	default:
		return domain.FinishStop
	}
}
