package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"gateway/internal/domain"
)

// httpSSETransport speaks JSON-RPC-shaped requests over HTTP, tolerating
// a server that answers either as plain JSON or as a single SSE "data:"
// frame (spec §4.I: "initial handshake and tool discovery over HTTP;
// tool invocations as request/response"), grounded directly on the
// teacher's listToolsSSE/executeToolSSE response-format sniffing.
type httpSSETransport struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
	nextID   atomic.Int64
}

func newHTTPSSETransport(endpoint string, headers map[string]string, timeout time.Duration) *httpSSETransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpSSETransport{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		headers:  headers,
	}
}

func (t *httpSSETransport) call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      t.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("toolserver: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("toolserver: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("toolserver: server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var rpcResponse map[string]any
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") || strings.HasPrefix(string(raw), "event:") || strings.HasPrefix(string(raw), "data:") {
		rpcResponse, err = parseSSEJSONFrame(raw)
		if err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(raw, &rpcResponse); err != nil {
		return nil, fmt.Errorf("toolserver: decode json: %w", err)
	}

	if errObj, ok := rpcResponse["error"]; ok {
		return nil, fmt.Errorf("toolserver: remote error: %v", errObj)
	}
	result, _ := rpcResponse["result"].(map[string]any)
	return result, nil
}

func parseSSEJSONFrame(raw []byte) (map[string]any, error) {
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		jsonData := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var out map[string]any
		if err := json.Unmarshal([]byte(jsonData), &out); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("toolserver: no parsable data frame in SSE response")
}

func (t *httpSSETransport) Initialize(ctx context.Context) ([]domain.RemoteTool, error) {
	if _, err := t.call(ctx, "initialize", nil); err != nil {
		return nil, err
	}
	result, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	return parseToolList(result)
}

func (t *httpSSETransport) Invoke(ctx context.Context, tool string, args map[string]any) (string, error) {
	result, err := t.call(ctx, "tools/call", map[string]any{"name": tool, "arguments": args})
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (t *httpSSETransport) Close() error { return nil }
