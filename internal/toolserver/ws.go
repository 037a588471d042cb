package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gateway/internal/domain"
)

// wsTransport speaks the same envelope shape as the stdio transport but
// over a persistent websocket connection (spec §4.I ws transport),
// grounded on the teacher's websocket handling in internal/mcp/gateway.go
// and adapted to gorilla/websocket since the teacher's ws client code
// uses that package for its own server-side upgrade path.
type wsTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	nextID atomic.Int64

	pending   map[int64]chan envelopeResponse
	pendingMu sync.Mutex

	readErr chan error
}

func newWSTransport(ctx context.Context, url string, headers http.Header) (*wsTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("toolserver: ws dial: %w", err)
	}

	t := &wsTransport{
		conn:    conn,
		pending: make(map[int64]chan envelopeResponse),
		readErr: make(chan error, 1),
	}
	go t.readLoop()
	return t, nil
}

func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.readErr <- err
			t.failAllPending(err)
			return
		}
		var resp envelopeResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		t.pendingMu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (t *wsTransport) failAllPending(err error) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		ch <- envelopeResponse{ID: id, Error: &struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: 0, Message: err.Error()}}
	}
	t.pending = make(map[int64]chan envelopeResponse)
}

func (t *wsTransport) call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	id := t.nextID.Add(1)
	req := envelopeRequest{Version: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	respCh := make(chan envelopeResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respCh
	t.pendingMu.Unlock()

	t.mu.Lock()
	err = t.conn.WriteMessage(websocket.TextMessage, body)
	t.mu.Unlock()
	if err != nil {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		return nil, fmt.Errorf("toolserver: ws write: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("toolserver: %s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *wsTransport) Initialize(ctx context.Context) ([]domain.RemoteTool, error) {
	if _, err := t.call(ctx, "initialize", nil); err != nil {
		return nil, err
	}
	result, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	return parseToolList(result)
}

func (t *wsTransport) Invoke(ctx context.Context, tool string, args map[string]any) (string, error) {
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

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
