package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"gateway/internal/domain"
)

// stdioTransport talks the line-delimited envelope protocol over a
// long-running child process's stdin/stdout (spec §4.I stdio
// transport), grounded on the teacher's connectStdio/executeToolStdio.
// The same implementation backs the container transport — only how the
// process is launched differs (see container.go).
type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu      sync.Mutex // serializes request/response round-trips on one pipe
	nextID  atomic.Int64
}

// newStdioTransport starts cmd (already configured with Path/Args/Dir/Env)
// and wires its stdio pipes, without yet performing the handshake.
func newStdioTransport(cmd *exec.Cmd) (*stdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("toolserver: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("toolserver: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("toolserver: start: %w", err)
	}
	return &stdioTransport{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

func (t *stdioTransport) call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req := envelopeRequest{Version: "2.0", ID: t.nextID.Add(1), Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	done := make(chan error, 1)
	go func() {
		_, werr := t.stdin.Write(line)
		done <- werr
	}()
	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("toolserver: write: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lineBytes, err := t.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("toolserver: read: %w", err)
	}
	var resp envelopeResponse
	if err := json.Unmarshal(lineBytes, &resp); err != nil {
		return nil, fmt.Errorf("toolserver: malformed response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("toolserver: %s", resp.Error.Message)
	}
	return resp.Result, nil
}

func (t *stdioTransport) Initialize(ctx context.Context) ([]domain.RemoteTool, error) {
	if _, err := t.call(ctx, "initialize", nil); err != nil {
		return nil, err
	}
	result, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	return parseToolList(result)
}

func (t *stdioTransport) Invoke(ctx context.Context, tool string, args map[string]any) (string, error) {
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

func (t *stdioTransport) Close() error {
	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		return t.cmd.Process.Kill()
	}
	return nil
}

// parseToolList decodes the `{tools: [{name, description, inputSchema}]}`
// shape tools/list returns, shared by every transport.
func parseToolList(result map[string]any) ([]domain.RemoteTool, error) {
	rawTools, _ := result["tools"].([]any)
	out := make([]domain.RemoteTool, 0, len(rawTools))
	for _, rt := range rawTools {
		m, ok := rt.(map[string]any)
		if !ok {
			continue
		}
		tool := domain.RemoteTool{
			Name:        stringField(m, "name"),
			Description: stringField(m, "description"),
		}
		if schema, ok := m["inputSchema"].(map[string]any); ok {
			tool.InputSchema = schema
		}
		out = append(out, tool)
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
