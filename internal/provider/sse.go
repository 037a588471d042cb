package provider

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one server-sent event frame, grounded on the teacher's
// internal/provider/sse.go.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
}

// SSEReader parses an SSE stream line by line.
type SSEReader struct {
	scanner *bufio.Scanner
}

func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEReader{scanner: scanner}
}

// Next returns the next event, or io.EOF when the stream ends.
func (r *SSEReader) Next() (*SSEEvent, error) {
	event := &SSEEvent{}
	sawData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if sawData {
				return event, nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if sawData {
				event.Data += "\n"
			}
			event.Data += strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			sawData = true
		case strings.HasPrefix(line, "id:"):
			event.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		}
	}
	if sawData {
		return event, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
