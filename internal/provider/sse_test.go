package provider

import (
	"io"
	"strings"
	"testing"
)

func TestSSEReaderParsesEventFields(t *testing.T) {
	r := NewSSEReader(strings.NewReader("event: message\nid: 1\ndata: hello\n\n"))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Event != "message" || ev.ID != "1" || ev.Data != "hello" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestSSEReaderJoinsMultilineData(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: line one\ndata: line two\n\n"))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Data != "line one\nline two" {
		t.Errorf("unexpected joined data: %q", ev.Data)
	}
}

func TestSSEReaderReturnsMultipleEvents(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: first\n\ndata: second\n\n"))
	first, err := r.Next()
	if err != nil || first.Data != "first" {
		t.Fatalf("unexpected first event: %+v, err %v", first, err)
	}
	second, err := r.Next()
	if err != nil || second.Data != "second" {
		t.Fatalf("unexpected second event: %+v, err %v", second, err)
	}
}

func TestSSEReaderReturnsEOFAtStreamEnd(t *testing.T) {
	r := NewSSEReader(strings.NewReader(""))
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF for an empty stream, got %v", err)
	}
}

func TestSSEReaderFlushesFinalEventWithoutTrailingBlankLine(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: no trailing newline"))
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Data != "no trailing newline" {
		t.Errorf("unexpected data: %q", ev.Data)
	}
}
