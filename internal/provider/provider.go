// Package provider implements the uniform adapter interface over N
// vendor chat APIs (spec §4.F), grounded on the teacher's
// internal/provider package: one Go type per vendor, a shared HTTP
// client builder, and a shared SSE reader for streaming vendors.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gateway/internal/domain"
)

// ErrorKind is the vendor-error taxonomy the adapter normalizes every
// HTTP/transport failure into (spec §4.F).
type ErrorKind string

const (
	ErrUnauthorized  ErrorKind = "unauthorized"
	ErrForbiddenModel ErrorKind = "forbidden_model"
	ErrNotFound      ErrorKind = "not_found"
	ErrRateLimited   ErrorKind = "rate_limited"
	ErrBadRequest    ErrorKind = "bad_request"
	ErrUpstream      ErrorKind = "upstream"
	ErrTransport     ErrorKind = "transport"
)

// VendorError is a normalized adapter failure.
type VendorError struct {
	Kind     ErrorKind
	Status   int
	Message  string
	Provider string
}

func (e *VendorError) Error() string {
	return e.Provider + ": " + string(e.Kind) + ": " + e.Message
}

// Retryable reports whether the adapter may retry this failure. Only
// transport and upstream (5xx) errors are idempotent-retry candidates;
// bad_request must never be retried (spec §4.F).
func (e *VendorError) Retryable() bool {
	return e.Kind == ErrTransport || e.Kind == ErrUpstream
}

// ClassifyStatus maps an HTTP status code to the vendor-error taxonomy,
// shared across every adapter so the mapping stays in one place.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbiddenModel
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 400 && status < 500:
		return ErrBadRequest
	case status >= 500:
		return ErrUpstream
	default:
		return ErrTransport
	}
}

// Adapter is the uniform interface every vendor client implements.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, model string, messages []domain.Message, opts domain.GenerateOptions) (*domain.GenerateResult, error)
	SupportsNativeWebSearch() bool
}

// BuildHTTPClient mirrors the teacher's connection-settings-driven HTTP
// client factory (internal/provider/provider.go).
func BuildHTTPClient(timeout time.Duration, maxConnsPerHost int) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = 32
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConnsPerHost * 2,
		MaxIdleConnsPerHost: maxConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// NormalizeUsage fills in TotalTokens as prompt + completion when the
// vendor omitted it; prompt and completion counts are left as given.
func NormalizeUsage(u domain.Usage) domain.Usage {
	u.Normalize()
	return u
}

// AdapterFactory builds a fresh Adapter bound to a caller-supplied API
// key, for BYOK requests (spec §4.G step 3: "If BYOK key is supplied,
// use it").
type AdapterFactory func(apiKey string) (Adapter, error)

// Manager holds one server-owned Adapter per configured provider plus a
// factory per provider for constructing a BYOK-keyed Adapter on demand,
// resolving the Executor's step-3 key choice (spec §4.G), grounded on
// the teacher's Manager (internal/provider/provider.go).
type Manager struct {
	adapters  map[string]Adapter
	factories map[string]AdapterFactory
}

func NewManager() *Manager {
	return &Manager{adapters: make(map[string]Adapter), factories: make(map[string]AdapterFactory)}
}

// Register installs the server-owned adapter for name, built from the
// server's configured key.
func (m *Manager) Register(name string, a Adapter) {
	m.adapters[name] = a
}

// RegisterFactory installs the constructor used to build a fresh
// Adapter for name from a caller-supplied (BYOK) key.
func (m *Manager) RegisterFactory(name string, factory AdapterFactory) {
	m.factories[name] = factory
}

// Get returns the server-owned adapter for name.
func (m *Manager) Get(name string) (Adapter, error) {
	a, ok := m.adapters[name]
	if !ok {
		return nil, errors.New("provider: unknown provider " + name)
	}
	return a, nil
}

// GetForKey returns the server-owned adapter when apiKey is empty, or a
// freshly constructed adapter bound to apiKey otherwise (BYOK).
func (m *Manager) GetForKey(name, apiKey string) (Adapter, error) {
	if apiKey == "" {
		return m.Get(name)
	}
	factory, ok := m.factories[name]
	if !ok {
		return nil, errors.New("provider: no BYOK factory registered for " + name)
	}
	return factory(apiKey)
}

// Providers lists every registered provider name, for discovery.
func (m *Manager) Providers() []string {
	out := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		out = append(out, name)
	}
	return out
}
