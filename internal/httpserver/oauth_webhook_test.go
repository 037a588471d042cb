package httpserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"gateway/internal/auth"
	"gateway/internal/catalog"
	"gateway/internal/config"
	"gateway/internal/ledger"
	"gateway/internal/protocol"
	"gateway/internal/storage/memory"
)

func newOAuthTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	authSrv := auth.NewServer(store, store, store, "https://gateway.test")

	s := New(Deps{
		Config:   config.Default(),
		Envelope: protocol.NewDispatcher(catalog.New()),
		AuthServer: authSrv,
		Bearer:   auth.NewBearerValidator(store),
	})
	return s, store
}

func TestHandleRegisterClient(t *testing.T) {
	s, _ := newOAuthTestServer(t)
	body := `{"redirect_uris": ["https://client.test/callback"], "grant_types": ["authorization_code"]}`
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["client_id"] == "" || resp["client_id"] == nil {
		t.Error("expected a client_id in the response")
	}
}

func TestHandleAuthServerMetadata(t *testing.T) {
	s, _ := newOAuthTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleJWKSServesEmptyKeySet(t *testing.T) {
	s, _ := newOAuthTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	keys, ok := resp["keys"].([]any)
	if !ok || len(keys) != 0 {
		t.Errorf("expected an empty keys array, got %+v", resp)
	}
}

func TestHandleAuthorizeRequiresUserID(t *testing.T) {
	s, _ := newOAuthTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/authorize?client_id=c1&redirect_uri=https://client.test/cb", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a user_id, got %d", rec.Code)
	}
}

func TestHandleAuthorizeRedirectsWithCode(t *testing.T) {
	s, store := newOAuthTestServer(t)
	registerResp := registerClientFor(t, s)

	q := url.Values{}
	q.Set("client_id", registerResp["client_id"].(string))
	q.Set("redirect_uri", "https://client.test/callback")
	q.Set("user_id", "user-1")
	q.Set("scope", "generate:write")
	q.Set("state", "xyz")

	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected a 302 redirect, got %d: %s", rec.Code, rec.Body.String())
	}
	loc := rec.Header().Get("Location")
	if loc == "" {
		t.Fatal("expected a Location header")
	}
	parsed, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if parsed.Query().Get("code") == "" {
		t.Error("expected a code query param in the redirect")
	}
	if parsed.Query().Get("state") != "xyz" {
		t.Error("expected state to be echoed back")
	}
	_ = store
}

func registerClientFor(t *testing.T, s *Server) map[string]any {
	t.Helper()
	body := `{"redirect_uris": ["https://client.test/callback"], "grant_types": ["authorization_code"], "token_endpoint_auth_method": "none"}`
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp
}

func TestHandleTokenUnsupportedGrantType(t *testing.T) {
	s, _ := newOAuthTestServer(t)
	form := url.Values{"grant_type": {"client_credentials"}}
	req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unsupported grant type, got %d", rec.Code)
	}
}

func newWebhookTestServer(t *testing.T, secret []byte) *Server {
	t.Helper()
	store := memory.New()
	led := ledger.New(store)
	return New(Deps{
		Config:        config.Default(),
		Envelope:      protocol.NewDispatcher(catalog.New()),
		Ledger:        led,
		WebhookSecret: secret,
	})
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleWebhookCreditsWalletOnValidSignature(t *testing.T) {
	secret := []byte("wh-secret")
	s := newWebhookTestServer(t, secret)

	body := []byte(`{"user_id":"user-1","tokens":100,"payment_id":"pay-1","amount_cents":500,"currency":"usd"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(secret, body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var wallet map[string]any
	json.Unmarshal(rec.Body.Bytes(), &wallet)
	if wallet["BalanceTokens"] != float64(100) {
		t.Errorf("unexpected wallet after credit: %+v", wallet)
	}
}

func TestHandleWebhookRejectsInvalidSignature(t *testing.T) {
	secret := []byte("wh-secret")
	s := newWebhookTestServer(t, secret)

	body := []byte(`{"user_id":"user-1","tokens":100,"payment_id":"pay-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("X-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an invalid signature, got %d", rec.Code)
	}
}

func TestHandleWebhookRejectsMalformedPayload(t *testing.T) {
	secret := []byte("wh-secret")
	s := newWebhookTestServer(t, secret)

	body := []byte(`{"tokens":100}`) // missing user_id and payment_id
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(secret, body))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed payload, got %d", rec.Code)
	}
}
