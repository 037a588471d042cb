package httpserver

import (
	"encoding/json"
	"net/http"

	"gateway/internal/ledger"
)

// webhookPayload is the top-up notification body a payment provider
// posts to /webhooks/{provider}, verified by an HMAC signature header
// before any ledger mutation (spec §4.J).
type webhookPayload struct {
	UserID     string `json:"user_id"`
	Tokens     int64  `json:"tokens"`
	PaymentID  string `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency   string `json:"currency"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "not_found", "ledger not configured")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not read body")
		return
	}
	if len(s.webhookSecret) == 0 || !ledger.VerifyWebhookSignature(s.webhookSecret, body, r.Header.Get("X-Signature")) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.UserID == "" || payload.PaymentID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed webhook payload")
		return
	}

	wallet, err := s.ledger.Credit(r.Context(), payload.UserID, payload.Tokens, payload.PaymentID, payload.AmountCents, payload.Currency, body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not record credit")
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}
