package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"gateway/internal/auth"
	"gateway/internal/domain"
)

func (s *Server) handleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	if s.authSrv == nil {
		writeError(w, http.StatusNotFound, "not_found", "oauth not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.authSrv.DiscoveryDocument())
}

func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if s.authSrv == nil {
		writeError(w, http.StatusNotFound, "not_found", "oauth not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.authSrv.ProtectedResourceDocument())
}

func (s *Server) handleOIDCMetadata(w http.ResponseWriter, r *http.Request) {
	if s.authSrv == nil {
		writeError(w, http.StatusNotFound, "not_found", "oauth not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.authSrv.OIDCConfiguration())
}

// handleJWKS serves an empty key set. Access and refresh tokens are
// opaque server-side lookups (auth.BearerValidator), not signed JWTs,
// so there is no signing key to publish; the endpoint exists only
// because discovery documents advertise a jwks_uri and some clients
// fetch it unconditionally.
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
}

type registerClientRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes               []string `json:"grant_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

func (s *Server) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	if s.authSrv == nil {
		writeError(w, http.StatusNotFound, "not_found", "oauth not configured")
		return
	}
	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed registration body")
		return
	}
	confidential := req.TokenEndpointAuthMethod != "none"
	result, err := s.authSrv.RegisterClient(r.Context(), auth.RegisterClientInput{
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   req.GrantTypes,
		Confidential: confidential,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
		return
	}
	resp := map[string]any{
		"client_id":     result.ClientID,
		"redirect_uris": req.RedirectURIs,
	}
	if result.ClientSecret != "" {
		resp["client_secret"] = result.ClientSecret
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleAuthorize issues a one-shot AuthCode for an already-authenticated
// caller. This core treats "who is logged in" as an external collaborator
// (spec §1 non-goals boundary + §4.C federated identity): the caller is
// expected to have established a user_id via that external flow and pass
// it through; a production deployment fronts this endpoint with its own
// login page.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.authSrv == nil {
		writeError(w, http.StatusNotFound, "not_found", "oauth not configured")
		return
	}
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "login_required", "no authenticated user for this authorization request")
		return
	}
	scopes := q["scope"]
	if len(scopes) == 1 {
		scopes = splitScope(scopes[0])
	}
	code, err := s.authSrv.Authorize(r.Context(), auth.AuthorizeInput{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              scopes,
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		UserID:              userID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	redirectURI := q.Get("redirect_uri") + "?code=" + code
	if state := q.Get("state"); state != "" {
		redirectURI += "&state=" + state
	}
	http.Redirect(w, r, redirectURI, http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.authSrv == nil {
		writeError(w, http.StatusNotFound, "not_found", "oauth not configured")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	grantType := r.FormValue("grant_type")
	switch grantType {
	case "authorization_code":
		tok, err := s.authSrv.Exchange(r.Context(), auth.ExchangeInput{
			Code:         r.FormValue("code"),
			CodeVerifier: r.FormValue("code_verifier"),
			ClientID:     r.FormValue("client_id"),
			ClientSecret: r.FormValue("client_secret"),
			RedirectURI:  r.FormValue("redirect_uri"),
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_grant", err.Error())
			return
		}
		writeTokenResponse(w, tok)
	case "refresh_token":
		tok, err := s.authSrv.Refresh(r.Context(), r.FormValue("refresh_token"), r.FormValue("client_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_grant", err.Error())
			return
		}
		writeTokenResponse(w, tok)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func writeTokenResponse(w http.ResponseWriter, tok *domain.AccessToken) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  tok.Token,
		"refresh_token": tok.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(tok.ExpiresIn.Seconds()),
		"scope":         strings.Join(tok.Scopes, " "),
	})
}

func splitScope(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
