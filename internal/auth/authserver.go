package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gateway/internal/domain"
)

var (
	ErrInvalidClient      = errors.New("auth: invalid_client")
	ErrInvalidGrant       = errors.New("auth: invalid_grant")
	ErrUnsupportedGrant   = errors.New("auth: unsupported_grant_type")
	ErrInvalidRedirectURI = errors.New("auth: redirect_uri not registered for client")
)

const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Server is the OAuth2 authorization server (spec §4.C): dynamic client
// registration, authorization-code+PKCE issuance and exchange, and
// refresh-token rotation. Grounded on the teacher's domain.OIDCConfig/
// AuthType enumeration showing OIDC-awareness, generalized here into a
// full authorization-code grant implementation the teacher never built.
type Server struct {
	clients   domain.OAuthClientRepository
	authCodes domain.AuthCodeRepository
	tokens    domain.TokenRepository

	Issuer string
}

func NewServer(clients domain.OAuthClientRepository, authCodes domain.AuthCodeRepository, tokens domain.TokenRepository, issuer string) *Server {
	return &Server{clients: clients, authCodes: authCodes, tokens: tokens, Issuer: issuer}
}

func randomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RegisterClientInput is the dynamic-client-registration request body
// (spec §6 "POST /oauth/register").
type RegisterClientInput struct {
	RedirectURIs []string
	GrantTypes   []string
	Confidential bool
}

// RegisterClientResult carries the plaintext secret exactly once, at
// registration time; only its bcrypt hash is ever persisted.
type RegisterClientResult struct {
	ClientID     string
	ClientSecret string // empty for public clients
}

// RegisterClient implements dynamic client registration with a
// redirect-URI allow-list (spec §4.C).
func (s *Server) RegisterClient(ctx context.Context, in RegisterClientInput) (*RegisterClientResult, error) {
	if len(in.RedirectURIs) == 0 {
		return nil, fmt.Errorf("auth: at least one redirect_uri is required")
	}
	clientID, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	grantTypes := in.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	client := &domain.OAuthClient{
		ID:              clientID,
		RedirectURIs:    in.RedirectURIs,
		GrantTypes:      grantTypes,
		AccessTokenTTL:  DefaultAccessTokenTTL,
		RefreshTokenTTL: DefaultRefreshTokenTTL,
		CreatedAt:       time.Now(),
	}

	result := &RegisterClientResult{ClientID: clientID}
	if in.Confidential {
		secret, err := randomToken(24)
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		client.SecretHash = string(hash)
		result.ClientSecret = secret
	}

	if err := s.clients.CreateClient(ctx, client); err != nil {
		return nil, err
	}
	return result, nil
}

// AuthorizeInput is the validated /authorize request.
type AuthorizeInput struct {
	ClientID            string
	RedirectURI          string
	Scopes               []string
	CodeChallenge        string
	CodeChallengeMethod  string
	UserID               string // resolved by the time /authorize issues a code (post-login)
}

// Authorize persists a one-shot AuthCode (spec §4.C, §3 AuthCode
// invariant "expires_at <= created_at + 10 min").
func (s *Server) Authorize(ctx context.Context, in AuthorizeInput) (string, error) {
	client, err := s.clients.GetClient(ctx, in.ClientID)
	if err != nil {
		return "", ErrInvalidClient
	}
	if !client.AllowsRedirect(in.RedirectURI) {
		return "", ErrInvalidRedirectURI
	}

	code, err := randomToken(24)
	if err != nil {
		return "", err
	}
	now := time.Now()
	authCode := &domain.AuthCode{
		Code:                code,
		ClientID:            in.ClientID,
		RedirectURI:         in.RedirectURI,
		Scopes:              in.Scopes,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: in.CodeChallengeMethod,
		UserID:              in.UserID,
		ExpiresAt:           now.Add(domain.MaxAuthCodeLifetime),
	}
	if err := s.authCodes.PutAuthCode(ctx, authCode); err != nil {
		return "", err
	}
	return code, nil
}

// ExchangeInput is the validated /token request for the
// authorization_code grant.
type ExchangeInput struct {
	Code         string
	CodeVerifier string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Exchange consumes an AuthCode and issues a new AccessToken+RefreshToken
// (spec §4.C: "a second exchange of a consumed code -> invalid_grant").
func (s *Server) Exchange(ctx context.Context, in ExchangeInput) (*domain.AccessToken, error) {
	client, err := s.clients.GetClient(ctx, in.ClientID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	if client.IsConfidential() {
		if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(in.ClientSecret)) != nil {
			return nil, ErrInvalidClient
		}
	}

	authCode, err := s.authCodes.ConsumeAuthCode(ctx, in.Code)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if authCode.ClientID != in.ClientID || authCode.RedirectURI != in.RedirectURI {
		return nil, ErrInvalidGrant
	}
	if time.Now().After(authCode.ExpiresAt) {
		return nil, ErrInvalidGrant
	}
	if !VerifyPKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, in.CodeVerifier) {
		return nil, ErrInvalidGrant
	}

	return s.issueToken(ctx, authCode.UserID, in.ClientID, authCode.Scopes, client)
}

// Refresh rotates an access token's value from its refresh token (spec
// §3 AccessToken invariant: "refresh rotates the access token's value").
func (s *Server) Refresh(ctx context.Context, refreshToken, clientID string) (*domain.AccessToken, error) {
	old, err := s.tokens.GetTokenByRefresh(ctx, refreshToken)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if old.ClientID != clientID {
		return nil, ErrInvalidGrant
	}
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	if err := s.tokens.RevokeToken(ctx, old.Token); err != nil {
		return nil, err
	}
	return s.issueToken(ctx, old.UserID, clientID, old.Scopes, client)
}

func (s *Server) issueToken(ctx context.Context, userID, clientID string, scopes []string, client *domain.OAuthClient) (*domain.AccessToken, error) {
	accessToken, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	refreshToken, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	ttl := client.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	tok := &domain.AccessToken{
		Token:        accessToken,
		RefreshToken: refreshToken,
		UserID:       userID,
		ClientID:     clientID,
		Scopes:       scopes,
		CreatedAt:    time.Now(),
		ExpiresIn:    ttl,
	}
	if err := s.tokens.PutToken(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// DiscoveryDocument builds the authorization-server metadata document
// served at /.well-known/oauth-authorization-server (spec §6).
func (s *Server) DiscoveryDocument() map[string]any {
	return map[string]any{
		"issuer":                                s.Issuer,
		"authorization_endpoint":                s.Issuer + "/authorize",
		"token_endpoint":                        s.Issuer + "/token",
		"registration_endpoint":                 s.Issuer + "/oauth/register",
		"jwks_uri":                              s.Issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
	}
}

// ProtectedResourceDocument is served at
// /.well-known/oauth-protected-resource.
func (s *Server) ProtectedResourceDocument() map[string]any {
	return map[string]any{
		"resource":                s.Issuer,
		"authorization_servers":   []string{s.Issuer},
		"bearer_methods_supported": []string{"header"},
	}
}

// OIDCConfiguration is served at /.well-known/openid-configuration.
func (s *Server) OIDCConfiguration() map[string]any {
	doc := s.DiscoveryDocument()
	doc["userinfo_endpoint"] = s.Issuer + "/userinfo"
	doc["subject_types_supported"] = []string{"public"}
	doc["id_token_signing_alg_values_supported"] = []string{"RS256"}
	return doc
}

// FederatedStatePayload decodes the opaque, caller-chosen `state`
// parameter carried through a federated-login redirect round-trip (spec
// §4.C: "the extension protocol allows the opaque state parameter to
// carry a caller-chosen payload that is returned to the opener verbatim
// after successful login"). Validated for non-emptiness and clean
// decoding before any side effect is applied, per spec.
func FederatedStatePayload(encoded string) (map[string]any, error) {
	if encoded == "" {
		return nil, fmt.Errorf("auth: empty state parameter")
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		// Tolerate standard-padding base64 too, since callers vary.
		raw, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("auth: state parameter does not decode cleanly: %w", err)
		}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("auth: state payload is not valid JSON: %w", err)
	}
	return payload, nil
}

// EncodeFederatedState is the inverse of FederatedStatePayload, used
// when constructing the redirect to the external identity provider.
func EncodeFederatedState(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
