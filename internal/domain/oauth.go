package domain

import (
	"context"
	"time"
)

// AuthCode is a one-shot authorization code issued by /authorize and
// consumed by /token.
type AuthCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string // "S256" or "plain"
	UserID              string
	ExpiresAt           time.Time
	Consumed            bool
}

// MaxAuthCodeLifetime bounds an AuthCode's expires_at relative to issuance.
const MaxAuthCodeLifetime = 10 * time.Minute

// AccessToken is a bearer token with an associated refresh token.
type AccessToken struct {
	Token        string
	RefreshToken string
	UserID       string
	ClientID     string
	Scopes       []string
	CreatedAt    time.Time
	ExpiresIn    time.Duration
}

// Expired reports whether the token is past its lifetime as of now.
func (t AccessToken) Expired(now time.Time) bool {
	return now.After(t.CreatedAt.Add(t.ExpiresIn))
}

// OAuthClient is a registered OAuth2 client. Confidential clients carry a
// secret hash; public clients (e.g. PKCE-only native apps) do not.
type OAuthClient struct {
	ID               string
	SecretHash       string // bcrypt hash, empty for public clients
	RedirectURIs     []string
	GrantTypes       []string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	CreatedAt        time.Time
}

// IsConfidential reports whether this client was issued a secret.
func (c OAuthClient) IsConfidential() bool {
	return c.SecretHash != ""
}

// AllowsRedirect reports whether uri is in the client's allow-list.
func (c OAuthClient) AllowsRedirect(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// TokenRepository stores issued access/refresh tokens, keyed for O(1)
// lookup by token string.
type TokenRepository interface {
	PutToken(ctx context.Context, token *AccessToken) error
	GetToken(ctx context.Context, token string) (*AccessToken, error)
	GetTokenByRefresh(ctx context.Context, refreshToken string) (*AccessToken, error)
	RevokeToken(ctx context.Context, token string) error
}

// AuthCodeRepository stores authorization codes with single-use semantics.
type AuthCodeRepository interface {
	PutAuthCode(ctx context.Context, code *AuthCode) error
	// ConsumeAuthCode atomically marks the code consumed and returns it, or
	// ErrAuthCodeConsumed/ErrNotFound if it cannot be exchanged again.
	ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, error)
}

// OAuthClientRepository stores dynamically registered clients.
type OAuthClientRepository interface {
	CreateClient(ctx context.Context, client *OAuthClient) error
	GetClient(ctx context.Context, id string) (*OAuthClient, error)
}
