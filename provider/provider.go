// Package provider describes the identity provider the gate signs users in against.
package provider

import (
	"context"
	"time"
)

// Provider is the relying-party view of an OpenID Connect identity provider.
// Implementations must be safe for concurrent use.
type Provider interface {
	// AuthCodeURL builds the authorization request URL. The PKCE verifier is never passed in.
	AuthCodeURL(ctx context.Context, req AuthCodeRequest) (string, error)

	// Exchange redeems an authorization code together with its PKCE verifier.
	Exchange(ctx context.Context, req ExchangeRequest) (*TokenResult, error)

	// Refresh obtains new tokens for one account from its refresh token.
	Refresh(ctx context.Context, req RefreshRequest) (*TokenResult, error)

	// EndSessionURL returns where the browser goes to end the provider session.
	EndSessionURL(ctx context.Context, req EndSessionRequest) (string, error)

	// Revoke asks the provider to revoke a token. Providers without revocation return nil.
	Revoke(ctx context.Context, token, tokenTypeHint string) error
}

// Response modes the callback route accepts.
const (
	ResponseModeFormPost = "form_post"
	ResponseModeQuery    = "query"
)

type AuthCodeRequest struct {
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	// ResponseMode defaults to form_post when empty.
	ResponseMode string
}

type ExchangeRequest struct {
	Code         string
	CodeVerifier string
}

type RefreshRequest struct {
	AccountID    string
	RefreshToken string
	ForceRefresh bool
}

type EndSessionRequest struct {
	IDTokenHint           string
	PostLogoutRedirectURI string
}

// Account identifies the user the tokens were issued to.
type Account struct {
	ID       string
	Username string
	TenantID string
	Claims   map[string]any
}

type TokenResult struct {
	Account      Account
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}
