package oidcprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/provider"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Config describes the relying party registration at the identity provider.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes are requested in addition to openid, profile, email and offline_access.
	Scopes     []string
	HTTPClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// Provider is an OpenID Connect relying party. Discovery happens on first use
// and is cached; a failed discovery is retried by the next call.
type Provider struct {
	cfg    Config
	client *http.Client

	discoveryLock sync.RWMutex
	discovered    *discovery
}

type discovery struct {
	oauth2        *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	endSessionURL string
	revocationURL string
}

func New(cfg Config) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{cfg: cfg, client: client}, nil
}

func (p *Provider) AuthCodeURL(ctx context.Context, req provider.AuthCodeRequest) (string, error) {
	d, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	mode := req.ResponseMode
	if mode == "" {
		mode = provider.ResponseModeFormPost
	}
	return d.oauth2.AuthCodeURL(req.State,
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", req.CodeChallengeMethod),
		oauth2.SetAuthURLParam("response_mode", mode),
	), nil
}

func (p *Provider) Exchange(ctx context.Context, req provider.ExchangeRequest) (*provider.TokenResult, error) {
	d, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := d.oauth2.Exchange(p.clientContext(ctx), req.Code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		return nil, autherrors.Mark(autherrors.ErrTokenExchange, err)
	}
	result, err := p.tokenResult(ctx, d, tok)
	if err != nil {
		return nil, autherrors.Mark(autherrors.ErrTokenExchange, err)
	}
	if result.IDToken == "" {
		return nil, autherrors.Mark(autherrors.ErrTokenExchange, errors.New("no id_token in token response"))
	}
	return result, nil
}

// Refresh always contacts the token endpoint; the caller decides when a refresh is due.
func (p *Provider) Refresh(ctx context.Context, req provider.RefreshRequest) (*provider.TokenResult, error) {
	if req.RefreshToken == "" {
		return nil, autherrors.Mark(autherrors.ErrRefresh, errors.New("no refresh token"))
	}
	d, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	src := d.oauth2.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: req.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, autherrors.Mark(autherrors.ErrRefresh, err)
	}
	result, err := p.tokenResult(ctx, d, tok)
	if err != nil {
		return nil, autherrors.Mark(autherrors.ErrRefresh, err)
	}
	if result.IDToken == "" {
		result.Account = provider.Account{ID: req.AccountID}
	} else if result.Account.ID != req.AccountID {
		return nil, autherrors.Mark(autherrors.ErrRefresh,
			fmt.Errorf("refreshed token belongs to %q, not %q", result.Account.ID, req.AccountID))
	}
	return result, nil
}

// EndSessionURL falls back to {authority}/oauth2/v2.0/logout when the provider
// does not advertise an end_session_endpoint or cannot be reached.
func (p *Provider) EndSessionURL(ctx context.Context, req provider.EndSessionRequest) (string, error) {
	endpoint := strings.TrimSuffix(strings.TrimSuffix(p.cfg.Issuer, "/"), "/v2.0") + "/oauth2/v2.0/logout"
	if d, err := p.discover(ctx); err == nil && d.endSessionURL != "" {
		endpoint = d.endSessionURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid end session endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", p.cfg.ClientID)
	if req.IDTokenHint != "" {
		q.Set("id_token_hint", req.IDTokenHint)
	}
	if req.PostLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", req.PostLogoutRedirectURI)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if token == "" {
		return nil
	}
	d, err := p.discover(ctx)
	if err != nil {
		return err
	}
	if d.revocationURL == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", token)
	if tokenTypeHint != "" {
		form.Set("token_type_hint", tokenTypeHint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.cfg.ClientID), url.QueryEscape(p.cfg.ClientSecret))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) discover(ctx context.Context) (*discovery, error) {
	p.discoveryLock.RLock()
	d := p.discovered
	p.discoveryLock.RUnlock()
	if d != nil {
		return d, nil
	}

	p.discoveryLock.Lock()
	defer p.discoveryLock.Unlock()
	if p.discovered != nil {
		return p.discovered, nil
	}

	op, err := oidc.NewProvider(p.clientContext(ctx), p.cfg.Issuer)
	if err != nil {
		return nil, autherrors.Mark(autherrors.ErrProviderUnavailable, fmt.Errorf("oidc discovery: %w", err))
	}
	var extra struct {
		EndSession string `json:"end_session_endpoint"`
		Revocation string `json:"revocation_endpoint"`
	}
	if err := op.Claims(&extra); err != nil {
		log.Warn().Err(err).Msg("failed to read optional discovery endpoints")
	}

	scopes := []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	for _, s := range p.cfg.Scopes {
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}

	p.discovered = &discovery{
		oauth2: &oauth2.Config{
			ClientID:     p.cfg.ClientID,
			ClientSecret: p.cfg.ClientSecret,
			Endpoint:     op.Endpoint(),
			RedirectURL:  p.cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: op.Verifier(&oidc.Config{
			ClientID: p.cfg.ClientID,
		}),
		endSessionURL: extra.EndSession,
		revocationURL: extra.Revocation,
	}
	log.Info().Str("issuer", p.cfg.Issuer).Msg("oidc provider discovered")
	return p.discovered, nil
}

func (p *Provider) tokenResult(ctx context.Context, d *discovery, tok *oauth2.Token) (*provider.TokenResult, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("no access_token in token response")
	}
	result := &provider.TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if result.ExpiresAt.IsZero() {
		result.ExpiresAt = time.Now().Add(time.Hour)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return result, nil
	}
	idToken, err := d.verifier.Verify(p.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id token verification failed: %w", err)
	}
	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract id token claims: %w", err)
	}
	result.IDToken = rawIDToken
	result.Account = accountFromClaims(idToken.Subject, claims)
	return result, nil
}

// accountFromClaims prefers the tenant-stable object id over the pairwise subject.
func accountFromClaims(subject string, claims map[string]any) provider.Account {
	account := provider.Account{ID: subject, Claims: claims}
	if oid, ok := claims["oid"].(string); ok && oid != "" {
		account.ID = oid
	}
	for _, k := range []string{"preferred_username", "email", "upn"} {
		if v, ok := claims[k].(string); ok && v != "" {
			account.Username = v
			break
		}
	}
	account.TenantID, _ = claims["tid"].(string)
	return account
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.client)
}
