package providerfakes

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-gate/pkce"
	"github.com/jrsteele09/go-auth-gate/provider"
)

const (
	AuthorizeURL  = "https://idp.example.test/authorize"
	EndSessionURL = "https://idp.example.test/logout"
)

var _ provider.Provider = (*FakeProvider)(nil)

// FakeProvider is an in-process identity provider. Codes are accepted when the
// verifier matches the challenge registered for them with IssueCode.
type FakeProvider struct {
	mu                 sync.Mutex
	codes              map[string]string
	account            provider.Account
	tokenSeq           atomic.Int64
	lastAuth           provider.AuthCodeRequest
	revoked            []string
	lastRefreshRequest provider.RefreshRequest

	AuthCodeURLErr error
	ExchangeErr    error
	RefreshErr     error
	EndSessionErr  error

	// ExchangeHook and RefreshHook run inside Exchange and Refresh before they
	// return, e.g. to block until released or until ctx is done.
	ExchangeHook func(ctx context.Context) error
	RefreshHook  func(ctx context.Context) error

	TokenLifetime time.Duration

	AuthCodeURLCalls atomic.Int64
	ExchangeCalls    atomic.Int64
	RefreshCalls     atomic.Int64
	RevokeCalls      atomic.Int64
}

func NewFakeProvider(account provider.Account) *FakeProvider {
	return &FakeProvider{
		codes:         make(map[string]string),
		account:       account,
		TokenLifetime: time.Hour,
	}
}

// IssueCode registers an authorization code bound to a PKCE challenge.
func (f *FakeProvider) IssueCode(code, challenge string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = challenge
}

// LastAuthCodeRequest returns the most recent authorization request.
func (f *FakeProvider) LastAuthCodeRequest() provider.AuthCodeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *FakeProvider) LastRefreshRequest() provider.RefreshRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRefreshRequest
}

func (f *FakeProvider) Revoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

func (f *FakeProvider) AuthCodeURL(_ context.Context, req provider.AuthCodeRequest) (string, error) {
	f.AuthCodeURLCalls.Add(1)
	if f.AuthCodeURLErr != nil {
		return "", f.AuthCodeURLErr
	}
	f.mu.Lock()
	f.lastAuth = req
	f.mu.Unlock()

	q := url.Values{}
	q.Set("response_type", "code")
	mode := req.ResponseMode
	if mode == "" {
		mode = provider.ResponseModeFormPost
	}
	q.Set("response_mode", mode)
	q.Set("state", req.State)
	q.Set("code_challenge", req.CodeChallenge)
	q.Set("code_challenge_method", req.CodeChallengeMethod)
	return AuthorizeURL + "?" + q.Encode(), nil
}

func (f *FakeProvider) Exchange(ctx context.Context, req provider.ExchangeRequest) (*provider.TokenResult, error) {
	f.ExchangeCalls.Add(1)
	if f.ExchangeHook != nil {
		if err := f.ExchangeHook(ctx); err != nil {
			return nil, err
		}
	}
	if f.ExchangeErr != nil {
		return nil, f.ExchangeErr
	}
	f.mu.Lock()
	challenge, ok := f.codes[req.Code]
	delete(f.codes, req.Code)
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("invalid_grant: unknown code")
	}
	if challenge != "" && !pkce.VerifyChallenge(req.CodeVerifier, challenge, pkce.MethodS256) {
		return nil, fmt.Errorf("invalid_grant: code_verifier does not match")
	}
	return f.result(), nil
}

func (f *FakeProvider) Refresh(ctx context.Context, req provider.RefreshRequest) (*provider.TokenResult, error) {
	f.RefreshCalls.Add(1)
	f.mu.Lock()
	f.lastRefreshRequest = req
	f.mu.Unlock()
	if f.RefreshHook != nil {
		if err := f.RefreshHook(ctx); err != nil {
			return nil, err
		}
	}
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	if req.AccountID != f.account.ID {
		return nil, fmt.Errorf("no cached account %q", req.AccountID)
	}
	return f.result(), nil
}

func (f *FakeProvider) EndSessionURL(_ context.Context, req provider.EndSessionRequest) (string, error) {
	if f.EndSessionErr != nil {
		return "", f.EndSessionErr
	}
	q := url.Values{}
	if req.IDTokenHint != "" {
		q.Set("id_token_hint", req.IDTokenHint)
	}
	q.Set("post_logout_redirect_uri", req.PostLogoutRedirectURI)
	return EndSessionURL + "?" + q.Encode(), nil
}

func (f *FakeProvider) Revoke(_ context.Context, token, _ string) error {
	f.RevokeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return nil
}

func (f *FakeProvider) result() *provider.TokenResult {
	n := f.tokenSeq.Add(1)
	return &provider.TokenResult{
		Account:      f.account,
		AccessToken:  fmt.Sprintf("access-%d", n),
		IDToken:      fmt.Sprintf("id-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		ExpiresAt:    time.Now().Add(f.TokenLifetime),
	}
}
