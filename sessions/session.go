package sessions

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// Session is the server-side record behind the session cookie.
// A zero Session is anonymous. Sub-records are optional:
//   - PendingFlow exists between sign-in initiation and its callback
//   - Identity and Tokens exist once a sign-in completed
type Session struct {
	ID            string       `json:"id"`
	PendingFlow   *PendingFlow `json:"pending_flow,omitempty"`
	Identity      *Identity    `json:"identity,omitempty"`
	Tokens        *Tokens      `json:"tokens,omitempty"`
	Authenticated bool         `json:"authenticated"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// PendingFlow holds the artifacts of a started sign-in. It is consumed exactly once.
type PendingFlow struct {
	Verifier               string    `json:"verifier"`
	ChallengeMethod        string    `json:"challenge_method"`
	Challenge              string    `json:"challenge"`
	CSRFToken              string    `json:"csrf_token"`
	ExpectedRedirectTarget string    `json:"expected_redirect_target"`
	CreatedAt              time.Time `json:"created_at"`
}

// Identity is the signed-in account as asserted by the identity provider.
type Identity struct {
	AccountID string         `json:"account_id"`
	Username  string         `json:"username"`
	TenantID  string         `json:"tenant_id"`
	Claims    map[string]any `json:"claims,omitempty"`
	Roles     []string       `json:"roles,omitempty"`
}

// Tokens are only ever written from a successful exchange or refresh.
type Tokens struct {
	AccessToken     string    `json:"access_token"`
	IDToken         string    `json:"id_token,omitempty"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

func New(id string, now time.Time) *Session {
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// IsAuthenticated is true only while the flag is set and both identity and a usable token set exist.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Authenticated && s.Identity != nil && s.Tokens != nil && s.Tokens.AccessToken != ""
}

// Authenticate populates identity and tokens and raises the flag in one step.
func (s *Session) Authenticate(identity *Identity, tokens *Tokens) error {
	if identity == nil || tokens == nil {
		return errors.New("authenticate requires identity and tokens")
	}
	if identity.AccountID == "" {
		return errors.New("authenticate requires an account id")
	}
	if tokens.AccessToken == "" {
		return errors.New("authenticate requires an access token")
	}
	s.Identity = identity
	s.Tokens = tokens
	s.Authenticated = true
	return nil
}

// Invalidate clears the authenticated flag. Tokens stay for diagnostics and are never reused.
func (s *Session) Invalidate() {
	s.Authenticated = false
}

// TakePendingFlow returns the pending flow and removes it from the session.
func (s *Session) TakePendingFlow() *PendingFlow {
	flow := s.PendingFlow
	s.PendingFlow = nil
	return flow
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.PendingFlow != nil {
		flow := *s.PendingFlow
		out.PendingFlow = &flow
	}
	if s.Identity != nil {
		out.Identity = s.Identity.Clone()
	}
	if s.Tokens != nil {
		out.Tokens = s.Tokens.Clone()
	}
	return &out
}

func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Claims = maps.Clone(i.Claims)
	out.Roles = slices.Clone(i.Roles)
	return &out
}

func (t *Tokens) Clone() *Tokens {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
