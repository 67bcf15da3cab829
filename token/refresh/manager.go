package refresh

import (
	"context"
	"errors"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/internal/metrics"
	"github.com/jrsteele09/go-auth-gate/provider"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Config is the subset of configuration the manager reads.
type Config interface {
	GetRefreshCooldown() time.Duration
	GetProviderTimeout() time.Duration
}

var errStale = errors.New("stored tokens are newer")

// Manager keeps the access token of a signed-in session fresh. A token is
// reused for the cooldown window after it was obtained; after that the next
// request refreshes it. Refreshes for one session are collapsed into one
// provider call.
type Manager struct {
	provider provider.Provider
	sessions sessions.Repo
	config   Config
	metrics  *metrics.Metrics
	nowTime  func() time.Time
	flights  singleflight.Group
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithMetrics records refresh outcomes on mt.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a Manager with the given dependencies and options.
func NewManager(p provider.Provider, repo sessions.Repo, cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider: p,
		sessions: repo,
		config:   cfg,
		nowTime:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureFreshToken returns usable tokens for an authenticated session. On a
// failed refresh the session is marked unauthenticated and ErrRefresh is returned.
func (m *Manager) EnsureFreshToken(ctx context.Context, session *sessions.Session) (*sessions.Tokens, error) {
	if !session.IsAuthenticated() {
		return nil, autherrors.ErrNotAuthenticated
	}
	if tokens, ok := m.cached(session); ok {
		m.metrics.TokenRefresh(metrics.RefreshCached)
		return tokens, nil
	}

	// The flight outlives any single caller, so it must not inherit one caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := m.flights.Do(session.ID, func() (any, error) {
		return m.refresh(flightCtx, session.ID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sessions.Tokens).Clone(), nil
}

func (m *Manager) cached(session *sessions.Session) (*sessions.Tokens, bool) {
	t := session.Tokens
	if t == nil || t.AccessToken == "" {
		return nil, false
	}
	if m.nowTime().Sub(t.LastRefreshedAt) >= m.config.GetRefreshCooldown() {
		return nil, false
	}
	return t.Clone(), true
}

func (m *Manager) refresh(ctx context.Context, sessionID string) (*sessions.Tokens, error) {
	// Another request may have refreshed while this one waited.
	current, err := m.sessions.Get(ctx, sessionID)
	if errors.Is(err, autherrors.ErrSessionNotFound) {
		return nil, autherrors.Mark(autherrors.ErrNotAuthenticated, err)
	}
	if err != nil {
		return nil, autherrors.Mark(autherrors.ErrRefresh, err)
	}
	if !current.IsAuthenticated() {
		return nil, autherrors.ErrNotAuthenticated
	}
	if tokens, ok := m.cached(current); ok {
		m.metrics.TokenRefresh(metrics.RefreshCached)
		return tokens, nil
	}

	accountID := current.Identity.AccountID
	providerCtx, cancel := context.WithTimeout(ctx, m.config.GetProviderTimeout())
	defer cancel()
	result, err := m.provider.Refresh(providerCtx, provider.RefreshRequest{
		AccountID:    accountID,
		RefreshToken: current.Tokens.RefreshToken,
		ForceRefresh: true,
	})
	if err != nil {
		m.metrics.TokenRefresh(metrics.RefreshFailed)
		log.Warn().Err(err).Str("account", accountID).Msg("token refresh failed, session invalidated")
		m.invalidate(ctx, sessionID)
		return nil, autherrors.Mark(autherrors.ErrRefresh, err)
	}

	refreshedAt := m.nowTime()
	updated, err := m.sessions.Update(ctx, sessionID, func(s *sessions.Session) error {
		if !s.IsAuthenticated() || s.Identity.AccountID != accountID {
			return autherrors.ErrNotAuthenticated
		}
		if s.Tokens.LastRefreshedAt.After(refreshedAt) {
			return errStale
		}
		applyResult(s, result, refreshedAt)
		return nil
	})
	switch {
	case errors.Is(err, errStale):
		m.metrics.TokenRefresh(metrics.RefreshStale)
		stored, err := m.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, autherrors.Mark(autherrors.ErrRefresh, err)
		}
		return stored.Tokens.Clone(), nil
	case errors.Is(err, autherrors.ErrNotAuthenticated), errors.Is(err, autherrors.ErrSessionNotFound):
		// Signed out while the refresh was in flight; do not bring the session back.
		return nil, autherrors.Mark(autherrors.ErrNotAuthenticated, err)
	case err != nil:
		return nil, autherrors.Mark(autherrors.ErrRefresh, err)
	}

	m.metrics.TokenRefresh(metrics.RefreshRefreshed)
	log.Debug().Str("account", accountID).Time("expires_at", result.ExpiresAt).Msg("access token refreshed")
	return updated.Tokens.Clone(), nil
}

func (m *Manager) invalidate(ctx context.Context, sessionID string) {
	_, err := m.sessions.Update(ctx, sessionID, func(s *sessions.Session) error {
		s.Invalidate()
		return nil
	})
	if err != nil && !errors.Is(err, autherrors.ErrSessionNotFound) {
		log.Error().Err(err).Msg("failed to invalidate session after refresh failure")
	}
}

// applyResult keeps the stored ID and refresh tokens when the provider did not return new ones.
func applyResult(s *sessions.Session, result *provider.TokenResult, refreshedAt time.Time) {
	t := s.Tokens
	t.AccessToken = result.AccessToken
	if result.IDToken != "" {
		t.IDToken = result.IDToken
	}
	if result.RefreshToken != "" {
		t.RefreshToken = result.RefreshToken
	}
	t.ExpiresAt = result.ExpiresAt
	t.LastRefreshedAt = refreshedAt
	if result.Account.Claims != nil {
		s.Identity.Claims = result.Account.Claims
	}
}
