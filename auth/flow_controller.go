package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/internal/metrics"
	"github.com/jrsteele09/go-auth-gate/internal/utils"
	"github.com/jrsteele09/go-auth-gate/pkce"
	"github.com/jrsteele09/go-auth-gate/provider"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/rs/zerolog/log"
)

// Config is the subset of configuration the flow controller reads.
type Config interface {
	GetPostLogoutRedirectURI() string
	GetDefaultRedirectPath() string
	GetProviderTimeout() time.Duration
	GetPendingFlowTTL() time.Duration
	GetResponseMode() string
}

// FlowController drives the authorization code + PKCE sign-in flow:
// initiation, callback handling and sign-out.
type FlowController struct {
	provider provider.Provider
	sessions sessions.Repo
	states   *pkce.StateCodec
	config   Config
	metrics  *metrics.Metrics
	nowTime  func() time.Time
}

// FlowControllerOption defines a function type to modify the FlowController instance.
type FlowControllerOption func(*FlowController)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) FlowControllerOption {
	return func(c *FlowController) {
		c.nowTime = nowFunc
	}
}

// WithMetrics records sign-in and callback outcomes on m.
func WithMetrics(m *metrics.Metrics) FlowControllerOption {
	return func(c *FlowController) {
		c.metrics = m
	}
}

// NewFlowController creates a FlowController with the given dependencies and options.
func NewFlowController(p provider.Provider, repo sessions.Repo, states *pkce.StateCodec, cfg Config, opts ...FlowControllerOption) *FlowController {
	c := &FlowController{
		provider: p,
		sessions: repo,
		states:   states,
		config:   cfg,
		nowTime:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignInResult is the session to set on the browser and where to send it.
type SignInResult struct {
	// SessionID differs from the requested one when a new session had to be created.
	SessionID   string
	RedirectURL string
}

// InitiateSignIn starts a new flow for the session, replacing any earlier pending
// flow. The pending flow is only stored once the authorization URL was built.
func (c *FlowController) InitiateSignIn(ctx context.Context, sessionID, desiredPostLoginPath string) (*SignInResult, error) {
	target := c.localRedirectPath(desiredPostLoginPath)

	pair, err := pkce.GenerateChallengePair()
	if err != nil {
		c.metrics.SignIn("error")
		return nil, err
	}
	csrf, err := pkce.GenerateCSRFToken()
	if err != nil {
		c.metrics.SignIn("error")
		return nil, err
	}
	state, err := c.states.Encode(pkce.State{CSRFToken: csrf, RedirectTo: target})
	if err != nil {
		c.metrics.SignIn("error")
		return nil, err
	}

	providerCtx, cancel := context.WithTimeout(ctx, c.config.GetProviderTimeout())
	defer cancel()
	redirectURL, err := c.provider.AuthCodeURL(providerCtx, provider.AuthCodeRequest{
		State:               state,
		CodeChallenge:       pair.Challenge,
		CodeChallengeMethod: pair.Method,
		ResponseMode:        c.config.GetResponseMode(),
	})
	if err != nil {
		c.metrics.SignIn("provider_unavailable")
		return nil, autherrors.Mark(autherrors.ErrProviderUnavailable, err)
	}

	flow := &sessions.PendingFlow{
		Verifier:               pair.Verifier,
		ChallengeMethod:        pair.Method,
		Challenge:              pair.Challenge,
		CSRFToken:              csrf,
		ExpectedRedirectTarget: target,
		CreatedAt:              c.nowTime(),
	}
	sessionID, err = c.storePendingFlow(ctx, sessionID, flow)
	if err != nil {
		c.metrics.SignIn("error")
		return nil, err
	}

	c.metrics.SignIn("redirected")
	return &SignInResult{SessionID: sessionID, RedirectURL: redirectURL}, nil
}

func (c *FlowController) storePendingFlow(ctx context.Context, sessionID string, flow *sessions.PendingFlow) (string, error) {
	if sessionID != "" {
		_, err := c.sessions.Update(ctx, sessionID, func(s *sessions.Session) error {
			s.PendingFlow = flow
			return nil
		})
		if err == nil {
			return sessionID, nil
		}
		if !errors.Is(err, autherrors.ErrSessionNotFound) {
			return "", autherrors.Wrapf(err, "failed to store pending flow")
		}
	}

	newID, err := sessions.NewSessionID()
	if err != nil {
		return "", err
	}
	session := sessions.New(newID, c.nowTime())
	session.PendingFlow = flow
	if err := c.sessions.Save(ctx, session); err != nil {
		return "", autherrors.Wrapf(err, "failed to create session")
	}
	return newID, nil
}

// CallbackParams are the parameters the identity provider sends back.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is the rotated session and the local path to continue at.
type CallbackResult struct {
	// SessionID is always a newly issued identifier.
	SessionID  string
	RedirectTo string
}

// HandleCallback completes a flow started by InitiateSignIn. The pending flow is
// consumed before anything is validated, so a callback can be processed at most once.
func (c *FlowController) HandleCallback(ctx context.Context, sessionID string, params CallbackParams) (*CallbackResult, error) {
	flow, err := c.takePendingFlow(ctx, sessionID)
	if err != nil {
		return nil, c.callbackFailed(StageAwaitingCallback, err)
	}

	if params.State == "" {
		return nil, c.callbackFailed(StageValidating, autherrors.ErrMissingState)
	}
	if flow == nil || c.nowTime().Sub(flow.CreatedAt) > c.config.GetPendingFlowTTL() {
		return nil, c.callbackFailed(StageValidating, autherrors.ErrExpiredOrMissingFlow)
	}
	state, err := c.states.Decode(params.State)
	if err != nil {
		return nil, c.callbackFailed(StageValidating, err)
	}
	if subtle.ConstantTimeCompare([]byte(state.CSRFToken), []byte(flow.CSRFToken)) != 1 {
		return nil, c.callbackFailed(StageValidating, autherrors.ErrCsrfMismatch)
	}

	if params.Error != "" {
		return nil, c.callbackFailed(StageExchanging, autherrors.Mark(autherrors.ErrTokenExchange,
			fmt.Errorf("provider returned %s: %s", params.Error, params.ErrorDescription)))
	}
	if params.Code == "" {
		return nil, c.callbackFailed(StageExchanging, autherrors.Mark(autherrors.ErrTokenExchange, errors.New("missing authorization code")))
	}

	providerCtx, cancel := context.WithTimeout(ctx, c.config.GetProviderTimeout())
	defer cancel()
	result, err := c.provider.Exchange(providerCtx, provider.ExchangeRequest{
		Code:         params.Code,
		CodeVerifier: flow.Verifier,
	})
	if err != nil {
		return nil, c.callbackFailed(StageExchanging, autherrors.Mark(autherrors.ErrTokenExchange, err))
	}
	if result.Account.ID == "" {
		return nil, c.callbackFailed(StageExchanging, autherrors.Mark(autherrors.ErrTokenExchange, errors.New("token response has no account")))
	}

	now := c.nowTime()
	newID, err := sessions.NewSessionID()
	if err != nil {
		return nil, c.callbackFailed(StageFailed, err)
	}
	session := sessions.New(newID, now)
	err = session.Authenticate(identityFromAccount(result.Account), &sessions.Tokens{
		AccessToken:     result.AccessToken,
		IDToken:         result.IDToken,
		RefreshToken:    result.RefreshToken,
		ExpiresAt:       result.ExpiresAt,
		LastRefreshedAt: now,
	})
	if err != nil {
		return nil, c.callbackFailed(StageFailed, autherrors.Mark(autherrors.ErrTokenExchange, err))
	}
	if err := c.sessions.Save(ctx, session); err != nil {
		return nil, c.callbackFailed(StageFailed, autherrors.Wrapf(err, "failed to save session"))
	}
	if sessionID != "" {
		if err := c.sessions.Delete(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to delete pre-authentication session")
		}
	}

	redirectTo := c.localRedirectPath(state.RedirectTo)
	if state.RedirectTo == "" {
		redirectTo = c.localRedirectPath(flow.ExpectedRedirectTarget)
	}

	c.metrics.Callback("authenticated")
	log.Info().Str("stage", string(StageAuthenticated)).Str("account", result.Account.ID).Str("tenant", result.Account.TenantID).Msg("sign-in completed")
	return &CallbackResult{SessionID: newID, RedirectTo: redirectTo}, nil
}

// takePendingFlow reads and clears the pending flow in one atomic update.
// An unknown session yields no flow rather than an error.
func (c *FlowController) takePendingFlow(ctx context.Context, sessionID string) (*sessions.PendingFlow, error) {
	if sessionID == "" {
		return nil, nil
	}
	var flow *sessions.PendingFlow
	_, err := c.sessions.Update(ctx, sessionID, func(s *sessions.Session) error {
		flow = s.TakePendingFlow()
		return nil
	})
	if errors.Is(err, autherrors.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, autherrors.Wrapf(err, "failed to read pending flow")
	}
	return flow, nil
}

func (c *FlowController) callbackFailed(stage Stage, err error) error {
	name := autherrors.Name(err)
	c.metrics.Callback(name)
	if autherrors.IsClientError(err) {
		log.Warn().Str("stage", string(stage)).Str("error", name).Msg("callback rejected")
	} else {
		log.Error().Err(err).Str("stage", string(stage)).Str("error", name).Msg("callback failed")
	}
	return &CallbackError{Stage: stage, Err: err}
}

// SignOut deletes the session and returns where to send the browser. It never
// fails: provider problems fall back to the configured post-logout target.
func (c *FlowController) SignOut(ctx context.Context, sessionID string) string {
	postLogout := c.config.GetPostLogoutRedirectURI()

	var idToken, refreshToken string
	if sessionID != "" {
		if session, err := c.sessions.Get(ctx, sessionID); err == nil && session.Tokens != nil {
			idToken = session.Tokens.IDToken
			refreshToken = session.Tokens.RefreshToken
		}
		if err := c.sessions.Delete(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to delete session on sign-out")
		}
	}

	providerCtx, cancel := context.WithTimeout(ctx, c.config.GetProviderTimeout())
	defer cancel()
	if refreshToken != "" {
		if err := c.provider.Revoke(providerCtx, refreshToken, "refresh_token"); err != nil {
			log.Warn().Err(err).Msg("refresh token revocation failed")
		}
	}
	endSession, err := c.provider.EndSessionURL(providerCtx, provider.EndSessionRequest{
		IDTokenHint:           idToken,
		PostLogoutRedirectURI: postLogout,
	})
	if err != nil || endSession == "" {
		if err != nil {
			log.Warn().Err(err).Msg("end session url unavailable")
		}
		return postLogout
	}
	return endSession
}

// localRedirectPath only allows same-origin absolute paths outside /auth/.
func (c *FlowController) localRedirectPath(p string) string {
	fallback := c.config.GetDefaultRedirectPath()
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return fallback
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	if u.Path == "/auth" || strings.HasPrefix(u.Path, "/auth/") {
		return fallback
	}
	return p
}

func identityFromAccount(a provider.Account) *sessions.Identity {
	identity := &sessions.Identity{
		AccountID: a.ID,
		Username:  a.Username,
		TenantID:  a.TenantID,
		Claims:    a.Claims,
	}
	identity.Roles = utils.ToStringSlice(a.Claims["roles"])
	return identity
}
