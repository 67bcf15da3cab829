package gate

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/internal/httpjson"
	"github.com/jrsteele09/go-auth-gate/internal/metrics"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/rs/zerolog/log"
)

// TokenRefresher returns usable tokens for an authenticated session.
type TokenRefresher interface {
	EnsureFreshToken(ctx context.Context, session *sessions.Session) (*sessions.Tokens, error)
}

// Gate decides, per request, whether the caller may reach the application.
type Gate struct {
	table     *Table
	sessions  sessions.Repo
	cookies   *sessions.CookieCodec
	refresher TokenRefresher
	metrics   *metrics.Metrics
}

func New(table *Table, repo sessions.Repo, cookies *sessions.CookieCodec, refresher TokenRefresher, m *metrics.Metrics) *Gate {
	return &Gate{
		table:     table,
		sessions:  repo,
		cookies:   cookies,
		refresher: refresher,
		metrics:   m,
	}
}

// Middleware applies the routing table. Public and unmatched paths pass through
// untouched; protected paths need an authenticated session whose tokens are fresh.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := g.table.Classify(r.URL.Path)
		if class == Public || class == Unprotected {
			g.metrics.GateDecision(string(class), "pass")
			next.ServeHTTP(w, r)
			return
		}

		ctx, err := g.authenticate(r)
		if err != nil {
			g.deny(w, r, class, err)
			return
		}
		g.metrics.GateDecision(string(class), "allow")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) authenticate(r *http.Request) (context.Context, error) {
	sessionID, ok := g.cookies.Read(r)
	if !ok {
		return nil, autherrors.ErrNotAuthenticated
	}
	session, err := g.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if !errors.Is(err, autherrors.ErrSessionNotFound) {
			log.Error().Err(err).Msg("failed to load session")
			return nil, err
		}
		return nil, autherrors.ErrNotAuthenticated
	}
	if !session.IsAuthenticated() {
		return nil, autherrors.ErrNotAuthenticated
	}

	tokens, err := g.refresher.EnsureFreshToken(r.Context(), session)
	if err != nil {
		return nil, err
	}
	session.Tokens = tokens
	p, err := principal.FromSession(session)
	if err != nil {
		return nil, err
	}

	ctx := context.WithValue(r.Context(), tokensKey{}, tokens)
	ctx = context.WithValue(ctx, sessionIDKey{}, sessionID)
	ctx = context.WithValue(ctx, sessionKey{}, session)
	return principal.NewContext(ctx, p), nil
}

func (g *Gate) deny(w http.ResponseWriter, r *http.Request, class Class, err error) {
	if class == ProtectedRedirect && !isInternal(err) {
		g.metrics.GateDecision(string(class), "redirect")
		http.Redirect(w, r, SignInPath+"?redirectTo="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return
	}
	g.metrics.GateDecision(string(class), "unauthorized")
	httpjson.WriteError(w, err)
}

// isInternal reports whether err is a server fault rather than a missing or expired sign-in.
func isInternal(err error) bool {
	return autherrors.Name(err) == "InternalError"
}

type (
	tokensKey    struct{}
	sessionIDKey struct{}
	sessionKey   struct{}
)

// TokensFromContext returns the fresh tokens attached by the gate.
func TokensFromContext(ctx context.Context) (*sessions.Tokens, bool) {
	t, ok := ctx.Value(tokensKey{}).(*sessions.Tokens)
	return t, ok
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}

// SessionFromContext returns the authenticated session, with fresh tokens, for the request.
func SessionFromContext(ctx context.Context) (*sessions.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*sessions.Session)
	return s, ok
}
