package gate_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-gate/gate"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/internal/httpjson"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/jrsteele09/go-auth-gate/sessions/inmemory"
	"github.com/stretchr/testify/require"
)

type stubRefresher struct {
	calls  atomic.Int64
	tokens *sessions.Tokens
	err    error
}

func (s *stubRefresher) EnsureFreshToken(_ context.Context, session *sessions.Session) (*sessions.Tokens, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.tokens != nil {
		return s.tokens, nil
	}
	return session.Tokens, nil
}

type countingRepo struct {
	sessions.Repo
	gets atomic.Int64
}

func (r *countingRepo) Get(ctx context.Context, id string) (*sessions.Session, error) {
	r.gets.Add(1)
	return r.Repo.Get(ctx, id)
}

type gateFixture struct {
	repo      *countingRepo
	cookies   *sessions.CookieCodec
	refresher *stubRefresher
	handler   http.Handler
	reached   atomic.Int64
	lastCtx   context.Context
}

func setupGate(t *testing.T) *gateFixture {
	t.Helper()
	f := &gateFixture{
		repo:      &countingRepo{Repo: inmemory.NewRepo(time.Hour)},
		cookies:   sessions.NewCookieCodec([]byte("cookie-key"), sessions.CookieOptions{Name: "sid"}),
		refresher: &stubRefresher{},
	}
	g := gate.New(defaultTable(t), f.repo, f.cookies, f.refresher, nil)
	f.handler = g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.reached.Add(1)
		f.lastCtx = r.Context()
		w.WriteHeader(http.StatusOK)
	}))
	return f
}

func (f *gateFixture) signedIn(t *testing.T, id string) {
	t.Helper()
	s := sessions.New(id, time.Now())
	require.NoError(t, s.Authenticate(
		&sessions.Identity{AccountID: "acc-1", Username: "jane@example.com", TenantID: "t-1"},
		&sessions.Tokens{AccessToken: "at-1", LastRefreshedAt: time.Now()},
	))
	require.NoError(t, f.repo.Save(context.Background(), s))
}

func (f *gateFixture) request(t *testing.T, target, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if sessionID != "" {
		w := httptest.NewRecorder()
		f.cookies.Write(w, sessionID)
		for _, c := range w.Result().Cookies() {
			r.AddCookie(c)
		}
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func TestPublicPathsSkipSessionWork(t *testing.T) {
	f := setupGate(t)
	f.signedIn(t, "sid")

	w := f.request(t, "/logo.png", "sid")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.request(t, "/auth/signin", "")
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, int64(0), f.repo.gets.Load())
	require.Equal(t, int64(0), f.refresher.calls.Load())
}

func TestUnprotectedPathsPassThrough(t *testing.T) {
	f := setupGate(t)
	w := f.request(t, "/somewhere/else", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(0), f.refresher.calls.Load())
}

func TestAnonymousBrowserIsRedirectedToSignIn(t *testing.T) {
	f := setupGate(t)

	w := f.request(t, "/users/id?tab=2", "")
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, gate.SignInPath, loc.Path)
	require.Equal(t, "/users/id?tab=2", loc.Query().Get("redirectTo"))
	require.Equal(t, int64(0), f.reached.Load())
}

func TestAnonymousAPICallGets401(t *testing.T) {
	f := setupGate(t)

	w := f.request(t, "/v2/profile", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var body httpjson.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, http.StatusUnauthorized, body.Status)
	require.Equal(t, "NotAuthenticatedError", body.Name)
	require.Equal(t, int64(0), f.reached.Load())
}

func TestTamperedOrUnknownCookieIsAnonymous(t *testing.T) {
	f := setupGate(t)

	w := f.request(t, "/v2/profile", "never-stored")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/v2/profile", nil)
	r.AddCookie(&http.Cookie{Name: "sid", Value: "sid.forged"})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, int64(0), f.refresher.calls.Load())
}

func TestAuthenticatedRequestGetsContext(t *testing.T) {
	f := setupGate(t)
	f.signedIn(t, "sid")
	f.refresher.tokens = &sessions.Tokens{AccessToken: "fresh"}

	w := f.request(t, "/v2/profile", "sid")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(1), f.refresher.calls.Load())

	tokens, ok := gate.TokensFromContext(f.lastCtx)
	require.True(t, ok)
	require.Equal(t, "fresh", tokens.AccessToken)

	id, ok := gate.SessionIDFromContext(f.lastCtx)
	require.True(t, ok)
	require.Equal(t, "sid", id)

	p, ok := principal.FromContext(f.lastCtx)
	require.True(t, ok)
	require.Equal(t, "jane@example.com", p.ID)
	require.Equal(t, "fresh", p.AccessToken)
	require.Equal(t, "_t1", p.Schema)

	s, ok := gate.SessionFromContext(f.lastCtx)
	require.True(t, ok)
	require.Equal(t, "fresh", s.Tokens.AccessToken)
}

func TestRefreshFailureIsTreatedAsUnauthenticated(t *testing.T) {
	f := setupGate(t)
	f.signedIn(t, "sid")
	f.refresher.err = autherrors.Mark(autherrors.ErrRefresh, errors.New("invalid_grant"))

	w := f.request(t, "/v2/profile", "sid")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), `"name":"RefreshError"`)
	require.NotContains(t, w.Body.String(), "invalid_grant")

	w = f.request(t, "/index.html", "sid")
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), gate.SignInPath)
	require.Equal(t, int64(0), f.reached.Load())
}

func TestInvalidatedSessionIsNotRefreshed(t *testing.T) {
	f := setupGate(t)
	f.signedIn(t, "sid")
	_, err := f.repo.Update(context.Background(), "sid", func(s *sessions.Session) error {
		s.Invalidate()
		return nil
	})
	require.NoError(t, err)

	w := f.request(t, "/v2/profile", "sid")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, int64(0), f.refresher.calls.Load())
}
