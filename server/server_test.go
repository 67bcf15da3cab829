package server_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-gate/internal/config"
	"github.com/jrsteele09/go-auth-gate/internal/httpjson"
	"github.com/jrsteele09/go-auth-gate/internal/metrics"
	"github.com/jrsteele09/go-auth-gate/provider"
	"github.com/jrsteele09/go-auth-gate/provider/providerfakes"
	"github.com/jrsteele09/go-auth-gate/server"
	"github.com/jrsteele09/go-auth-gate/sessions/inmemory"
	"github.com/stretchr/testify/require"
)

const cookieName = "authgate_sid"

type testFixture struct {
	provider *providerfakes.FakeProvider
	server   *server.Server

	mu  sync.Mutex
	now time.Time
}

func (f *testFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *testFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// setupTestFixture builds a server on the fake provider. env holds extra
// key/value pairs applied after the defaults.
func setupTestFixture(t *testing.T, env ...string) *testFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("BASE_URL", "http://localhost:8080")
	t.Setenv("COOKIE_NAME", cookieName)
	t.Setenv("COOKIE_SECURE", "")
	t.Setenv("COOKIE_SAMESITE", "")
	t.Setenv("REFRESH_COOLDOWN", "30m")
	t.Setenv("ROUTES_FILE", "")
	t.Setenv("PUBLIC_PATHS", "")
	t.Setenv("PROTECTED_API_PREFIXES", "")
	t.Setenv("PROTECTED_BROWSER_PATHS", "")
	t.Setenv("POST_LOGOUT_REDIRECT_URI", "")
	t.Setenv("RESPONSE_MODE", "")
	for i := 0; i+1 < len(env); i += 2 {
		t.Setenv(env[i], env[i+1])
	}

	f := &testFixture{
		provider: providerfakes.NewFakeProvider(provider.Account{
			ID:       "acc-1",
			Username: "jane@example.com",
			TenantID: "tenant-1",
			Claims:   map[string]any{"name": "Jane Doe", "oid": "acc-1"},
		}),
		now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	m, err := metrics.New()
	require.NoError(t, err)

	f.server, err = server.New(config.New(), server.Deps{
		Provider: f.provider,
		Sessions: inmemory.NewRepo(time.Hour),
		Metrics:  m,
		NowTime:  f.clock,
	})
	require.NoError(t, err)
	return f
}

func (f *testFixture) do(t *testing.T, r *http.Request, sessionCookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	if sessionCookie != nil {
		r.AddCookie(sessionCookie)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func (f *testFixture) get(t *testing.T, target string, sessionCookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, httptest.NewRequest(http.MethodGet, target, nil), sessionCookie)
}

func (f *testFixture) postCallback(t *testing.T, form url.Values, sessionCookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, server.RouteCallback, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(t, r, sessionCookie)
}

// callback delivers the provider response the way the authorization request asked for it.
func (f *testFixture) callback(t *testing.T, authReq, form url.Values, sessionCookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	if authReq.Get("response_mode") == "query" {
		return f.get(t, server.RouteCallback+"?"+form.Encode(), sessionCookie)
	}
	return f.postCallback(t, form, sessionCookie)
}

// signIn runs the sign-in redirect and returns the session cookie plus the authorization request.
func (f *testFixture) signIn(t *testing.T, redirectTo string) (*http.Cookie, url.Values) {
	t.Helper()
	w := f.get(t, server.RouteSignIn+"?redirectTo="+url.QueryEscape(redirectTo), nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc.String(), providerfakes.AuthorizeURL))

	cookie := sessionCookie(t, w)
	require.NotNil(t, cookie)
	f.provider.IssueCode("code-1", loc.Query().Get("code_challenge"))
	return cookie, loc.Query()
}

func (f *testFixture) completeSignIn(t *testing.T, redirectTo string) *http.Cookie {
	t.Helper()
	cookie, authReq := f.signIn(t, redirectTo)
	w := f.callback(t, authReq, url.Values{"code": {"code-1"}, "state": {authReq.Get("state")}}, cookie)
	require.Equal(t, http.StatusFound, w.Code)
	authenticated := sessionCookie(t, w)
	require.NotNil(t, authenticated)
	return authenticated
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httpjson.ErrorBody {
	t.Helper()
	var body httpjson.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestEndToEnd(t *testing.T) {
	f := setupTestFixture(t)

	// Anonymous API call.
	w := f.get(t, server.RouteProfile, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "NotAuthenticatedError", decodeError(t, w).Name)

	// Anonymous browser navigation.
	w = f.get(t, server.RouteUsersID, nil)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, server.RouteSignIn+"?redirectTo=%2Fusers%2Fid", w.Header().Get("Location"))

	// Sign-in and callback.
	preAuth, authReq := f.signIn(t, server.RouteUsersID)
	require.Equal(t, "query", authReq.Get("response_mode"), "a Lax cookie needs a GET callback")
	require.Equal(t, http.SameSiteLaxMode, preAuth.SameSite)
	require.True(t, preAuth.HttpOnly)

	w = f.callback(t, authReq, url.Values{"code": {"code-1"}, "state": {authReq.Get("state")}}, preAuth)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, server.RouteUsersID, w.Header().Get("Location"))
	cookie := sessionCookie(t, w)
	require.NotNil(t, cookie)
	require.NotEqual(t, preAuth.Value, cookie.Value, "session id rotates on sign-in")

	// The pre-authentication session is gone.
	w = f.get(t, server.RouteProfile, preAuth)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Authenticated access within the cooldown uses the cached token.
	w = f.get(t, server.RouteUsersID, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var claims struct {
		IDTokenClaims map[string]any `json:"idTokenClaims"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claims))
	require.Equal(t, "Jane Doe", claims.IDTokenClaims["name"])

	w = f.get(t, server.RouteProfile, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var profile map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	require.Equal(t, "jane@example.com", profile["id"])
	require.Equal(t, "_tenant1", profile["schema"])
	require.NotContains(t, w.Body.String(), "access-1", "access token is not exposed")
	require.Equal(t, int64(0), f.provider.RefreshCalls.Load())

	w = f.get(t, server.RouteIndex, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "jane@example.com")

	// After the cooldown exactly one refresh happens.
	f.advance(31 * time.Minute)
	w = f.get(t, server.RouteProfile, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(1), f.provider.RefreshCalls.Load())
	w = f.get(t, server.RouteProfile, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(1), f.provider.RefreshCalls.Load())

	// A failed refresh signs the session out.
	f.advance(31 * time.Minute)
	f.provider.RefreshErr = errors.New("invalid_grant")
	w = f.get(t, server.RouteProfile, cookie)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "RefreshError", decodeError(t, w).Name)
	w = f.get(t, server.RouteIndex, cookie)
	require.Equal(t, http.StatusFound, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), server.RouteSignIn))
	require.Equal(t, int64(2), f.provider.RefreshCalls.Load())

	// Signing in again gives a new working session.
	f.provider.RefreshErr = nil
	cookie = f.completeSignIn(t, server.RouteProfile)
	w = f.get(t, server.RouteProfile, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	// Sign-out clears the cookie and goes to the provider.
	w = f.get(t, server.RouteSignOut, cookie)
	require.Equal(t, http.StatusFound, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), providerfakes.EndSessionURL))
	cleared := sessionCookie(t, w)
	require.NotNil(t, cleared)
	require.Equal(t, -1, cleared.MaxAge)

	// A browser that kept the old cookie is anonymous again.
	w = f.get(t, server.RouteProfile, cookie)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "NotAuthenticatedError", decodeError(t, w).Name)
	w = f.get(t, server.RouteUsersID, cookie)
	require.Equal(t, http.StatusFound, w.Code)
}

func TestFormPostCallbackPairsWithSameSiteNone(t *testing.T) {
	f := setupTestFixture(t, "COOKIE_SAMESITE", "none", "COOKIE_SECURE", "true")

	cookie, authReq := f.signIn(t, server.RouteUsersID)
	require.Equal(t, "form_post", authReq.Get("response_mode"))
	require.Equal(t, http.SameSiteNoneMode, cookie.SameSite)
	require.True(t, cookie.Secure)

	w := f.postCallback(t, url.Values{"code": {"code-1"}, "state": {authReq.Get("state")}}, cookie)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, server.RouteUsersID, w.Header().Get("Location"))
}

func TestCallbackClientErrorsReturn400(t *testing.T) {
	t.Run("csrf mismatch", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, "/")
		// State from a different browser's flow.
		_, otherReq := f.signIn(t, "/")

		w := f.postCallback(t, url.Values{"code": {"code-1"}, "state": {otherReq.Get("state")}}, cookie)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "CsrfMismatchError", decodeError(t, w).Name)
		require.Nil(t, sessionCookie(t, w))
	})

	t.Run("missing state", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, "/")
		w := f.postCallback(t, url.Values{"code": {"code-1"}}, cookie)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "MissingStateError", decodeError(t, w).Name)
	})

	t.Run("replay", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, authReq := f.signIn(t, "/")
		form := url.Values{"code": {"code-1"}, "state": {authReq.Get("state")}}
		require.Equal(t, http.StatusFound, f.postCallback(t, form, cookie).Code)

		w := f.postCallback(t, form, cookie)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "ExpiredOrMissingFlowError", decodeError(t, w).Name)
	})

	t.Run("malformed state", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, "/")
		w := f.postCallback(t, url.Values{"code": {"code-1"}, "state": {"garbage"}}, cookie)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "MalformedStateError", decodeError(t, w).Name)
	})
}

func TestCallbackProviderErrorRedirectsToErrorPage(t *testing.T) {
	f := setupTestFixture(t)
	cookie, authReq := f.signIn(t, "/")

	w := f.postCallback(t, url.Values{
		"state":             {authReq.Get("state")},
		"error":             {"access_denied"},
		"error_description": {"AADSTS65004: User declined to consent"},
	}, cookie)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, server.RouteError+"?reason=TokenExchangeError", w.Header().Get("Location"))

	page := f.get(t, w.Header().Get("Location"), nil)
	require.Equal(t, http.StatusBadGateway, page.Code)
	require.Contains(t, page.Body.String(), "did not complete the sign-in")
	require.NotContains(t, page.Body.String(), "AADSTS65004")
}

func TestSignInProviderUnavailable(t *testing.T) {
	f := setupTestFixture(t)
	f.provider.AuthCodeURLErr = errors.New("dial tcp: i/o timeout")

	w := f.get(t, server.RouteSignIn, nil)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, server.RouteError+"?reason=ProviderUnavailableError", w.Header().Get("Location"))
	require.Nil(t, sessionCookie(t, w))
}

func TestSignOutAnonymousIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	first := f.get(t, server.RouteSignOut, nil)
	second := f.get(t, server.RouteSignOut, nil)
	require.Equal(t, http.StatusFound, first.Code)
	require.Equal(t, first.Header().Get("Location"), second.Header().Get("Location"))
}

func TestSignInIgnoresOffSiteRedirect(t *testing.T) {
	f := setupTestFixture(t)
	cookie := f.completeSignIn(t, "https://evil.example/phish")
	require.NotNil(t, cookie)

	cookie2, authReq := f.signIn(t, "//evil.example")
	w := f.postCallback(t, url.Values{"code": {"code-1"}, "state": {authReq.Get("state")}}, cookie2)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))
}

func TestOperationalEndpoints(t *testing.T) {
	f := setupTestFixture(t)
	f.completeSignIn(t, "/")

	w := f.get(t, server.RouteHealth, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.get(t, server.RouteMetrics, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `authgate_callback_total{result="authenticated"} 1`)
	require.Contains(t, string(body), `authgate_signin_total{result="redirected"} 1`)
}

func TestPublicAndUnknownPaths(t *testing.T) {
	f := setupTestFixture(t)

	w := f.get(t, "/favicon.ico", nil)
	require.Equal(t, http.StatusNotFound, w.Code, "public paths reach the application without a session")

	w = f.get(t, "/somewhere", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.get(t, "/logo.png", nil)
	require.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	_, err := server.New(config.New(), server.Deps{})
	require.Error(t, err)
}
