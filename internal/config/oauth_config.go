package config

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type OAuthConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetAuthority() string
	GetScopes() []string
	GetRedirectURI() string
	GetPostLogoutRedirectURI() string
	GetDefaultRedirectPath() string
	GetProviderTimeout() time.Duration
	GetResponseMode() string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

// GetAuthority returns the issuer URL of the identity provider
// (e.g., "https://login.microsoftonline.com/{tenant}/v2.0").
func (OAuth) GetAuthority() string {
	return GetEnv("OIDC_AUTHORITY", "")
}

// GetScopes returns scopes requested in addition to openid, profile, email and offline_access.
func (OAuth) GetScopes() []string {
	return GetList("OIDC_SCOPES", nil)
}

func (OAuth) GetRedirectURI() string {
	return GetEnv("REDIRECT_URI", EnvVars{}.GetBaseURL()+"/auth/redirect")
}

func (OAuth) GetPostLogoutRedirectURI() string {
	return GetEnv("POST_LOGOUT_REDIRECT_URI", EnvVars{}.GetBaseURL()+"/")
}

func (OAuth) GetDefaultRedirectPath() string {
	return GetEnv("DEFAULT_REDIRECT_PATH", "/")
}

func (OAuth) GetProviderTimeout() time.Duration {
	return GetDuration("PROVIDER_TIMEOUT", 10*time.Second)
}

// GetResponseMode returns how the provider delivers the callback. A form_post
// callback is a cross-site POST that only carries a SameSite=None cookie, so the
// default follows the cookie: form_post with None, query with Lax or Strict.
func (OAuth) GetResponseMode() string {
	def := ResponseModeFor(Cookie{}.GetCookieSameSite())
	mode := strings.ToLower(strings.TrimSpace(GetEnv("RESPONSE_MODE", def)))
	switch mode {
	case "form_post", "query":
	default:
		log.Warn().Str("RESPONSE_MODE", mode).Msg("unknown response mode, using default")
		return def
	}
	if mode != def && mode == "form_post" {
		log.Warn().Msg("RESPONSE_MODE=form_post needs COOKIE_SAMESITE=none, callbacks will arrive without the session cookie")
	}
	return mode
}

// ResponseModeFor returns the response mode whose callback the browser sends with a cookie of the given SameSite mode.
func ResponseModeFor(sameSite http.SameSite) string {
	if sameSite == http.SameSiteNoneMode {
		return "form_post"
	}
	return "query"
}
