package config

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type CookieConfig interface {
	GetSessionSecret() string
	GetCookieName() string
	GetCookieMaxAge() time.Duration
	GetCookieSecure() bool
	GetCookieSameSite() http.SameSite
	GetCookieDomain() string
}

const devSessionSecret = "dev-only-session-secret-change-me"

type Cookie struct{}

var _ CookieConfig = Cookie{}

// GetSessionSecret returns the secret used to sign session cookies and state.
// Outside production an unset secret falls back to a fixed development value.
func (Cookie) GetSessionSecret() string {
	secret := GetEnv("SESSION_SECRET", "")
	if secret == "" && !(EnvVars{}).IsProduction() {
		log.Warn().Msg("SESSION_SECRET not set, using development secret")
		return devSessionSecret
	}
	return secret
}

func (Cookie) GetCookieName() string {
	return GetEnv("COOKIE_NAME", "authgate_sid")
}

func (Cookie) GetCookieMaxAge() time.Duration {
	return GetDuration("COOKIE_MAX_AGE", 24*time.Hour)
}

// GetCookieSecure defaults to true in production.
func (Cookie) GetCookieSecure() bool {
	return GetBool("COOKIE_SECURE", (EnvVars{}).IsProduction())
}

// GetCookieSameSite defaults to None in production, paired with the form_post
// response mode; elsewhere Lax, paired with the query response mode.
// None is only honoured by browsers together with Secure.
func (Cookie) GetCookieSameSite() http.SameSite {
	def := "lax"
	if (EnvVars{}).IsProduction() {
		def = "none"
	}
	return ParseSameSite(GetEnv("COOKIE_SAMESITE", def))
}

func (Cookie) GetCookieDomain() string {
	return GetEnv("COOKIE_DOMAIN", "")
}

func ParseSameSite(s string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
