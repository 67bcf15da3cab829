package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-auth-gate/auth"
	"github.com/jrsteele09/go-auth-gate/gate"
	"github.com/jrsteele09/go-auth-gate/internal/config"
	"github.com/jrsteele09/go-auth-gate/internal/metrics"
	"github.com/jrsteele09/go-auth-gate/internal/secrets"
	"github.com/jrsteele09/go-auth-gate/pkce"
	"github.com/jrsteele09/go-auth-gate/provider"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/jrsteele09/go-auth-gate/token/refresh"
)

// Deps are the collaborators the server is built from.
type Deps struct {
	Provider provider.Provider
	Sessions sessions.Repo
	Metrics  *metrics.Metrics
	// Table defaults to the table described by the routes configuration.
	Table *gate.Table
	// App receives every gated request that is not served by the gate itself.
	// When nil a minimal landing page is served at / and /index.html.
	App     http.Handler
	NowTime func() time.Time
}

type Server struct {
	env     string
	router  chi.Router
	routes  []string
	config  config.Config
	app     http.Handler
	cookies *sessions.CookieCodec
	flow    *auth.FlowController
	gate    *gate.Gate
	metrics *metrics.Metrics
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Provider == nil || deps.Sessions == nil {
		return nil, errors.New("[Server New] provider and session repo are required")
	}
	if deps.NowTime == nil {
		deps.NowTime = time.Now
	}

	table := deps.Table
	if table == nil {
		var err error
		if table, err = gate.FromConfig(cfg); err != nil {
			return nil, fmt.Errorf("[Server New] failed to load routes: %w", err)
		}
	}

	cookieKey, err := secrets.Derive(cfg.GetSessionSecret(), secrets.PurposeSessionCookie)
	if err != nil {
		return nil, fmt.Errorf("[Server New] SESSION_SECRET: %w", err)
	}
	stateKey, err := secrets.Derive(cfg.GetSessionSecret(), secrets.PurposeState)
	if err != nil {
		return nil, fmt.Errorf("[Server New] SESSION_SECRET: %w", err)
	}

	cookies := sessions.NewCookieCodec(cookieKey, sessions.CookieOptions{
		Name:     cfg.GetCookieName(),
		Domain:   cfg.GetCookieDomain(),
		Secure:   cfg.GetCookieSecure(),
		SameSite: cfg.GetCookieSameSite(),
		MaxAge:   cfg.GetCookieMaxAge(),
	})
	states := pkce.NewStateCodec(stateKey, cfg.GetPendingFlowTTL()).WithClock(deps.NowTime)

	flow := auth.NewFlowController(deps.Provider, deps.Sessions, states, cfg,
		auth.WithNowTime(deps.NowTime),
		auth.WithMetrics(deps.Metrics),
	)
	refresher := refresh.NewManager(deps.Provider, deps.Sessions, cfg,
		refresh.WithNowTime(deps.NowTime),
		refresh.WithMetrics(deps.Metrics),
	)

	s := &Server{
		env:     cfg.GetEnv(),
		router:  chi.NewRouter(),
		config:  cfg,
		app:     deps.App,
		cookies: cookies,
		flow:    flow,
		gate:    gate.New(table, deps.Sessions, cookies, refresher, deps.Metrics),
		metrics: deps.Metrics,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RegisterRouteFunc registers a handler and records it for the route log.
func (s *Server) RegisterRouteFunc(r chi.Router, method, pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, method+" "+pattern)
	r.Method(method, pattern, handler)
}

func (s *Server) RegisterRouteHandler(r chi.Router, pattern string, handler http.Handler) {
	s.routes = append(s.routes, "* "+pattern)
	r.Handle(pattern, handler)
}
