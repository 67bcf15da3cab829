package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) initRoutes() {
	s.router.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.LoggingMiddleware,
		middleware.Recoverer,
		s.FrameSecurityMiddleware,
	)

	s.RegisterRouteFunc(s.router, http.MethodGet, RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler(s.router, RouteMetrics, s.metrics.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(s.gate.Middleware)

		// AUTH
		s.RegisterRouteFunc(r, http.MethodGet, RouteSignIn, s.SignInHandler())
		s.RegisterRouteFunc(r, http.MethodPost, RouteCallback, s.CallbackHandler()) // form_post response mode
		s.RegisterRouteFunc(r, http.MethodGet, RouteCallback, s.CallbackHandler())
		s.RegisterRouteFunc(r, http.MethodGet, RouteSignOut, s.SignOutHandler())
		s.RegisterRouteFunc(r, http.MethodGet, RouteError, s.AuthErrorHandler())

		// USER
		s.RegisterRouteFunc(r, http.MethodGet, RouteUsersID, s.UserIDHandler())
		s.RegisterRouteFunc(r, http.MethodGet, RouteProfile, s.ProfileHandler())

		if s.app != nil {
			s.RegisterRouteHandler(r, "/*", s.app)
			return
		}
		s.RegisterRouteFunc(r, http.MethodGet, RouteIndex, s.IndexHandler())
		s.RegisterRouteFunc(r, http.MethodGet, RouteIndexHTML, s.IndexHandler())
		s.RegisterRouteFunc(r, http.MethodGet, "/*", s.NotFoundHandler())
	})
}
