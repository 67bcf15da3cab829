package server

import (
	"errors"
	"net/http"

	"github.com/jrsteele09/go-auth-gate/gate"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/internal/httpjson"
	"github.com/jrsteele09/go-auth-gate/principal"
)

var errUnknownReason = errors.New("unknown failure")

// IndexHandler renders the landing page for the signed-in user
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal.FromContext(r.Context())
		if !ok {
			httpjson.WriteError(w, autherrors.ErrNotAuthenticated)
			return
		}
		data := map[string]interface{}{
			"AppName": s.config.GetAppName(),
			"User":    p.ID,
			"Tenant":  p.TenantID,
		}

		renderPage(w, http.StatusOK, "index.html", data)
	}
}

// UserIDHandler returns the ID token claims of the signed-in user.
func (s *Server) UserIDHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := gate.SessionFromContext(r.Context())
		if !ok {
			httpjson.WriteError(w, autherrors.ErrNotAuthenticated)
			return
		}
		claims := session.Identity.Claims
		if claims == nil {
			claims = map[string]any{}
		}
		httpjson.Write(w, http.StatusOK, map[string]any{"idTokenClaims": claims})
	}
}

// ProfileHandler returns the principal the gate resolved for the request.
func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal.FromContext(r.Context())
		if !ok {
			httpjson.WriteError(w, autherrors.ErrNotAuthenticated)
			return
		}
		httpjson.Write(w, http.StatusOK, p)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httpjson.Write(w, http.StatusNotFound, httpjson.ErrorBody{
			Status:  http.StatusNotFound,
			Name:    "NotFoundError",
			Message: "The requested resource does not exist.",
		})
	}
}
