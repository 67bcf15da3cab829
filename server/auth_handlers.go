package server

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-auth-gate/auth"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/internal/httpjson"
	"github.com/rs/zerolog/log"
)

// SignInHandler starts the authorization code flow and sends the browser to the provider.
func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, _ := s.cookies.Read(r)
		res, err := s.flow.InitiateSignIn(r.Context(), sessionID, r.URL.Query().Get("redirectTo"))
		if err != nil {
			log.Error().Err(err).Msg("sign-in could not be started")
			s.redirectToError(w, r, err)
			return
		}
		s.cookies.Write(w, res.SessionID)
		noStore(w)
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	}
}

// CallbackHandler completes the flow. The provider posts the response
// (response_mode=form_post); GET is accepted for the query response mode.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			httpjson.WriteError(w, autherrors.Mark(autherrors.ErrMalformedState, err))
			return
		}
		sessionID, _ := s.cookies.Read(r)
		res, err := s.flow.HandleCallback(r.Context(), sessionID, auth.CallbackParams{
			Code:             r.Form.Get("code"),
			State:            r.Form.Get("state"),
			Error:            r.Form.Get("error"),
			ErrorDescription: r.Form.Get("error_description"),
		})
		if err != nil {
			if autherrors.IsClientError(err) {
				httpjson.WriteError(w, err)
				return
			}
			// Never back into sign-in: a failing provider would loop.
			s.redirectToError(w, r, err)
			return
		}
		s.cookies.Write(w, res.SessionID)
		noStore(w)
		http.Redirect(w, r, res.RedirectTo, http.StatusFound)
	}
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, _ := s.cookies.Read(r)
		target := s.flow.SignOut(r.Context(), sessionID)
		s.cookies.Clear(w)
		noStore(w)
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// errorReasons are the failures /auth/error will describe; anything else shows the generic message.
var errorReasons = map[string]error{
	autherrors.Name(autherrors.ErrTokenExchange):       autherrors.ErrTokenExchange,
	autherrors.Name(autherrors.ErrProviderUnavailable): autherrors.ErrProviderUnavailable,
	autherrors.Name(autherrors.ErrRefresh):             autherrors.ErrRefresh,
}

// AuthErrorHandler renders the generic sign-in failure page.
func (s *Server) AuthErrorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reason error = errUnknownReason
		if known, ok := errorReasons[r.URL.Query().Get("reason")]; ok {
			reason = known
		}
		data := map[string]interface{}{
			"AppName": s.config.GetAppName(),
			"Message": autherrors.PublicMessage(reason),
		}

		renderPage(w, autherrors.HTTPStatus(reason), "error.html", data)
	}
}

func (s *Server) redirectToError(w http.ResponseWriter, r *http.Request, err error) {
	noStore(w)
	http.Redirect(w, r, RouteError+"?reason="+url.QueryEscape(autherrors.Name(err)), http.StatusFound)
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}
