package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for the sign-in, callback and refresh lifecycle.
var (
	// Client-caused, terminal for the request that produced them.
	ErrMissingState         = errors.New("missing state parameter")
	ErrExpiredOrMissingFlow = errors.New("no pending sign-in flow for this session")
	ErrCsrfMismatch         = errors.New("state does not match the pending sign-in flow")
	ErrMalformedState       = errors.New("malformed state parameter")

	// Upstream-caused, never retried synchronously.
	ErrTokenExchange       = errors.New("token exchange failed")
	ErrRefresh             = errors.New("token refresh failed")
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// Expected control-flow signal.
	ErrNotAuthenticated = errors.New("not authenticated")

	// Session store errors
	ErrSessionNotFound = errors.New("session not found")
)

type classification struct {
	name    string
	status  int
	message string
	client  bool
}

// classifications is ordered: the first sentinel found in the chain wins.
var classifications = []struct {
	err error
	classification
}{
	{ErrMissingState, classification{"MissingStateError", http.StatusBadRequest, "The sign-in response did not include a state parameter.", true}},
	{ErrExpiredOrMissingFlow, classification{"ExpiredOrMissingFlowError", http.StatusBadRequest, "No sign-in is in progress for this session, or it has expired.", true}},
	{ErrCsrfMismatch, classification{"CsrfMismatchError", http.StatusBadRequest, "The sign-in response does not belong to this session.", true}},
	{ErrMalformedState, classification{"MalformedStateError", http.StatusBadRequest, "The sign-in response state could not be read.", true}},
	{ErrTokenExchange, classification{"TokenExchangeError", http.StatusBadGateway, "The identity provider did not complete the sign-in.", false}},
	{ErrRefresh, classification{"RefreshError", http.StatusUnauthorized, "The session has expired. Please sign in again.", false}},
	{ErrProviderUnavailable, classification{"ProviderUnavailableError", http.StatusServiceUnavailable, "The identity provider is currently unavailable.", false}},
	{ErrNotAuthenticated, classification{"NotAuthenticatedError", http.StatusUnauthorized, "Authentication is required.", false}},
	{ErrSessionNotFound, classification{"NotAuthenticatedError", http.StatusUnauthorized, "Authentication is required.", false}},
}

var internalError = classification{"InternalError", http.StatusInternalServerError, "An unexpected error occurred.", false}

func classify(err error) classification {
	for _, c := range classifications {
		if errors.Is(err, c.err) {
			return c.classification
		}
	}
	return internalError
}

// Name returns the public error name for err, e.g. "CsrfMismatchError".
func Name(err error) string {
	return classify(err).name
}

// HTTPStatus returns the status code an API response should carry for err.
func HTTPStatus(err error) int {
	return classify(err).status
}

// PublicMessage returns a fixed, user-safe message for err. It never includes
// the wrapped error text.
func PublicMessage(err error) string {
	return classify(err).message
}

// IsClientError reports whether err was caused by the request itself
// (bad or replayed callback) rather than by the identity provider.
func IsClientError(err error) bool {
	return classify(err).client
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Mark attaches a taxonomy sentinel to a lower-level cause so both remain
// visible to errors.Is.
func Mark(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
