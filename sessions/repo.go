package sessions

import (
	"context"
)

// Repo defines the session storage operations. Implementations are safe for
// concurrent use and address sessions by ID only, so different sessions never contend.
type Repo interface {
	// Get returns a copy of the session or an error wrapping ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Save creates or replaces a session and refreshes its lifetime.
	Save(ctx context.Context, session *Session) error

	// Update applies fn to the stored session as one atomic read-modify-write.
	// When fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, sessionID string, fn func(*Session) error) (*Session, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error
}
