package principal

import (
	"context"
	"slices"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/sessions"
)

// Pseudo roles every signed-in principal holds.
const (
	RoleAny               = "any"
	RoleAuthenticatedUser = "authenticated-user"
)

// Principal is the user identity handed to the application for one request.
type Principal struct {
	ID          string   `json:"id"`
	AccountID   string   `json:"account_id"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Schema      string   `json:"schema,omitempty"`
	Roles       []string `json:"roles"`
	AccessToken string   `json:"-"`
}

// FromSession maps an authenticated session to its principal. It never
// fabricates an identity: unauthenticated sessions yield ErrNotAuthenticated.
func FromSession(s *sessions.Session) (*Principal, error) {
	if !s.IsAuthenticated() {
		return nil, autherrors.ErrNotAuthenticated
	}
	identity := s.Identity

	id := identity.Username
	if id == "" {
		id = identity.AccountID
	}
	p := &Principal{
		ID:          id,
		AccountID:   identity.AccountID,
		TenantID:    identity.TenantID,
		Roles:       []string{RoleAuthenticatedUser},
		AccessToken: s.Tokens.AccessToken,
	}
	if identity.TenantID != "" {
		p.Schema = FormatSchema(identity.TenantID)
	}
	for _, r := range identity.Roles {
		if r != "" && !slices.Contains(p.Roles, r) {
			p.Roles = append(p.Roles, r)
		}
	}
	return p, nil
}

// Is reports whether the principal holds role. "any" and "authenticated-user" always match.
func (p *Principal) Is(role string) bool {
	if p == nil {
		return false
	}
	return role == RoleAny || role == RoleAuthenticatedUser || slices.Contains(p.Roles, role)
}

// FormatSchema turns a tenant ID into a database schema name: it is prefixed
// with an underscore so it never starts with a digit, and anything other than
// letters, digits and underscores is dropped.
func FormatSchema(tenantID string) string {
	var b strings.Builder
	b.Grow(len(tenantID) + 1)
	b.WriteByte('_')
	for _, r := range tenantID {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type contextKey struct{}

func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}
