package pkce

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
)

// State is echoed back by the identity provider on the callback.
type State struct {
	CSRFToken  string
	RedirectTo string
}

type stateClaims struct {
	CSRFToken  string `json:"csrf"`
	RedirectTo string `json:"redirect_to,omitempty"`
	jwt.RegisteredClaims
}

// StateCodec encodes State as a compact HS256 JWT so the redirect target
// cannot be altered in transit.
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewStateCodec(key []byte, ttl time.Duration) *StateCodec {
	return &StateCodec{key: key, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (c *StateCodec) WithClock(now func() time.Time) *StateCodec {
	c.now = now
	return c
}

func (c *StateCodec) Encode(s State) (string, error) {
	if s.CSRFToken == "" {
		return "", errors.New("state requires a csrf token")
	}
	now := c.now()
	claims := stateClaims{
		CSRFToken:  s.CSRFToken,
		RedirectTo: s.RedirectTo,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// Decode verifies and unpacks an encoded state. Every failure, including
// expiry, is reported as ErrMalformedState.
func (c *StateCodec) Decode(encoded string) (State, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(encoded, &claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return State{}, autherrors.Mark(autherrors.ErrMalformedState, err)
	}
	if claims.CSRFToken == "" {
		return State{}, autherrors.Mark(autherrors.ErrMalformedState, errors.New("state has no csrf token"))
	}
	return State{CSRFToken: claims.CSRFToken, RedirectTo: claims.RedirectTo}, nil
}
