// Package secrets derives independent purpose-bound keys from the single
// configured session secret.
package secrets

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length in bytes of every derived key.
const KeySize = 32

// Purposes used by this module. Each yields an unrelated key.
const (
	PurposeSessionCookie = "authgate/session-cookie/v1"
	PurposeState         = "authgate/oauth-state/v1"
)

// Derive expands secret into a KeySize key bound to purpose using HKDF-SHA256.
func Derive(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("session secret is empty")
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}
