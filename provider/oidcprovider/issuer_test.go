package oidcprovider_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-gate/pkce"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "gate-client"
	testClientSecret = "gate-secret"
	testKeyID        = "test-key"
)

// fakeIssuer is a minimal OpenID Connect provider: discovery, JWKS, token and revocation endpoints.
type fakeIssuer struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu            sync.Mutex
	codes         map[string]string
	refreshTokens map[string]bool
	revoked       []string
	tokenCalls    int
	seq           int

	subject       string
	objectID      string
	tokenStatus   int
	endSession    bool
	omitIDToken   bool
	refreshAsUser string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{
		t:             t,
		key:           key,
		codes:         make(map[string]string),
		refreshTokens: make(map[string]bool),
		subject:       "pairwise-sub",
		objectID:      "object-1",
		endSession:    true,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.handleDiscovery)
	mux.HandleFunc("/keys", f.handleKeys)
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/revoke", f.handleRevoke)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIssuer) issuer() string {
	return f.srv.URL
}

func (f *fakeIssuer) issueCode(code, challenge string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = challenge
}

func (f *fakeIssuer) addRefreshToken(rt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshTokens[rt] = true
}

func (f *fakeIssuer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func (f *fakeIssuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                                f.issuer(),
		"authorization_endpoint":                f.issuer() + "/authorize",
		"token_endpoint":                        f.issuer() + "/token",
		"jwks_uri":                              f.issuer() + "/keys",
		"revocation_endpoint":                   f.issuer() + "/revoke",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	if f.endSession {
		doc["end_session_endpoint"] = f.issuer() + "/logout"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (f *fakeIssuer) handleKeys(w http.ResponseWriter, _ *http.Request) {
	pub := f.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if f.tokenStatus != 0 {
		writeJSON(w, f.tokenStatus, map[string]string{"error": "server_error"})
		return
	}

	subject := f.objectID
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		challenge, ok := f.codes[r.PostForm.Get("code")]
		delete(f.codes, r.PostForm.Get("code"))
		if !ok || !pkce.VerifyChallenge(r.PostForm.Get("code_verifier"), challenge, pkce.MethodS256) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if !f.refreshTokens[rt] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(f.refreshTokens, rt)
		if f.refreshAsUser != "" {
			subject = f.refreshAsUser
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	f.seq++
	refreshToken := fmt.Sprintf("rt-%d", f.seq)
	f.refreshTokens[refreshToken] = true
	resp := map[string]any{
		"access_token":  fmt.Sprintf("at-%d", f.seq),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": refreshToken,
	}
	if !f.omitIDToken {
		resp["id_token"] = f.signIDToken(subject)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeIssuer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if id, secret, ok := r.BasicAuth(); !ok || id != testClientID || secret != testClientSecret {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	f.revoked = append(f.revoked, r.PostForm.Get("token"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeIssuer) signIDToken(objectID string) string {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":                f.issuer(),
		"aud":                testClientID,
		"sub":                f.subject,
		"oid":                objectID,
		"tid":                "72f988bf-86f1-41af-91ab-2d7cd011db47",
		"preferred_username": "jane@example.com",
		"name":               "Jane Doe",
		"roles":              []string{"reader"},
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(f.key)
	require.NoError(f.t, err)
	return signed
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
