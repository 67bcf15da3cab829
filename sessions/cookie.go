package sessions

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const sessionIDBytes = 32

// CookieOptions are the attributes of the session-identifier cookie.
type CookieOptions struct {
	Name     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// CookieCodec writes and reads signed session-identifier cookies.
// The cookie value is "<id>.<mac>"; a value with a bad MAC reads as no session.
type CookieCodec struct {
	key  []byte
	opts CookieOptions
}

func NewCookieCodec(key []byte, opts CookieOptions) *CookieCodec {
	return &CookieCodec{key: key, opts: opts}
}

// NewSessionID returns a random base64url identifier.
func NewSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Read returns the verified session ID carried by r, if any.
func (c *CookieCodec) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.opts.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	id, mac, ok := strings.Cut(cookie.Value, ".")
	if !ok || id == "" {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(mac)
	if err != nil || !hmac.Equal(got, c.sign(id)) {
		return "", false
	}
	return id, true
}

func (c *CookieCodec) Write(w http.ResponseWriter, sessionID string) {
	ck := c.base()
	ck.Value = sessionID + "." + base64.RawURLEncoding.EncodeToString(c.sign(sessionID))
	if c.opts.MaxAge > 0 {
		ck.MaxAge = int(c.opts.MaxAge.Seconds())
		ck.Expires = time.Now().Add(c.opts.MaxAge).UTC()
	}
	http.SetCookie(w, ck)
}

// Clear instructs the browser to drop the session cookie.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	ck := c.base()
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0).UTC()
	http.SetCookie(w, ck)
}

func (c *CookieCodec) Name() string {
	return c.opts.Name
}

func (c *CookieCodec) base() *http.Cookie {
	return &http.Cookie{
		Name:     c.opts.Name,
		Path:     "/",
		Domain:   c.opts.Domain,
		HttpOnly: true,
		Secure:   c.opts.Secure,
		SameSite: c.opts.SameSite,
	}
}

func (c *CookieCodec) sign(id string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(id))
	return mac.Sum(nil)
}
