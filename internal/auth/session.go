package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const (
	pendingCookieName = "saml_pending"
	// Pending state lives only for the duration of one round trip to the IdP.
	pendingCookieMaxAge = 600
)

// PendingSAML is the per-login state parked in the caller's session while the
// browser round-trips through the IdP: the AuthnRequest id for InResponseTo
// correlation, the relay state token, and the post-login destination.
type PendingSAML struct {
	RequestID  string
	RelayState string
	ReturnTo   string
}

// SessionManager signs and verifies the pending-state cookie. It is the
// session key/value bag the SAML flow stores its correlation state in.
type SessionManager struct {
	secret []byte
}

// NewSessionManager creates a session manager keyed by SESSION_SECRET.
func NewSessionManager() (*SessionManager, error) {
	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is not set")
	}
	return &SessionManager{secret: []byte(secret)}, nil
}

// SetPendingSAML writes the signed pending-state cookie.
func (s *SessionManager) SetPendingSAML(w http.ResponseWriter, r *http.Request, pending *PendingSAML) {
	values := url.Values{}
	values.Set("rid", pending.RequestID)
	values.Set("rs", pending.RelayState)
	if pending.ReturnTo != "" {
		values.Set("rt", pending.ReturnTo)
	}
	payload := values.Encode()
	signed := payload + "|" + s.sign(payload)

	http.SetCookie(w, &http.Cookie{
		Name:     pendingCookieName,
		Value:    base64.URLEncoding.EncodeToString([]byte(signed)),
		Path:     "/",
		MaxAge:   pendingCookieMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil || !isLocalHost(r.Host),
		SameSite: http.SameSiteLaxMode,
	})
}

// GetPendingSAML reads and verifies the pending-state cookie. Returns nil if
// the cookie is absent, malformed, or its signature does not verify.
func (s *SessionManager) GetPendingSAML(r *http.Request) *PendingSAML {
	cookie, err := r.Cookie(pendingCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	raw, err := base64.URLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil
	}
	payload, sig := parts[0], parts[1]
	if !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return nil
	}

	values, err := url.ParseQuery(payload)
	if err != nil {
		return nil
	}
	return &PendingSAML{
		RequestID:  values.Get("rid"),
		RelayState: values.Get("rs"),
		ReturnTo:   values.Get("rt"),
	}
}

// ClearPendingSAML discards the pending-state cookie. The stored request id
// is single-use; every ACS callback outcome clears it.
func (s *SessionManager) ClearPendingSAML(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     pendingCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil || !isLocalHost(r.Host),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *SessionManager) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsRelativePath checks that a post-login destination is a same-site
// relative path. Protocol-relative URLs like //evil.example are rejected.
func IsRelativePath(s string) bool {
	if s == "" || !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") {
		return false
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return false
	}
	return parsed.Scheme == "" && parsed.Host == ""
}
