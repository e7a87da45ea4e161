package auth

import (
	"net/http"
	"strings"
)

// GetCookieDomain extracts the domain from the request host for cookie setting
func GetCookieDomain(host string) string {
	// Strip port number if present
	if colonIndex := strings.Index(host, ":"); colonIndex != -1 {
		host = host[:colonIndex]
	}

	// For development environments, don't set a domain
	if host == "localhost" || host == "127.0.0.1" {
		return ""
	}

	return host
}

// SetAuthCookie sets the session cookie with the given token.
// maxAge is in seconds.
func SetAuthCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	cookie := &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Secure:   r.TLS != nil || !isLocalHost(r.Host),
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   maxAge,
	}

	if domain := GetCookieDomain(r.Host); domain != "" {
		cookie.Domain = domain
	}

	http.SetCookie(w, cookie)
}

func isLocalHost(host string) bool {
	return strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1")
}

// GetClientInfo extracts client IP address and User-Agent from request
func GetClientInfo(r *http.Request) (ipAddress string, userAgent string) {
	// Prefer X-Forwarded-For for proxied requests; it may list several IPs
	ipAddress = r.Header.Get("X-Forwarded-For")
	if ipAddress != "" {
		if idx := strings.Index(ipAddress, ","); idx != -1 {
			ipAddress = strings.TrimSpace(ipAddress[:idx])
		}
	}

	if ipAddress == "" {
		ipAddress = r.Header.Get("X-Real-IP")
	}

	if ipAddress == "" {
		ipAddress = r.RemoteAddr
		if idx := strings.LastIndex(ipAddress, ":"); idx != -1 {
			ipAddress = ipAddress[:idx]
		}
	}

	userAgent = r.Header.Get("User-Agent")
	if userAgent == "" {
		userAgent = "Unknown"
	}

	return ipAddress, userAgent
}

// GetClientIP extracts only the client IP address from request
func GetClientIP(r *http.Request) string {
	ipAddress, _ := GetClientInfo(r)
	return ipAddress
}
