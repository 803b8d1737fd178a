package ratelimit

import (
	"net/http"
	"strings"
)

// Header names consumed during client identity resolution.
const (
	// HeaderPrincipal carries the authenticated principal identifier,
	// set by the upstream auth layer. Token verification itself is
	// outside this repository.
	HeaderPrincipal = "X-Authenticated-Principal"

	// HeaderForwardedFor is the standard forwarded-for chain.
	HeaderForwardedFor = "X-Forwarded-For"
)

// ClientIdentity resolves the rate-limit identity of a request:
// authenticated principal when present, else the first hop of the
// forwarded-for chain, else the raw connection address.
func ClientIdentity(r *http.Request) string {
	if principal := r.Header.Get(HeaderPrincipal); principal != "" {
		return principal
	}

	if xff := r.Header.Get(HeaderForwardedFor); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}

	return RemoteIP(r)
}

// Key builds the counter key for a request: identity and route path.
func Key(r *http.Request) string {
	return ClientIdentity(r) + ":" + r.URL.Path
}

// RemoteIP returns the connection address with the port stripped and
// IPv6 brackets removed.
func RemoteIP(r *http.Request) string {
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")
	return ip
}
