package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/ratelimit"
)

// HeaderServiceToken carries the pre-shared token that exempts
// service-to-service callers from rate limiting.
const HeaderServiceToken = "X-Service-Token"

// Rate-limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitOptions configures the rate-limit middleware.
type RateLimitOptions struct {
	// Limiter decides admission. A nil limiter disables the middleware.
	Limiter ratelimit.Limiter

	// SkipPathPrefixes are never counted or throttled.
	SkipPathPrefixes []string

	// Allowlist entries are exact addresses or CIDR ranges exempt from
	// limiting.
	Allowlist []string

	// ServiceToken, when non-empty, exempts requests presenting it.
	ServiceToken string

	Logger *zap.Logger
}

// allowlist holds parsed exemption entries.
type allowlist struct {
	ips   map[string]struct{}
	cidrs []*net.IPNet
}

func parseAllowlist(entries []string) (*allowlist, error) {
	al := &allowlist{ips: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("allowlist entry %q: %w", entry, err)
			}
			al.cidrs = append(al.cidrs, ipNet)
			continue
		}
		if net.ParseIP(entry) == nil {
			return nil, fmt.Errorf("allowlist entry %q: not an IP address", entry)
		}
		al.ips[entry] = struct{}{}
	}
	return al, nil
}

func (al *allowlist) contains(addr string) bool {
	if _, ok := al.ips[addr]; ok {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, ipNet := range al.cidrs {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// tokensEqual compares the presented token with the configured one in
// constant time. Hashing first keeps the comparison length-independent.
func tokensEqual(presented, configured string) bool {
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// RateLimit builds the admission middleware. Skip rules are evaluated
// before the counter is touched, so exempt requests never consume
// quota. A store error admits the request; degradation is the
// limiter's concern, not the caller's.
func RateLimit(opts RateLimitOptions) (gin.HandlerFunc, error) {
	al, err := parseAllowlist(opts.Allowlist)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		if opts.Limiter == nil {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		for _, prefix := range opts.SkipPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		if opts.ServiceToken != "" {
			if token := c.GetHeader(HeaderServiceToken); token != "" && tokensEqual(token, opts.ServiceToken) {
				c.Next()
				return
			}
		}

		if al.contains(clientAddr(c.Request)) {
			c.Next()
			return
		}

		result, err := opts.Limiter.Allow(c.Request.Context(), ratelimit.Key(c.Request))
		if err != nil {
			logger.Error("rate limit check failed, admitting request",
				zap.String("path", path),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retryAfter := result.RetryAfterSeconds()
			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfter))
			ratelimit.RecordRejection(path)

			logger.Warn("rate limit exceeded",
				zap.String("identity", ratelimit.ClientIdentity(c.Request)),
				zap.String("path", path),
				zap.Int("retry_after", retryAfter),
			)

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}, nil
}

// clientAddr resolves the network address checked against the
// allowlist: first forwarded hop when present, else the connection
// address.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get(ratelimit.HeaderForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return ratelimit.RemoteIP(r)
}
