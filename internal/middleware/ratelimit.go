package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/dukerupert/smartnotes/internal/httpx"
)

// RealIP extracts the client's IP address. With trustProxy set it prefers
// Cloudflare's CF-Connecting-IP header, then X-Forwarded-For. Otherwise the
// headers are client-controlled and only RemoteAddr is used.
func RealIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First IP in the chain is the original client
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitByIP allows limit requests per client IP in each window. Excess
// requests get 429 with a JSON error body. trustProxy is passed to RealIP.
func RateLimitByIP(limit int, window time.Duration, trustProxy bool) func(http.Handler) http.Handler {
	keyByRealIP := func(r *http.Request) (string, error) {
		return RealIP(r, trustProxy), nil
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(keyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Error(w, http.StatusTooManyRequests, "too many requests")
		}),
	)
}
