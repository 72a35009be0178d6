package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// RateLimit applies a per-client request budget through the shared limiter,
// keyed by client IP so one dashboard polling quotes cannot starve the price
// endpoints for everyone else. Limiter errors fail open: a degraded redis
// must not take the read API down with it.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "api:" + clientAddr(r)

			allowed, err := limiter.Allow(context.Background(), key, limit, window)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr resolves the client IP through the usual proxy headers before
// falling back to the socket address.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
