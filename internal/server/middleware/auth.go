package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the market API with a single operator key, presented either as
// "Authorization: Bearer <key>" or in the X-API-Key header. An empty
// configured key disables the check entirely, which is the expected setup
// for local sim runs and tests.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := requestKey(r)
			if presented == "" {
				denyUnauthorized(w, "missing API key")
				return
			}
			// Constant-time compare so response timing leaks nothing about
			// the configured key.
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				denyUnauthorized(w, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestKey pulls the presented key from the Bearer scheme or the
// X-API-Key header, preferring the former.
func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func denyUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
