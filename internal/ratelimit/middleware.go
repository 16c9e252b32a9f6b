package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/keithlinneman/linnemanlabs-cms/internal/httpmw"
)

// KeyByClientIP keys on the client IP resolved by httpmw.ClientIPWithOptions, which has
// extra protections around trusting X-Forwarded-For.
func KeyByClientIP(r *http.Request) string {
	return httpmw.ClientIPFromContext(r.Context())
}

// Middleware returns middleware that rejects requests over the limit with 429
// and a Retry-After header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := l.Check(l.keyFunc(r))
		if !res.Allowed {
			WriteTooManyRequests(w, res.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteTooManyRequests writes the 429 response used by every limiter.
// The body intentionally carries no detail about limits or remaining budget.
func WriteTooManyRequests(w http.ResponseWriter, retryAfter int) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests"}`))
}
