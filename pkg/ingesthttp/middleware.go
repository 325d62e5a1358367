package ingesthttp

import (
	"net/http"

	"golang.org/x/time/rate"
)

// securityHeaders sets the global response headers the ingest surface
// always carries, unless a handler already set one.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		setIfAbsent(h, "Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		setIfAbsent(h, "X-Frame-Options", "DENY")
		setIfAbsent(h, "X-Content-Type-Options", "nosniff")
		setIfAbsent(h, "Referrer-Policy", "strict-origin-when-cross-origin")
		setIfAbsent(h, "Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		next.ServeHTTP(w, r)
	})
}

func setIfAbsent(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}

// maxBody caps every request body at maxBodyBytes, mirroring the
// original's slowloris/oversized-upload guard.
func maxBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a single shared token bucket across every request, the Go
// equivalent of the original's SharedRateLimitLayer: one bucket shared by
// all callers, not one per client.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
