// Package ratelimitmw adapts pkg/ratelimit.Limiter onto the HTTP boundary:
// each request's quota key is its X-User-ID header, falling back to the
// remote address for unauthenticated callers.
package ratelimitmw

import (
	"encoding/json"
	"net/http"

	"github.com/kafkaops/agent/pkg/ratelimit"
)

// Middleware enforces a sustained per-caller quota on every request. It
// sits ahead of both C9 adapter mounts, so its error response is its own
// minimal envelope rather than either adapter's — depending on
// internal/httpserver here would cycle back through it.
type Middleware struct {
	limiter *ratelimit.Limiter
}

// New builds a Middleware backed by limiter.
func New(limiter *ratelimit.Limiter) *Middleware {
	return &Middleware{limiter: limiter}
}

// Handler is the chi-compatible middleware function.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-User-ID")
		if key == "" {
			key = r.RemoteAddr
		}

		if err := m.limiter.CheckSustained(r.Context(), key); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":       "rate_limit_exceeded",
				"description": err.Error(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
