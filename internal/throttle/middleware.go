package throttle

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	dErrors "civica/pkg/domain-errors"
	"civica/pkg/requestcontext"
)

// Middleware applies a Store decision to inbound requests. Denials answer
// 429 with a Retry-After header; store failures fail open so a Redis outage
// does not take signups down with it.
type Middleware struct {
	store    Store
	logger   *slog.Logger
	disabled bool
}

type MiddlewareOption func(*Middleware)

// WithDisabled turns the throttle off (demo mode, handler tests).
func WithDisabled(disabled bool) MiddlewareOption {
	return func(m *Middleware) { m.disabled = disabled }
}

func NewMiddleware(store Store, logger *slog.Logger, opts ...MiddlewareOption) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		decision, err := m.store.Allow(r.Context(), key)
		if err != nil {
			m.logger.Error("throttle check failed, admitting request", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			writeThrottled(w, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if ip := requestcontext.ClientIP(r.Context()); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeThrottled(w http.ResponseWriter, decision *Decision) {
	retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":     false,
		"error_code":  string(dErrors.CodeTooManyRequests),
		"message":     "Too many requests from this address. Please try again later.",
		"retry_after": retryAfter,
	})
}
