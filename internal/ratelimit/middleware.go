package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/metrics"
)

// Category is a path-scoped limit. Requests are matched against
// categories by prefix, first match wins; unmatched paths fall to the
// default category.
type Category struct {
	Name        string        `yaml:"name"`
	Prefix      string        `yaml:"prefix"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// IdentityResolver extracts the keying identity from a request.
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) auth.Identity
}

// Middleware enforces per-identity, per-category request limits at the
// boundary. Admitted requests pass through untouched — the response
// writer is never wrapped, so incrementally delivered bodies
// (server-sent events) flow unbuffered.
type Middleware struct {
	limiter    *Limiter
	resolver   IdentityResolver
	categories []Category
	fallback   Category
	logger     *slog.Logger
}

// NewMiddleware builds a rate-limit middleware. The fallback category
// applies to paths no configured prefix matches.
func NewMiddleware(limiter *Limiter, resolver IdentityResolver, categories []Category, fallback Category, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		limiter:    limiter,
		resolver:   resolver,
		categories: categories,
		fallback:   fallback,
		logger:     logger.With("component", "ratelimit"),
	}
}

// Wrap applies the admission check in front of next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := m.resolver.ResolveIdentity(r)
		if identity.Kind == auth.KindService {
			next.ServeHTTP(w, r)
			return
		}

		category := m.category(r.URL.Path)
		key := identity.Key + ":" + category.Name

		decision := m.limiter.Check(key, category.MaxRequests, category.Window)
		if !decision.Allowed {
			m.reject(w, category, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) category(path string) Category {
	for _, c := range m.categories {
		if strings.HasPrefix(path, c.Prefix) {
			return c
		}
	}
	return m.fallback
}

func (m *Middleware) reject(w http.ResponseWriter, category Category, decision Decision) {
	seconds := int(decision.RetryAfter / time.Second)
	if decision.RetryAfter%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}

	metrics.RateLimitDenials.WithLabelValues(category.Name).Inc()
	m.logger.Warn("request rate limited", "category", category.Name, "retry_after_s", seconds)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(category.MaxRequests))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"detail": "Rate limit exceeded. Try again in %d seconds."}`, seconds)
}
