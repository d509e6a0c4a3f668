package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// IdentityKind classifies how a request identity was established.
type IdentityKind string

const (
	// KindService marks trusted service-to-service credentials.
	KindService IdentityKind = "service"

	// KindUser marks a validated bearer token.
	KindUser IdentityKind = "user"

	// KindOrigin marks fallback keying by network origin address.
	KindOrigin IdentityKind = "origin"
)

// Identity is a resolved request identity. An invalid or expired
// credential resolves to KindOrigin rather than an error: the control
// flow is visible here instead of buried in error handling, and
// unauthenticated brute-force attempts stay rate-limited per origin.
type Identity struct {
	Kind IdentityKind
	Key  string
	User *User
}

// ResolveIdentity extracts the rate-limiting identity from a request:
// service token if trusted, JWT subject if valid, else origin address.
func (s *Service) ResolveIdentity(r *http.Request) Identity {
	token := BearerToken(r)
	if token != "" {
		if s.IsServiceToken(token) {
			return Identity{Kind: KindService, Key: "service"}
		}
		if user, err := s.Validate(token); err == nil {
			return Identity{Kind: KindUser, Key: "user:" + user.ID, User: user}
		}
	}
	return Identity{Kind: KindOrigin, Key: "ip:" + originAddr(r)}
}

// BearerToken extracts the bearer credential from the Authorization
// header, or "" when absent.
func BearerToken(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if len(value) >= 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return ""
}

func originAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type contextKey struct{}

// WithUser attaches the authenticated user to the context.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok && user != nil
}
