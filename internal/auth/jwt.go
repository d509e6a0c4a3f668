// Package auth issues and validates bearer credentials and resolves
// request identities for rate limiting.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the authenticated principal embedded in a token.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Claims carries the user identity inside a signed token.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies JWTs and recognizes trusted service tokens.
type Service struct {
	secret        []byte
	expiry        time.Duration
	serviceTokens []string
	users         map[string]string
}

// Config configures the auth service.
type Config struct {
	// Secret is the HS256 signing secret. Empty disables auth.
	Secret string `yaml:"secret"`

	// TokenExpiry bounds issued-token lifetime. Zero means no expiry.
	TokenExpiry time.Duration `yaml:"token_expiry"`

	// ServiceTokens are trusted credentials for service-to-service
	// calls. Requests bearing one bypass rate limiting.
	ServiceTokens []string `yaml:"service_tokens"`

	// Users maps username to password for token issuance.
	Users map[string]string `yaml:"users"`
}

// NewService builds an auth service from config.
func NewService(cfg Config) *Service {
	return &Service{
		secret:        []byte(cfg.Secret),
		expiry:        cfg.TokenExpiry,
		serviceTokens: cfg.ServiceTokens,
		users:         cfg.Users,
	}
}

// Enabled reports whether a signing secret is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Login checks a username/password pair and issues a token on success.
func (s *Service) Login(username, password string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	want, ok := s.users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return "", ErrInvalidCredentials
	}
	return s.Generate(&User{ID: username, Name: username})
}

// Generate issues a signed token for the given user.
func (s *Service) Generate(user *User) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("user id required")
	}

	claims := Claims{
		Name: strings.TrimSpace(user.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	if s.expiry <= 0 {
		claims.ExpiresAt = nil
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses a JWT and returns the user embedded in it.
func (s *Service) Validate(token string) (*User, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &User{ID: claims.Subject, Name: strings.TrimSpace(claims.Name)}, nil
}

// IsServiceToken reports whether the token matches a configured trusted
// service credential.
func (s *Service) IsServiceToken(token string) bool {
	if s == nil || token == "" {
		return false
	}
	for _, candidate := range s.serviceTokens {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return true
		}
	}
	return false
}
