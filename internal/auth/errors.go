package auth

import "errors"

// ErrAuthDisabled is returned when no signing secret is configured.
var ErrAuthDisabled = errors.New("auth is disabled")

// ErrInvalidToken is returned for expired, malformed, or forged tokens.
var ErrInvalidToken = errors.New("invalid token")

// ErrInvalidCredentials is returned when a login attempt fails.
var ErrInvalidCredentials = errors.New("invalid credentials")
