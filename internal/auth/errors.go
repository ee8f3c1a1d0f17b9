package auth

import "errors"

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidHash        = errors.New("auth: invalid password hash")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrTicketInvalid      = errors.New("auth: invalid or expired ticket")
	ErrSecretRequired     = errors.New("auth: signing secret is required")
)
