package auth

import (
	"fmt"

	"github.com/nerrad567/maxcube-core/internal/infrastructure/config"
)

// Users checks logins against the configured accounts.
type Users struct {
	hashes map[string]string

	// dummy is verified for unknown usernames so both paths cost one
	// Argon2id evaluation.
	dummy string
}

// NewUsers builds the account table from security.users.
func NewUsers(accounts []config.UserConfig) (*Users, error) {
	u := &Users{hashes: make(map[string]string, len(accounts))}
	for _, a := range accounts {
		if _, _, _, err := decodePHC(a.PasswordHash); err != nil {
			return nil, fmt.Errorf("user %q: %w", a.Username, err)
		}
		u.hashes[a.Username] = a.PasswordHash
	}

	dummy, err := HashPassword("maxcube-dummy-password")
	if err != nil {
		return nil, err
	}
	u.dummy = dummy
	return u, nil
}

// Len returns the number of configured accounts.
func (u *Users) Len() int {
	return len(u.hashes)
}

// Authenticate returns ErrInvalidCredentials unless password matches the
// account's hash.
func (u *Users) Authenticate(username, password string) error {
	hash, ok := u.hashes[username]
	if !ok {
		//nolint:errcheck // timing equaliser, result unused
		VerifyPassword(password, u.dummy)
		return ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, hash)
	if err != nil {
		return fmt.Errorf("verify %q: %w", username, err)
	}
	if !match {
		return ErrInvalidCredentials
	}
	return nil
}
