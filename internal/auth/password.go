package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadPassword = errors.New("password does not match")

// VerifyPassword checks a plaintext password against a bcrypt hash. An empty
// hash always fails so an unset hash cannot be bypassed with an empty string.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return ErrBadPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadPassword
	}
	return nil
}

// HashPassword generates a bcrypt hash at the default cost, for seeding
// ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
