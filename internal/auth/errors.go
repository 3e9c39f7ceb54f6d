package auth

import "errors"

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrIncorrectPassword  = errors.New("current password is incorrect")
	// ErrInvalidSession covers both unknown and expired session ids.
	ErrInvalidSession = errors.New("invalid or expired session")
)
