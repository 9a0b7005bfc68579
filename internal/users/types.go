package users

import "errors"

// CreateUserRequest contains the fields needed to create a user
type CreateUserRequest struct {
	Username     string
	PasswordHash string
}

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")
