package users

import "errors"

// Collection holds one document per user, keyed by uid.
const Collection = "users"

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrValidation         = errors.New("validation failed")
)

// CreateUserRequest represents the data needed to register a user
type CreateUserRequest struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// UpdateUserRequest represents the profile fields a user can change
type UpdateUserRequest struct {
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}
