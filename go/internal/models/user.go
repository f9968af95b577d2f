package models

import (
	"time"
)

// User represents an authenticated user in the system
type User struct {
	UID          string    `json:"uid"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	PhotoURL     string    `json:"photoURL,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public strips credentials before a user leaves the server.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}
