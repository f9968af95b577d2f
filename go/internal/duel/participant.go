package duel

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// Participant is the local identity a client duels under. Token is a random
// secret kept by the client; only its digest (the seat) is written to the
// session document, so two guests with the same name never collide.
type Participant struct {
	UserID  string          `json:"userId,omitempty"`
	Name    string          `json:"name"`
	Token   string          `json:"token"`
	IsGuest bool            `json:"isGuest"`
	Deck    *models.DeckRef `json:"deck,omitempty"`
}

// NewGuest mints a participant for an unauthenticated player.
func NewGuest(name string) (Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Participant{}, ErrGuestNameRequired
	}
	return Participant{Name: name, Token: uuid.NewString(), IsGuest: true}, nil
}

// NewMember mints a participant for a signed-in user.
func NewMember(u models.User) Participant {
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	return Participant{UserID: u.UID, Name: name, Token: uuid.NewString()}
}

// Seat is the value stored in playerNSeat for this participant.
func (p Participant) Seat() string {
	if p.Token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p.Token))
	return hex.EncodeToString(sum[:])
}
