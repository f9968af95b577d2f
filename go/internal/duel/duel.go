// Package duel holds the duel session document model and the pure state
// machine that every client runs against it.
package duel

import (
	"time"

	"github.com/mcdev12/duelpad/go/internal/models"
)

const (
	// Collection holds one document per match.
	Collection = "duels"
	// HistoryCollection receives one document per completed match.
	HistoryCollection = "matchHistory"

	InitialLifePoints = 8000
	// MaxLifePoints caps gains. It stays well inside float64's exact
	// integer range so totals survive a JSON round trip.
	MaxLifePoints = 999_999_999
	MatchTimerSeconds = 2700
	WinsRequired      = 2
	// FlushEvery is how many timer ticks pass between timeRemaining writes.
	FlushEvery = 15
	// ResetDelay is how long a finished duel stays on screen before life points reset.
	ResetDelay = 3 * time.Second
)

// Document field names.
const (
	FieldStatus            = "status"
	FieldPlayer1ID         = "player1Id"
	FieldPlayer1Name       = "player1Name"
	FieldPlayer1Seat       = "player1Seat"
	FieldPlayer1IsGuest    = "player1IsGuest"
	FieldPlayer1Deck       = "player1Deck"
	FieldPlayer2ID         = "player2Id"
	FieldPlayer2Name       = "player2Name"
	FieldPlayer2Seat       = "player2Seat"
	FieldPlayer2IsGuest    = "player2IsGuest"
	FieldPlayer2Deck       = "player2Deck"
	FieldPlayer1LifePoints = "player1LifePoints"
	FieldPlayer2LifePoints = "player2LifePoints"
	FieldCurrentDuel       = "currentDuel"
	FieldPlayer1Score      = "player1Score"
	FieldPlayer2Score      = "player2Score"
	FieldMatchWinner       = "matchWinner"
	FieldMatchPaused       = "matchPaused"
	FieldTimeRemaining     = "timeRemaining"
	FieldDuelResults       = "duelResults"
	FieldGameStarted       = "gameStarted"
	FieldIntermission      = "intermission"
	FieldTimeExpired       = "timeExpired"
	FieldCreatedAt         = "createdAt"
)

// Phase is the state-machine state derived from a session document.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseReady     Phase = "ready"
	PhasePlaying   Phase = "playing"
	PhaseDuelEnded Phase = "duel_ended"
	PhaseMatchOver Phase = "match_over"
)

// PhaseOf derives the phase of s.
func PhaseOf(s models.DuelSession) Phase {
	switch {
	case s.Status == models.DuelStatusWaiting || !s.HasOpponent():
		return PhaseWaiting
	case s.MatchOver():
		return PhaseMatchOver
	case !s.GameStarted:
		return PhaseReady
	case s.Intermission:
		return PhaseDuelEnded
	default:
		return PhasePlaying
	}
}

// TimerRunning reports whether the match clock should be counting down.
func TimerRunning(s models.DuelSession) bool {
	return s.GameStarted && !s.MatchOver() && !s.MatchPaused && s.TimeRemaining > 0
}

// Role is the local participant's relation to a session.
type Role int

const (
	RoleSpectator Role = iota
	RolePlayer1
	RolePlayer2
)

func (r Role) String() string {
	switch r {
	case RolePlayer1:
		return "player1"
	case RolePlayer2:
		return "player2"
	default:
		return "spectator"
	}
}

// IsPlayer reports whether r holds a seat.
func (r Role) IsPlayer() bool {
	return r == RolePlayer1 || r == RolePlayer2
}

// RoleOf resolves which seat, if any, seat occupies in s.
func RoleOf(s models.DuelSession, seat string) Role {
	switch {
	case seat == "":
		return RoleSpectator
	case seat == s.Player1Seat:
		return RolePlayer1
	case seat == s.Player2Seat:
		return RolePlayer2
	default:
		return RoleSpectator
	}
}
