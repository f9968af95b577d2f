package duel

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the session document does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrPermissionDenied is returned when a spectator tries to act on a duel.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrSessionFull is reported to a joiner that lost the race for the second seat.
	ErrSessionFull = errors.New("session already has two players")
	// ErrValidation is the parent of every precondition failure below.
	ErrValidation = errors.New("validation failed")
)

var (
	ErrNotStarted        = validation("match has not started")
	ErrAlreadyStarted    = validation("match already in progress")
	ErrPaused            = validation("match is paused")
	ErrMatchOver         = validation("match is over")
	ErrMatchNotOver      = validation("match is not over")
	ErrMissingOpponent   = validation("waiting for an opponent")
	ErrIntermission      = validation("duel has ended, waiting for the next one")
	ErrInvalidPlayer     = validation("player must be 1 or 2")
	ErrAlreadySeated     = validation("participant already holds the first seat")
	ErrDuelRecorded      = validation("duel result already recorded")
	ErrGuestNameRequired = validation("guest name is required")
)

func validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
