package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/duelpad/go/internal/models"
)

// EventMatchCompleted is published once per archived match.
const EventMatchCompleted = "MatchCompleted"

// Event is one message bound for the event stream.
type Event struct {
	// ID is the history document id; the stream de-duplicates on it.
	ID        string
	MatchID   string
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// MatchCompletedPayload is the body of a MatchCompleted event.
type MatchCompletedPayload struct {
	MatchID      string `json:"matchId"`
	Winner       string `json:"winner"`
	Player1ID    string `json:"player1Id"`
	Player1Name  string `json:"player1Name"`
	Player1Score int    `json:"player1Score"`
	Player2ID    string `json:"player2Id"`
	Player2Name  string `json:"player2Name"`
	Player2Score int    `json:"player2Score"`
	Duels        int    `json:"duels"`
}

// EventPublisher sends events to the stream.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// NewMatchCompleted builds the event for h.
func NewMatchCompleted(h models.MatchHistory) (Event, error) {
	payload, err := json.Marshal(MatchCompletedPayload{
		MatchID:      h.MatchID,
		Winner:       h.Winner,
		Player1ID:    h.Player1ID,
		Player1Name:  h.Player1Name,
		Player1Score: h.Player1Score,
		Player2ID:    h.Player2ID,
		Player2Name:  h.Player2Name,
		Player2Score: h.Player2Score,
		Duels:        len(h.DuelResults),
	})
	if err != nil {
		return Event{}, fmt.Errorf("marshal MatchCompleted payload: %w", err)
	}
	return Event{
		ID:        h.ID,
		MatchID:   h.MatchID,
		EventType: EventMatchCompleted,
		Payload:   payload,
		CreatedAt: h.CreatedAt,
	}, nil
}
