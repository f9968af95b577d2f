package duel

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// FromSnapshot decodes a session document.
func FromSnapshot(snap docstore.Snapshot) (models.DuelSession, error) {
	if !snap.Exists {
		return models.DuelSession{}, fmt.Errorf("session %s: %w", snap.ID, ErrNotFound)
	}
	var s models.DuelSession
	if err := snap.DataTo(&s); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.DuelSession{}, fmt.Errorf("session %s: %w", snap.ID, ErrNotFound)
		}
		return models.DuelSession{}, fmt.Errorf("decode session %s: %w", snap.ID, err)
	}
	s.ID = snap.ID
	return s, nil
}

// ToFields encodes a full session body, e.g. for creation.
func ToFields(s models.DuelSession) (docstore.Fields, error) {
	v, err := docstore.Normalize(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("encode session: unexpected %T", v)
	}
	return docstore.Fields(m), nil
}

// HistoryRecord summarises a finished match.
func HistoryRecord(s models.DuelSession, now time.Time) models.MatchHistory {
	results := make(map[string]models.DuelResult, len(s.DuelResults))
	for k, v := range s.DuelResults {
		results[k] = v
	}
	return models.MatchHistory{
		MatchID:        s.ID,
		Player1ID:      s.Player1ID,
		Player1Name:    s.Player1Name,
		Player1Deck:    s.Player1Deck,
		Player1IsGuest: s.Player1IsGuest,
		Player1Score:   s.Player1Score,
		Player2ID:      s.Player2ID,
		Player2Name:    s.Player2Name,
		Player2Deck:    s.Player2Deck,
		Player2IsGuest: s.Player2IsGuest,
		Player2Score:   s.Player2Score,
		Winner:         s.MatchWinner,
		DuelResults:    results,
		CreatedAt:      now.UTC(),
	}
}
