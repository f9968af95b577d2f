// Package history archives completed matches: clients add a document to the
// matchHistory collection and the server relays it into Postgres and onto
// the event stream.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/duel"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// FieldRelayed marks history documents the relay has already processed.
const FieldRelayed = "relayed"

// ErrNotFound is returned when a history record does not exist.
var ErrNotFound = errors.New("match history not found")

// Recorder appends a completed match.
type Recorder interface {
	Record(ctx context.Context, h models.MatchHistory) error
}

// StoreRecorder writes history documents into the shared store.
type StoreRecorder struct {
	store docstore.Store
}

func NewStoreRecorder(store docstore.Store) *StoreRecorder {
	return &StoreRecorder{store: store}
}

func (r *StoreRecorder) Record(ctx context.Context, h models.MatchHistory) error {
	h.Relayed = false
	v, err := docstore.Normalize(h)
	if err != nil {
		return fmt.Errorf("encode match history: %w", err)
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("encode match history: unexpected %T", v)
	}
	if _, err := r.store.Add(ctx, duel.HistoryCollection, fields); err != nil {
		return fmt.Errorf("failed to add match history for %s: %w", h.MatchID, err)
	}
	return nil
}

// FromSnapshot decodes a history document.
func FromSnapshot(snap docstore.Snapshot) (models.MatchHistory, error) {
	var h models.MatchHistory
	if err := snap.DataTo(&h); err != nil {
		return models.MatchHistory{}, fmt.Errorf("decode match history %s: %w", snap.ID, err)
	}
	h.ID = snap.ID
	return h, nil
}
