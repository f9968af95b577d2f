package decks

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// immutable fields are written once on create.
var immutable = map[string]bool{"id": true, "user_id": true, "created_at": true}

// DocRepository keeps decks in the shared document store.
type DocRepository struct {
	store docstore.Store
}

func NewDocRepository(store docstore.Store) *DocRepository {
	return &DocRepository{store: store}
}

func (r *DocRepository) CreateDeck(ctx context.Context, deck models.Deck) (*models.Deck, error) {
	fields, err := docstore.FieldsOf(deck)
	if err != nil {
		return nil, err
	}
	delete(fields, "id")

	id, err := r.store.Add(ctx, Collection, fields)
	if err != nil {
		return nil, err
	}
	deck.ID = id
	return &deck, nil
}

func (r *DocRepository) GetDeck(ctx context.Context, id string) (*models.Deck, error) {
	snap, err := r.store.Get(ctx, Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("deck %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deck %s: %w", id, err)
	}
	return fromSnapshot(snap)
}

func (r *DocRepository) UpdateDeck(ctx context.Context, deck models.Deck) (*models.Deck, error) {
	fields, err := docstore.FieldsOf(deck)
	if err != nil {
		return nil, err
	}
	updates := make([]docstore.Update, 0, len(fields))
	for k, v := range fields {
		if immutable[k] {
			continue
		}
		updates = append(updates, docstore.Set(k, v))
	}

	snap, err := r.store.Update(ctx, Collection, deck.ID, updates)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("deck %s: %w", deck.ID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return fromSnapshot(snap)
}

func (r *DocRepository) DeleteDeck(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("deck %s: %w", id, ErrNotFound)
	}
	return err
}

func (r *DocRepository) ListDecksByUser(ctx context.Context, userID string, includePrivate bool, limit, offset int) ([]models.Deck, int, error) {
	filters := []docstore.Filter{docstore.Where("user_id", userID)}
	if !includePrivate {
		filters = append(filters, docstore.Where("visibility", string(models.DeckVisibilityPublic)))
	}
	snaps, err := r.store.Query(ctx, Collection, filters...)
	if err != nil {
		return nil, 0, err
	}

	all := make([]models.Deck, 0, len(snaps))
	for _, snap := range snaps {
		deck, err := fromSnapshot(snap)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, *deck)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []models.Deck{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func fromSnapshot(snap docstore.Snapshot) (*models.Deck, error) {
	var deck models.Deck
	if err := snap.DataTo(&deck); err != nil {
		return nil, err
	}
	deck.ID = snap.ID
	return &deck, nil
}
