package decks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/duelpad/go/internal/models"
	"github.com/mcdev12/duelpad/go/internal/sqlutil"
)

// SQLRepository stores decks in the Postgres decks table.
type SQLRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, queries: NewQueries(db)}
}

func (r *SQLRepository) CreateDeck(ctx context.Context, deck models.Deck) (*models.Deck, error) {
	deck.ID = uuid.NewString()
	row, err := toDeckRow(deck)
	if err != nil {
		return nil, err
	}
	if err := r.queries.InsertDeck(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to insert deck: %w", err)
	}
	return &deck, nil
}

func (r *SQLRepository) GetDeck(ctx context.Context, id string) (*models.Deck, error) {
	row, err := r.queries.GetDeck(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deck %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deck %s: %w", id, err)
	}
	return fromDeckRow(row)
}

// UpdateDeck locks the row so a concurrent update cannot interleave its
// version number with this one.
func (r *SQLRepository) UpdateDeck(ctx context.Context, deck models.Deck) (*models.Deck, error) {
	row, err := toDeckRow(deck)
	if err != nil {
		return nil, err
	}

	var updated deckRow
	err = sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *Queries) error {
		current, err := q.GetDeckForUpdate(ctx, deck.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("deck %s: %w", deck.ID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if int(current.CurrentVersion) >= deck.CurrentVersion {
			return fmt.Errorf("deck %s already at version %d: %w", deck.ID, current.CurrentVersion, ErrValidation)
		}
		updated, err = q.UpdateDeck(ctx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromDeckRow(updated)
}

func (r *SQLRepository) DeleteDeck(ctx context.Context, id string) error {
	n, err := r.queries.DeleteDeck(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete deck %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("deck %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLRepository) ListDecksByUser(ctx context.Context, userID string, includePrivate bool, limit, offset int) ([]models.Deck, int, error) {
	total, err := r.queries.CountDecksByUser(ctx, userID, includePrivate)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count decks: %w", err)
	}
	rows, err := r.queries.ListDecksByUser(ctx, userID, includePrivate, int32(limit), int32(offset))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list decks: %w", err)
	}
	out := make([]models.Deck, 0, len(rows))
	for _, row := range rows {
		deck, err := fromDeckRow(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *deck)
	}
	return out, int(total), nil
}

// jsonb encodes a NOT NULL column; nil slices are stored as empty arrays.
func jsonb[T any](v []T) (pqtype.NullRawMessage, error) {
	if v == nil {
		v = []T{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("encode jsonb column: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func toDeckRow(d models.Deck) (deckRow, error) {
	row := deckRow{
		ID:             d.ID,
		UserID:         d.UserID,
		Username:       d.Username,
		Name:           d.Name,
		Description:    d.Description,
		Visibility:     string(d.Visibility),
		Color:          d.Color,
		Format:         d.Format,
		CurrentVersion: int32(d.CurrentVersion),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	var err error
	if row.Tags, err = jsonb(d.Tags); err != nil {
		return deckRow{}, err
	}
	if row.MainDeck, err = jsonb(d.MainDeck); err != nil {
		return deckRow{}, err
	}
	if row.ExtraDeck, err = jsonb(d.ExtraDeck); err != nil {
		return deckRow{}, err
	}
	if row.SideDeck, err = jsonb(d.SideDeck); err != nil {
		return deckRow{}, err
	}
	if row.Versions, err = jsonb(d.Versions); err != nil {
		return deckRow{}, err
	}
	if row.Stats, err = sqlutil.ToNullJSON(d.Stats); err != nil {
		return deckRow{}, err
	}
	return row, nil
}

func fromDeckRow(row deckRow) (*models.Deck, error) {
	d := &models.Deck{
		ID:             row.ID,
		UserID:         row.UserID,
		Username:       row.Username,
		Name:           row.Name,
		Description:    row.Description,
		Visibility:     models.DeckVisibility(row.Visibility),
		Color:          row.Color,
		Format:         row.Format,
		CurrentVersion: int(row.CurrentVersion),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	columns := []struct {
		val  pqtype.NullRawMessage
		dst  any
		name string
	}{
		{row.Tags, &d.Tags, "tags"},
		{row.MainDeck, &d.MainDeck, "main_deck"},
		{row.ExtraDeck, &d.ExtraDeck, "extra_deck"},
		{row.SideDeck, &d.SideDeck, "side_deck"},
		{row.Versions, &d.Versions, "versions"},
		{row.Stats, &d.Stats, "stats"},
	}
	for _, c := range columns {
		if err := sqlutil.FromNullJSON(c.val, c.dst, c.name); err != nil {
			return nil, err
		}
	}
	return d, nil
}
