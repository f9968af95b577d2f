package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mcdev12/duelpad/go/internal/models"
	"github.com/mcdev12/duelpad/go/internal/sqlutil"
)

// Archive is where the relay stores completed matches.
type Archive interface {
	Insert(ctx context.Context, h models.MatchHistory) (bool, error)
}

// SQLRepository stores match history rows in Postgres.
type SQLRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{
		db:      db,
		queries: NewQueries(db),
	}
}

// Insert stores h. It reports false when the match was already archived.
func (r *SQLRepository) Insert(ctx context.Context, h models.MatchHistory) (bool, error) {
	row, err := toRow(h)
	if err != nil {
		return false, err
	}

	var inserted bool
	err = sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *Queries) error {
		n, err := q.InsertMatchHistory(ctx, row)
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert match history %s: %w", h.MatchID, err)
	}
	return inserted, nil
}

// Get loads the archived record of one match.
func (r *SQLRepository) Get(ctx context.Context, matchID string) (models.MatchHistory, error) {
	row, err := r.queries.GetMatchHistory(ctx, matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MatchHistory{}, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return models.MatchHistory{}, fmt.Errorf("failed to get match history %s: %w", matchID, err)
	}
	return fromRow(row)
}

// ListForPlayer pages through a player's matches, newest first.
func (r *SQLRepository) ListForPlayer(ctx context.Context, playerID string, limit, offset int) ([]models.MatchHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.queries.ListMatchHistoryForPlayer(ctx, playerID, int32(limit), int32(offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list match history for %s: %w", playerID, err)
	}
	out := make([]models.MatchHistory, 0, len(rows))
	for _, row := range rows {
		h, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func toRow(h models.MatchHistory) (matchHistoryRow, error) {
	d1, err := sqlutil.ToNullJSON(h.Player1Deck)
	if err != nil {
		return matchHistoryRow{}, err
	}
	d2, err := sqlutil.ToNullJSON(h.Player2Deck)
	if err != nil {
		return matchHistoryRow{}, err
	}
	results := h.DuelResults
	if results == nil {
		results = map[string]models.DuelResult{}
	}
	dr, err := sqlutil.ToNullJSON(results)
	if err != nil {
		return matchHistoryRow{}, err
	}
	return matchHistoryRow{
		MatchID:        h.MatchID,
		Player1ID:      h.Player1ID,
		Player1Name:    h.Player1Name,
		Player1IsGuest: h.Player1IsGuest,
		Player1Score:   int32(h.Player1Score),
		Player1Deck:    d1,
		Player2ID:      h.Player2ID,
		Player2Name:    h.Player2Name,
		Player2IsGuest: h.Player2IsGuest,
		Player2Score:   int32(h.Player2Score),
		Player2Deck:    d2,
		Winner:         h.Winner,
		DuelResults:    dr,
		CreatedAt:      h.CreatedAt,
	}, nil
}

func fromRow(row matchHistoryRow) (models.MatchHistory, error) {
	h := models.MatchHistory{
		ID:             row.MatchID,
		MatchID:        row.MatchID,
		Player1ID:      row.Player1ID,
		Player1Name:    row.Player1Name,
		Player1IsGuest: row.Player1IsGuest,
		Player1Score:   int(row.Player1Score),
		Player2ID:      row.Player2ID,
		Player2Name:    row.Player2Name,
		Player2IsGuest: row.Player2IsGuest,
		Player2Score:   int(row.Player2Score),
		Winner:         row.Winner,
		CreatedAt:      row.CreatedAt,
		Relayed:        true,
	}
	if err := sqlutil.FromNullJSON(row.Player1Deck, &h.Player1Deck, "player1_deck"); err != nil {
		return models.MatchHistory{}, err
	}
	if err := sqlutil.FromNullJSON(row.Player2Deck, &h.Player2Deck, "player2_deck"); err != nil {
		return models.MatchHistory{}, err
	}
	if err := sqlutil.FromNullJSON(row.DuelResults, &h.DuelResults, "duel_results"); err != nil {
		return models.MatchHistory{}, err
	}
	return h, nil
}
