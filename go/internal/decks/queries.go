package decks

import (
	"context"
	"database/sql"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the decks statements.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type deckRow struct {
	ID             string
	UserID         string
	Username       string
	Name           string
	Description    string
	Visibility     string
	Color          string
	Tags           pqtype.NullRawMessage
	Format         string
	MainDeck       pqtype.NullRawMessage
	ExtraDeck      pqtype.NullRawMessage
	SideDeck       pqtype.NullRawMessage
	CurrentVersion int32
	Versions       pqtype.NullRawMessage
	Stats          pqtype.NullRawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const deckColumns = `
  id, user_id, username, name, description, visibility, color, tags, format,
  main_deck, extra_deck, side_deck, current_version, versions, stats, created_at, updated_at
`

const insertDeck = `
INSERT INTO decks (` + deckColumns + `) VALUES (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
)`

func (q *Queries) InsertDeck(ctx context.Context, arg deckRow) error {
	_, err := q.db.ExecContext(ctx, insertDeck,
		arg.ID, arg.UserID, arg.Username, arg.Name, arg.Description, arg.Visibility, arg.Color, arg.Tags, arg.Format,
		arg.MainDeck, arg.ExtraDeck, arg.SideDeck, arg.CurrentVersion, arg.Versions, arg.Stats, arg.CreatedAt, arg.UpdatedAt,
	)
	return err
}

const getDeck = `SELECT ` + deckColumns + ` FROM decks WHERE id = $1`

func (q *Queries) GetDeck(ctx context.Context, id string) (deckRow, error) {
	return scanDeck(q.db.QueryRowContext(ctx, getDeck, id))
}

const getDeckForUpdate = getDeck + ` FOR UPDATE`

func (q *Queries) GetDeckForUpdate(ctx context.Context, id string) (deckRow, error) {
	return scanDeck(q.db.QueryRowContext(ctx, getDeckForUpdate, id))
}

const updateDeck = `
UPDATE decks SET
  username = $2, name = $3, description = $4, visibility = $5, color = $6, tags = $7, format = $8,
  main_deck = $9, extra_deck = $10, side_deck = $11, current_version = $12, versions = $13, stats = $14,
  updated_at = $15
WHERE id = $1
RETURNING ` + deckColumns

func (q *Queries) UpdateDeck(ctx context.Context, arg deckRow) (deckRow, error) {
	return scanDeck(q.db.QueryRowContext(ctx, updateDeck,
		arg.ID, arg.Username, arg.Name, arg.Description, arg.Visibility, arg.Color, arg.Tags, arg.Format,
		arg.MainDeck, arg.ExtraDeck, arg.SideDeck, arg.CurrentVersion, arg.Versions, arg.Stats, arg.UpdatedAt,
	))
}

const deleteDeck = `DELETE FROM decks WHERE id = $1`

func (q *Queries) DeleteDeck(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteDeck, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listDecksByUser = `
SELECT ` + deckColumns + `
FROM decks
WHERE user_id = $1 AND ($2 OR visibility = 'public')
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

func (q *Queries) ListDecksByUser(ctx context.Context, userID string, includePrivate bool, limit, offset int32) ([]deckRow, error) {
	rows, err := q.db.QueryContext(ctx, listDecksByUser, userID, includePrivate, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []deckRow
	for rows.Next() {
		i, err := scanDeck(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countDecksByUser = `SELECT count(*) FROM decks WHERE user_id = $1 AND ($2 OR visibility = 'public')`

func (q *Queries) CountDecksByUser(ctx context.Context, userID string, includePrivate bool) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countDecksByUser, userID, includePrivate).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeck(s scanner) (deckRow, error) {
	var i deckRow
	err := s.Scan(
		&i.ID, &i.UserID, &i.Username, &i.Name, &i.Description, &i.Visibility, &i.Color, &i.Tags, &i.Format,
		&i.MainDeck, &i.ExtraDeck, &i.SideDeck, &i.CurrentVersion, &i.Versions, &i.Stats, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}
