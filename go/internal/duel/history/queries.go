package history

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

// Queries holds the match_history statements.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type matchHistoryRow struct {
	MatchID        string
	Player1ID      string
	Player1Name    string
	Player1IsGuest bool
	Player1Score   int32
	Player1Deck    pqtype.NullRawMessage
	Player2ID      string
	Player2Name    string
	Player2IsGuest bool
	Player2Score   int32
	Player2Deck    pqtype.NullRawMessage
	Winner         string
	DuelResults    pqtype.NullRawMessage
	CreatedAt      time.Time
}

const insertMatchHistory = `
INSERT INTO match_history (
  match_id, player1_id, player1_name, player1_is_guest, player1_score, player1_deck,
  player2_id, player2_name, player2_is_guest, player2_score, player2_deck,
  winner, duel_results, created_at
) VALUES (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
)
ON CONFLICT (match_id) DO NOTHING
`

func (q *Queries) InsertMatchHistory(ctx context.Context, arg matchHistoryRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertMatchHistory,
		arg.MatchID, arg.Player1ID, arg.Player1Name, arg.Player1IsGuest, arg.Player1Score, arg.Player1Deck,
		arg.Player2ID, arg.Player2Name, arg.Player2IsGuest, arg.Player2Score, arg.Player2Deck,
		arg.Winner, arg.DuelResults, arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const matchHistoryColumns = `
  match_id, player1_id, player1_name, player1_is_guest, player1_score, player1_deck,
  player2_id, player2_name, player2_is_guest, player2_score, player2_deck,
  winner, duel_results, created_at
`

const getMatchHistory = `SELECT ` + matchHistoryColumns + ` FROM match_history WHERE match_id = $1`

func (q *Queries) GetMatchHistory(ctx context.Context, matchID string) (matchHistoryRow, error) {
	return scanMatchHistory(q.db.QueryRowContext(ctx, getMatchHistory, matchID))
}

const listMatchHistoryForPlayer = `SELECT ` + matchHistoryColumns + ` FROM match_history
WHERE player1_id = $1 OR player2_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

func (q *Queries) ListMatchHistoryForPlayer(ctx context.Context, playerID string, limit, offset int32) ([]matchHistoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listMatchHistoryForPlayer, playerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []matchHistoryRow
	for rows.Next() {
		i, err := scanMatchHistory(rows)
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

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMatchHistory(row scanner) (matchHistoryRow, error) {
	var i matchHistoryRow
	err := row.Scan(
		&i.MatchID, &i.Player1ID, &i.Player1Name, &i.Player1IsGuest, &i.Player1Score, &i.Player1Deck,
		&i.Player2ID, &i.Player2Name, &i.Player2IsGuest, &i.Player2Score, &i.Player2Deck,
		&i.Winner, &i.DuelResults, &i.CreatedAt,
	)
	return i, err
}
