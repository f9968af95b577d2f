//go:build integration

package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/duelpad/go/internal/migrations"
	"github.com/mcdev12/duelpad/go/internal/testutil"
)

func TestSQLRepository(t *testing.T) {
	ctx := context.Background()
	dsn := testutil.Postgres(t)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, migrations.Apply(ctx, pool))

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLRepository(db)

	h := sampleHistory()
	inserted, err := repo.Insert(ctx, h)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, h)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.Get(ctx, h.MatchID)
	require.NoError(t, err)
	assert.Equal(t, h.Winner, got.Winner)
	assert.Equal(t, h.Player1Deck, got.Player1Deck)
	assert.Nil(t, got.Player2Deck)
	assert.Len(t, got.DuelResults, 3)
	assert.True(t, h.CreatedAt.Equal(got.CreatedAt))

	list, err := repo.ListForPlayer(ctx, "uid-2", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, h.MatchID, list[0].MatchID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJetStreamPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := DefaultJetStreamConfig()
	cfg.URL = testutil.NATS(t)
	cfg.Stream = testutil.Unique("DUEL_HISTORY")
	cfg.Prefix = "test." + cfg.Stream

	pub, err := NewJetStreamPublisher(ctx, cfg)
	require.NoError(t, err)
	defer pub.Close()

	event, err := NewMatchCompleted(sampleHistory())
	require.NoError(t, err)
	event.ID = "history-1"
	require.NoError(t, pub.Publish(ctx, event))
	require.NoError(t, pub.Publish(ctx, event))

	nc, err := nats.Connect(cfg.URL)
	require.NoError(t, err)
	defer nc.Close()
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	stream, err := js.Stream(ctx, cfg.Stream)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs, "duplicate message id must be dropped")

	msg, err := stream.GetLastMsgForSubject(ctx, pub.Subject(event))
	require.NoError(t, err)
	assert.Equal(t, EventMatchCompleted, msg.Header.Get("Event-Type"))
	assert.Equal(t, "history-1", msg.Header.Get(jetstream.MsgIDHeader))

	// A second publisher reconciles the existing stream.
	again, err := NewJetStreamPublisher(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
