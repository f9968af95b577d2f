//go:build integration

package decks

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/duelpad/go/internal/migrations"
	"github.com/mcdev12/duelpad/go/internal/models"
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

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	app := NewApp(NewSQLRepository(db), clock)

	deck, err := app.Create(ctx, yugi, CreateDeckRequest{Name: "Magicians", Main: []models.Card{darkMagician}})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = app.Create(ctx, yugi, CreateDeckRequest{Name: "Public", Visibility: models.DeckVisibilityPublic})
	require.NoError(t, err)

	clock.Advance(time.Second)
	updated, err := app.Update(ctx, yugi, deck.ID, UpdateDeckRequest{Main: []models.Card{darkMagician, mirrorForce}})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentVersion)
	assert.Len(t, updated.Versions, 2)
	assert.Equal(t, 1, updated.Stats.TrapCount)
	assert.Equal(t, []string{}, updated.Tags)

	page, err := app.ListForUser(ctx, yugi.UID, yugi.UID, ListOptions{IncludePrivate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, []string{"Public", "Magicians"}, names(page.Items))

	page, err = app.ListForUser(ctx, kaiba.UID, yugi.UID, ListOptions{IncludePrivate: true})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	require.NoError(t, app.Delete(ctx, yugi, deck.ID))
	_, err = app.Get(ctx, yugi.UID, deck.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
