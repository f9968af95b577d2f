package remote

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/gateway"
)

func newRemote(t *testing.T) (*Store, *docstore.MemoryStore) {
	t.Helper()
	backing := docstore.NewMemoryStore()
	t.Cleanup(func() { _ = backing.Close() })

	svc, err := gateway.NewService(gateway.DefaultConfig(), gateway.Dependencies{Store: backing})
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	store, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, backing
}

type recorder struct {
	mu    sync.Mutex
	snaps []docstore.Snapshot
}

func (r *recorder) record(s docstore.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) versions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.Version)
	}
	return out
}

func TestRemoteCRUD(t *testing.T) {
	store, _ := newRemote(t)
	ctx := context.Background()

	id, err := store.Add(ctx, "duels", docstore.Fields{"status": "waiting", "player1": map[string]any{"lp": 8000}})
	require.NoError(t, err)

	snap, err := store.Get(ctx, "duels", id)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, map[string]any{"lp": int64(8000)}, snap.Data["player1"])

	snap, err = store.Update(ctx, "duels", id, []docstore.Update{docstore.Set("player1.lp", 7000)}, docstore.WithVersion(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)

	_, err = store.Update(ctx, "duels", id, []docstore.Update{docstore.Set("player1.lp", 6000)}, docstore.WithVersion(1))
	assert.ErrorIs(t, err, docstore.ErrConflict)

	found, err := store.Query(ctx, "duels", docstore.Where("status", "waiting"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)

	require.NoError(t, store.Delete(ctx, "duels", id))
	_, err = store.Get(ctx, "duels", id)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "duels", id), docstore.ErrNotFound)
}

func TestRemoteSubscribe(t *testing.T) {
	store, backing := newRemote(t)
	ctx := context.Background()

	id, err := backing.Add(ctx, "duels", docstore.Fields{"status": "waiting"})
	require.NoError(t, err)

	var first recorder
	cancel, err := store.Subscribe(ctx, "duels", id, first.record)
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool { return len(first.versions()) == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = backing.Update(ctx, "duels", id, []docstore.Update{docstore.Set("status", "active")})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v := first.versions()
		return len(v) > 0 && v[len(v)-1] == 2
	}, 5*time.Second, 10*time.Millisecond)

	// a second subscriber shares the stream and still starts from the current snapshot
	var second recorder
	cancel2, err := store.Subscribe(ctx, "duels", id, second.record)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v := second.versions()
		return len(v) == 1 && v[0] == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel2()

	assert.IsNonDecreasing(t, first.versions())
}

func TestRemoteSubscribeUnknownCollection(t *testing.T) {
	store, _ := newRemote(t)

	_, err := store.Subscribe(context.Background(), "secrets", "x", func(docstore.Snapshot) {})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestNewRejectsBadURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "ftp://example.com"
	_, err := New(cfg)
	assert.Error(t, err)
}
