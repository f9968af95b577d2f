package docstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *recorder) last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStoreWithClock(clock)
	defer store.Close()

	id, err := store.Add(ctx, "duels", Fields{"status": "waiting", "player1Name": "Yugi"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := store.Get(ctx, "duels", id)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "waiting", snap.Data["status"])
	assert.Equal(t, clock.Now(), snap.UpdatedAt)

	clock.Advance(time.Minute)
	updated, err := store.Update(ctx, "duels", id, []Update{Set("status", "active")})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Version)
	assert.Equal(t, "active", updated.Data["status"])
	assert.Equal(t, "Yugi", updated.Data["player1Name"])
	assert.Equal(t, clock.Now(), updated.UpdatedAt)

	require.NoError(t, store.Delete(ctx, "duels", id))
	_, err = store.Get(ctx, "duels", id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Update(ctx, "duels", id, []Update{Set("status", "x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "duels", id), ErrNotFound)
}

func TestMemoryStoreVersionPrecondition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	id, err := store.Add(ctx, "duels", Fields{"player2Seat": ""})
	require.NoError(t, err)

	_, err = store.Update(ctx, "duels", id, []Update{Set("player2Seat", "a")}, WithVersion(1))
	require.NoError(t, err)

	_, err = store.Update(ctx, "duels", id, []Update{Set("player2Seat", "b")}, WithVersion(1))
	assert.ErrorIs(t, err, ErrConflict)

	snap, err := store.Get(ctx, "duels", id)
	require.NoError(t, err)
	assert.Equal(t, "a", snap.Data["player2Seat"])
}

func TestMemoryStoreConcurrentConditionalWritesHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	id, err := store.Add(ctx, "duels", Fields{"player2Seat": ""})
	require.NoError(t, err)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, "duels", id, []Update{Set("player2Seat", i)}, WithVersion(1))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	_, err := store.Add(ctx, "duels", Fields{"status": "waiting"})
	require.NoError(t, err)
	_, err = store.Add(ctx, "duels", Fields{"status": "active"})
	require.NoError(t, err)
	_, err = store.Add(ctx, "matchHistory", Fields{"status": "waiting"})
	require.NoError(t, err)

	waiting, err := store.Query(ctx, "duels", Where("status", "waiting"))
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "duels", waiting[0].Collection)

	all, err := store.Query(ctx, "duels")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	id, err := store.Add(ctx, "duels", Fields{"currentDuel": 1})
	require.NoError(t, err)

	rec := &recorder{}
	unsubscribe, err := store.Subscribe(ctx, "duels", id, rec.record)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, ok := rec.last()
		return ok && s.Version == 1
	}, time.Second, 5*time.Millisecond, "current snapshot is delivered first")

	for i := 2; i <= 5; i++ {
		_, err := store.Update(ctx, "duels", id, []Update{Set("currentDuel", i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		s, ok := rec.last()
		return ok && s.Version == 5
	}, time.Second, 5*time.Millisecond)

	var prev uint64
	for _, s := range rec.all() {
		assert.GreaterOrEqual(t, s.Version, prev, "versions never go backwards")
		prev = s.Version
	}

	require.NoError(t, store.Delete(ctx, "duels", id))
	require.Eventually(t, func() bool {
		s, ok := rec.last()
		return ok && !s.Exists
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
}

func TestMemoryStoreSubscribeMissingDocument(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	rec := &recorder{}
	unsubscribe, err := store.Subscribe(context.Background(), "duels", "nope", rec.record)
	require.NoError(t, err)
	defer unsubscribe()

	require.Eventually(t, func() bool {
		s, ok := rec.last()
		return ok && !s.Exists
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStoreSubscribeStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	defer store.Close()

	id, err := store.Add(context.Background(), "duels", Fields{"n": 0})
	require.NoError(t, err)

	rec := &recorder{}
	_, err = store.Subscribe(ctx, "duels", id, rec.record)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !store.fanout.Has(Key("duels", id)) }, time.Second, 5*time.Millisecond)

	_, err = store.Update(context.Background(), "duels", id, []Update{Set("n", 1)})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}
