//go:build integration

package firestorestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mcdev12/duelpad/go/internal/docstore"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, clock clockwork.Clock) *Store {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "gcr.io/google.com/cloudsdktool/google-cloud-cli:emulators",
			ExposedPorts: []string{"8080/tcp"},
			Cmd:          []string{"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080"},
			WaitingFor:   wait.ForLog("running").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "8080")
	require.NoError(t, err)
	t.Setenv("FIRESTORE_EMULATOR_HOST", fmt.Sprintf("%s:%s", host, port.Port()))

	s, err := New(ctx, Config{ProjectID: "duelpad-test", Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFirestoreStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(epoch)
	s := newStore(t, clock)

	id, err := s.Add(ctx, "duels", docstore.Fields{"status": "waiting", "timeRemaining": 2700})
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		last docstore.Snapshot
	)
	unsub, err := s.Subscribe(ctx, "duels", id, func(snap docstore.Snapshot) {
		mu.Lock()
		last = snap
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	clock.Advance(time.Minute)
	snap, err := s.Update(ctx, "duels", id, []docstore.Update{docstore.Set("status", "active")}, docstore.WithVersion(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, epoch.Add(time.Minute), snap.UpdatedAt)

	stored, err := s.Get(ctx, "duels", id)
	require.NoError(t, err)
	assert.True(t, epoch.Add(time.Minute).Equal(stored.UpdatedAt))

	_, err = s.Update(ctx, "duels", id, []docstore.Update{docstore.Set("status", "finished")}, docstore.WithVersion(1))
	assert.ErrorIs(t, err, docstore.ErrConflict)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Version == 2 && last.Data["status"] == "active"
	}, 10*time.Second, 50*time.Millisecond)

	active, err := s.Query(ctx, "duels", docstore.Where("status", "active"))
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, s.Delete(ctx, "duels", id))
	assert.ErrorIs(t, s.Delete(ctx, "duels", id), docstore.ErrNotFound)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !last.Exists
	}, 10*time.Second, 50*time.Millisecond)
}
