package firestorestore

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/duelpad/go/internal/docstore"
)

func TestPackUnpack(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	body := docstore.Fields{
		"status":            "active",
		"player1LifePoints": int64(4000),
		"duelResults":       map[string]any{"1": map[string]any{"winner": int64(2)}},
	}

	stored := pack(body, 7, at)
	assert.Equal(t, int64(7), stored[versionField])
	assert.Equal(t, at, stored[updatedAtField])

	data, version, updatedAt, err := unpack(stored)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), version)
	assert.Equal(t, at, updatedAt)
	assert.Equal(t, body, data)
	assert.NotContains(t, data, versionField)
}

func TestUnpackRejectsBadVersion(t *testing.T) {
	_, _, _, err := unpack(map[string]any{versionField: "seven"})
	assert.Error(t, err)
}

func TestStampsComeFromClock(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	clock := clockwork.NewFakeClockAt(at)
	s := &Store{clock: clock}

	assert.Equal(t, at.UTC(), s.now())
	clock.Advance(time.Minute)
	_, _, updatedAt, err := unpack(pack(docstore.Fields{}, 2, s.now()))
	require.NoError(t, err)
	assert.Equal(t, at.Add(time.Minute).UTC(), updatedAt)
}
