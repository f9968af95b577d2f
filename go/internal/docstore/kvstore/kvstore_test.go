package kvstore

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestStampsComeFromClock(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	clock := clockwork.NewFakeClockAt(at)
	s := &Store{clock: clock}

	assert.Equal(t, at.UTC(), s.now())
	assert.Equal(t, time.UTC, s.now().Location())

	clock.Advance(time.Minute)
	assert.Equal(t, at.Add(time.Minute).UTC(), s.now())
}
