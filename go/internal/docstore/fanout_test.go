package docstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutCoalescesForSlowSubscribers(t *testing.T) {
	f := NewFanout()
	defer f.Close()

	release := make(chan struct{})
	rec := &recorder{}
	cancel, first := f.Add("duels/a", func(s Snapshot) {
		if s.Version == 1 {
			<-release
		}
		rec.record(s)
	})
	defer cancel()
	assert.True(t, first)

	f.Publish("duels/a", Snapshot{ID: "a", Exists: true, Version: 1})
	require.Eventually(t, func() bool { return f.Has("duels/a") }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	for v := uint64(2); v <= 10; v++ {
		f.Publish("duels/a", Snapshot{ID: "a", Exists: true, Version: v})
	}
	close(release)

	require.Eventually(t, func() bool {
		s, ok := rec.last()
		return ok && s.Version == 10
	}, time.Second, 5*time.Millisecond)
	assert.Less(t, len(rec.all()), 10)
}

func TestFanoutDropsOlderVersions(t *testing.T) {
	f := NewFanout()
	defer f.Close()

	rec := &recorder{}
	cancel, _ := f.Add("k", rec.record)
	defer cancel()

	f.Publish("k", Snapshot{Exists: true, Version: 3})
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)

	f.Publish("k", Snapshot{Exists: true, Version: 2})
	f.Publish("k", Snapshot{Exists: true, Version: 3})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.all(), 1)

	f.Publish("k", Snapshot{Exists: false})
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, time.Millisecond)
	f.Publish("k", Snapshot{Exists: false})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.all(), 2, "repeated missing snapshots are delivered once")
}

func TestFanoutKeysAndCancel(t *testing.T) {
	f := NewFanout()
	defer f.Close()

	c1, first1 := f.Add("b", func(Snapshot) {})
	c2, first2 := f.Add("b", func(Snapshot) {})
	c3, _ := f.Add("a", func(Snapshot) {})
	assert.True(t, first1)
	assert.False(t, first2)
	assert.Equal(t, []string{"a", "b"}, f.Keys())

	c1()
	assert.True(t, f.Has("b"))
	c2()
	assert.False(t, f.Has("b"))
	c3()
	assert.Empty(t, f.Keys())
}

func TestBindContext(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	unsub := BindContext(ctx, func() { calls.Add(1) })

	cancel()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	unsub()
	assert.Equal(t, int32(1), calls.Load())
}
