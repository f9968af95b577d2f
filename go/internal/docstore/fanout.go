package docstore

import (
	"context"
	"sort"
	"sync"
)

// Fanout delivers snapshots to per-document subscribers. Each subscriber has
// its own goroutine and a single pending slot, so a slow callback only ever
// sees the newest snapshot and never blocks the publisher.
type Fanout struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	fn SnapshotFunc

	mu         sync.Mutex
	pending    *Snapshot
	delivered  bool
	last       uint64
	lastExists bool

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewFanout creates an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[string]map[uint64]*subscriber)}
}

// Add registers fn for key and returns a cancel func. The bool reports
// whether this is the first subscriber for key.
func (f *Fanout) Add(key string, fn SnapshotFunc) (cancel func(), first bool) {
	s := &subscriber{
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return func() {}, false
	}
	f.nextID++
	id := f.nextID
	if f.subs[key] == nil {
		f.subs[key] = make(map[uint64]*subscriber)
		first = true
	}
	f.subs[key][id] = s
	f.mu.Unlock()

	go s.run()

	return func() {
		f.mu.Lock()
		if subs, ok := f.subs[key]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(f.subs, key)
			}
		}
		f.mu.Unlock()
		s.stop()
	}, first
}

// Publish hands snap to every subscriber of key.
func (f *Fanout) Publish(key string, snap Snapshot) {
	f.mu.Lock()
	targets := make([]*subscriber, 0, len(f.subs[key]))
	for _, s := range f.subs[key] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.offer(snap)
	}
}

// Has reports whether key has at least one subscriber.
func (f *Fanout) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[key]) > 0
}

// Keys returns the subscribed keys in sorted order.
func (f *Fanout) Keys() []string {
	f.mu.Lock()
	keys := make([]string, 0, len(f.subs))
	for k := range f.subs {
		keys = append(keys, k)
	}
	f.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Close stops every subscriber.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	all := f.subs
	f.subs = make(map[string]map[uint64]*subscriber)
	f.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			s.stop()
		}
	}
}

func (s *subscriber) offer(snap Snapshot) {
	s.mu.Lock()
	if s.pending != nil && snap.Exists && s.pending.Exists && snap.Version < s.pending.Version {
		s.mu.Unlock()
		return
	}
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		snap := s.pending
		s.pending = nil
		if snap == nil {
			s.mu.Unlock()
			continue
		}
		if s.delivered && s.stale(*snap) {
			s.mu.Unlock()
			continue
		}
		s.delivered = true
		s.lastExists = snap.Exists
		if snap.Exists {
			s.last = snap.Version
		}
		s.mu.Unlock()

		select {
		case <-s.done:
			return
		default:
		}
		s.fn(*snap)
	}
}

// stale reports whether snap adds nothing over what was last delivered.
func (s *subscriber) stale(snap Snapshot) bool {
	if !snap.Exists {
		return !s.lastExists
	}
	return s.lastExists && snap.Version <= s.last
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// BindContext returns an idempotent cancel func that also runs when ctx ends.
func BindContext(ctx context.Context, cancel func()) func() {
	var once sync.Once
	stop := make(chan struct{})
	unsub := func() {
		once.Do(func() {
			close(stop)
			cancel()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsub()
		case <-stop:
		}
	}()
	return unsub
}
