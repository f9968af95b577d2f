package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type memDoc struct {
	data      Fields
	version   uint64
	updatedAt time.Time
}

// MemoryStore is an in-process Store. It backs tests and single-process runs.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*memDoc
	clock  clockwork.Clock
	fanout *Fanout
}

// NewMemoryStore creates an empty store using the real clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clockwork.NewRealClock())
}

// NewMemoryStoreWithClock creates an empty store that stamps documents with clock.
func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*memDoc),
		clock:  clock,
		fanout: NewFanout(),
	}
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshotLocked(collection, id)
	if !snap.Exists {
		return snap, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return snap, nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, data Fields) (string, error) {
	body, err := NormalizeFields(data)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()

	m.mu.Lock()
	m.docs[Key(collection, id)] = &memDoc{data: body, version: 1, updatedAt: m.clock.Now()}
	snap := m.snapshotLocked(collection, id)
	m.mu.Unlock()

	m.fanout.Publish(Key(collection, id), snap)
	return id, nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, updates []Update, opts ...UpdateOption) (Snapshot, error) {
	o := ApplyOptions(opts)

	m.mu.Lock()
	doc, ok := m.docs[Key(collection, id)]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if o.HasExpected && doc.version != o.ExpectedVersion {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%s/%s at version %d, expected %d: %w",
			collection, id, doc.version, o.ExpectedVersion, ErrConflict)
	}
	next, err := ApplyUpdates(doc.data, updates)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	doc.data = next
	doc.version++
	doc.updatedAt = m.clock.Now()
	snap := m.snapshotLocked(collection, id)
	m.mu.Unlock()

	m.fanout.Publish(Key(collection, id), snap)
	return snap, nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	if _, ok := m.docs[Key(collection, id)]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(m.docs, Key(collection, id))
	m.mu.Unlock()

	m.fanout.Publish(Key(collection, id), Snapshot{Collection: collection, ID: id})
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := collection + "/"
	var out []Snapshot
	for key, doc := range m.docs {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if !Matches(doc.data, filters) {
			continue
		}
		out = append(out, m.snapshotLocked(collection, key[len(prefix):]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection, id string, fn SnapshotFunc) (func(), error) {
	key := Key(collection, id)
	cancel, _ := m.fanout.Add(key, fn)

	m.mu.RLock()
	snap := m.snapshotLocked(collection, id)
	m.mu.RUnlock()
	m.fanout.Publish(key, snap)

	return BindContext(ctx, cancel), nil
}

func (m *MemoryStore) Close() error {
	m.fanout.Close()
	return nil
}

func (m *MemoryStore) snapshotLocked(collection, id string) Snapshot {
	doc, ok := m.docs[Key(collection, id)]
	if !ok {
		return Snapshot{Collection: collection, ID: id}
	}
	data, _ := NormalizeFields(doc.data)
	return Snapshot{
		Collection: collection,
		ID:         id,
		Exists:     true,
		Version:    doc.version,
		Data:       data,
		UpdatedAt:  doc.updatedAt,
	}
}
