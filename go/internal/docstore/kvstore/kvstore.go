// Package kvstore is a docstore.Store on NATS JetStream key-value buckets,
// one bucket per collection. The entry revision is the document version and
// key watchers drive subscriptions.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/docstore"
)

type Config struct {
	URL           string
	BucketPrefix  string
	History       uint8
	Replicas      int
	MaxReconnects int
	ReconnectWait time.Duration
	// WriteAttempts bounds read-modify-write retries for unconditional updates.
	WriteAttempts int
	// Clock stamps UpdatedAt on write results; nil means the real clock.
	Clock clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		BucketPrefix:  "duelpad",
		History:       1,
		Replicas:      1,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		WriteAttempts: 5,
	}
}

type watch struct {
	refs int
	stop context.CancelFunc
}

// Store implements docstore.Store.
type Store struct {
	nc    *nats.Conn
	js    jetstream.JetStream
	cfg   Config
	clock clockwork.Clock

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
	watches map[string]*watch
	fanout  *docstore.Fanout
}

// New connects to NATS. Buckets are created on first use.
func New(ctx context.Context, cfg Config) (*Store, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("duelpad-docstore"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		nc:      nc,
		js:      js,
		cfg:     cfg,
		clock:   clock,
		buckets: make(map[string]jetstream.KeyValue),
		watches: make(map[string]*watch),
		fanout:  docstore.NewFanout(),
	}, nil
}

func (s *Store) bucket(ctx context.Context, collection string) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kv, ok := s.buckets[collection]; ok {
		return kv, nil
	}
	name := s.cfg.BucketPrefix + "_" + collection
	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "duelpad " + collection + " documents",
		History:     s.cfg.History,
		Storage:     jetstream.FileStorage,
		Replicas:    s.cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	s.buckets[collection] = kv
	log.Info().Str("bucket", name).Msg("opened key-value bucket")
	return kv, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	entry, err := kv.Get(ctx, id)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return docstore.Snapshot{Collection: collection, ID: id}, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	return snapshot(collection, entry)
}

func snapshot(collection string, entry jetstream.KeyValueEntry) (docstore.Snapshot, error) {
	if entry.Operation() != jetstream.KeyValuePut {
		return docstore.Snapshot{Collection: collection, ID: entry.Key()}, nil
	}
	data, err := docstore.DecodeFields(entry.Value())
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("decode %s/%s: %w", collection, entry.Key(), err)
	}
	return docstore.Snapshot{
		Collection: collection,
		ID:         entry.Key(),
		Exists:     true,
		Version:    entry.Revision(),
		Data:       data,
		UpdatedAt:  entry.Created(),
	}, nil
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Fields) (string, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return "", err
	}
	body, err := docstore.NormalizeFields(data)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	id := uuid.NewString()
	if _, err := kv.Create(ctx, id, raw); err != nil {
		return "", fmt.Errorf("failed to add document to %s: %w", collection, err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, updates []docstore.Update, opts ...docstore.UpdateOption) (docstore.Snapshot, error) {
	o := docstore.ApplyOptions(opts)
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return docstore.Snapshot{}, err
	}

	attempts := s.cfg.WriteAttempts
	if o.HasExpected || attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		current, err := s.Get(ctx, collection, id)
		if err != nil {
			return docstore.Snapshot{}, err
		}
		if o.HasExpected && current.Version != o.ExpectedVersion {
			return docstore.Snapshot{}, fmt.Errorf("%s/%s at version %d, expected %d: %w",
				collection, id, current.Version, o.ExpectedVersion, docstore.ErrConflict)
		}
		next, err := docstore.ApplyUpdates(current.Data, updates)
		if err != nil {
			return docstore.Snapshot{}, err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return docstore.Snapshot{}, fmt.Errorf("marshal document: %w", err)
		}

		rev, err := kv.Update(ctx, id, raw, current.Version)
		if err == nil {
			return docstore.Snapshot{
				Collection: collection,
				ID:         id,
				Exists:     true,
				Version:    rev,
				Data:       next,
				UpdatedAt:  s.now(),
			}, nil
		}
		if !isWrongRevision(err) {
			return docstore.Snapshot{}, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
		}
		lastErr = fmt.Errorf("%s/%s changed during update: %w", collection, id, docstore.ErrConflict)
	}
	return docstore.Snapshot{}, lastErr
}

func (s *Store) now() time.Time { return s.clock.Now().UTC() }

func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return err
	}
	current, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, id, jetstream.LastRevision(current.Version)); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}
	lister, err := kv.ListKeys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer func() { _ = lister.Stop() }()

	var out []docstore.Snapshot
	for id := range lister.Keys() {
		snap, err := s.Get(ctx, collection, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if docstore.Matches(snap.Data, filters) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, collection, id string, fn docstore.SnapshotFunc) (func(), error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}
	key := docstore.Key(collection, id)
	cancel, _ := s.fanout.Add(key, fn)

	if err := s.retain(kv, collection, id); err != nil {
		cancel()
		return nil, err
	}

	snap, err := s.Get(ctx, collection, id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		cancel()
		s.release(key)
		return nil, err
	}
	s.fanout.Publish(key, snap)

	return docstore.BindContext(ctx, func() {
		cancel()
		s.release(key)
	}), nil
}

// retain starts a key watcher for the document unless one is running.
func (s *Store) retain(kv jetstream.KeyValue, collection, id string) error {
	key := docstore.Key(collection, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watches[key]; ok {
		w.refs++
		return nil
	}

	ctx, stop := context.WithCancel(context.Background())
	watcher, err := kv.Watch(ctx, id, jetstream.UpdatesOnly())
	if err != nil {
		stop()
		return fmt.Errorf("failed to watch %s: %w", key, err)
	}
	s.watches[key] = &watch{refs: 1, stop: stop}

	go func() {
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				snap, err := snapshot(collection, entry)
				if err != nil {
					log.Error().Err(err).Str("key", key).Msg("failed to decode watched document")
					continue
				}
				s.fanout.Publish(key, snap)
			}
		}
	}()
	return nil
}

func (s *Store) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[key]
	if !ok {
		return
	}
	w.refs--
	if w.refs <= 0 {
		w.stop()
		delete(s.watches, key)
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	for key, w := range s.watches {
		w.stop()
		delete(s.watches, key)
	}
	s.mu.Unlock()
	s.fanout.Close()
	s.nc.Close()
	return nil
}
