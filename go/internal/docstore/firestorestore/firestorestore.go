// Package firestorestore is a docstore.Store on Cloud Firestore. Document
// versions live in a hidden field that transactions check and bump.
package firestorestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mcdev12/duelpad/go/internal/docstore"
)

const (
	versionField   = "_version"
	updatedAtField = "_updatedAt"
)

type Config struct {
	// ProjectID is the GCP project. FIRESTORE_EMULATOR_HOST is honoured by the client.
	ProjectID string
	// Clock stamps updatedAt; nil means the real clock.
	Clock clockwork.Clock
}

// Store implements docstore.Store.
type Store struct {
	client *firestore.Client
	fanout *docstore.Fanout
	clock  clockwork.Clock
	subSeq atomic.Uint64
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	log.Info().Str("project_id", cfg.ProjectID).Msg("connected to firestore")
	return &Store{client: client, fanout: docstore.NewFanout(), clock: cfg.Clock}, nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	doc, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return docstore.Snapshot{Collection: collection, ID: id}, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	return toSnapshot(collection, doc)
}

func toSnapshot(collection string, doc *firestore.DocumentSnapshot) (docstore.Snapshot, error) {
	if doc == nil || !doc.Exists() {
		id := ""
		if doc != nil && doc.Ref != nil {
			id = doc.Ref.ID
		}
		return docstore.Snapshot{Collection: collection, ID: id}, nil
	}
	data, version, updatedAt, err := unpack(doc.Data())
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("decode %s/%s: %w", collection, doc.Ref.ID, err)
	}
	return docstore.Snapshot{
		Collection: collection,
		ID:         doc.Ref.ID,
		Exists:     true,
		Version:    version,
		Data:       data,
		UpdatedAt:  updatedAt,
	}, nil
}

// unpack separates the stored body from the bookkeeping fields.
func unpack(raw map[string]any) (docstore.Fields, uint64, time.Time, error) {
	body := make(docstore.Fields, len(raw))
	var (
		version   uint64
		updatedAt time.Time
	)
	for k, v := range raw {
		switch k {
		case versionField:
			n, ok := v.(int64)
			if !ok {
				return nil, 0, time.Time{}, fmt.Errorf("%s is %T", versionField, v)
			}
			version = uint64(n)
		case updatedAtField:
			if t, ok := v.(time.Time); ok {
				updatedAt = t
			}
		default:
			body[k] = v
		}
	}
	data, err := docstore.NormalizeFields(body)
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	return data, version, updatedAt, nil
}

// pack adds the bookkeeping fields to a normalized body.
func pack(data docstore.Fields, version uint64, updatedAt time.Time) map[string]any {
	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	out[versionField] = int64(version)
	out[updatedAtField] = updatedAt
	return out
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Fields) (string, error) {
	body, err := docstore.NormalizeFields(data)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := s.client.Collection(collection).Doc(id).Create(ctx, pack(body, 1, s.now())); err != nil {
		return "", fmt.Errorf("failed to add document to %s: %w", collection, err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, updates []docstore.Update, opts ...docstore.UpdateOption) (docstore.Snapshot, error) {
	o := docstore.ApplyOptions(opts)
	ref := s.client.Collection(collection).Doc(id)

	var out docstore.Snapshot
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		if err != nil {
			return err
		}
		current, err := toSnapshot(collection, doc)
		if err != nil {
			return err
		}
		if o.HasExpected && current.Version != o.ExpectedVersion {
			return fmt.Errorf("%s/%s at version %d, expected %d: %w",
				collection, id, current.Version, o.ExpectedVersion, docstore.ErrConflict)
		}
		next, err := docstore.ApplyUpdates(current.Data, updates)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.Set(ref, pack(next, current.Version+1, now)); err != nil {
			return err
		}
		out = docstore.Snapshot{
			Collection: collection,
			ID:         id,
			Exists:     true,
			Version:    current.Version + 1,
			Data:       next,
			UpdatedAt:  now,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrConflict) {
			return docstore.Snapshot{}, err
		}
		return docstore.Snapshot{}, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		if f.Value != nil {
			q = q.Where(f.Path, "==", f.Value)
		}
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	out := make([]docstore.Snapshot, 0, len(docs))
	for _, doc := range docs {
		snap, err := toSnapshot(collection, doc)
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

// Subscribe runs one snapshot listener per subscription. The first
// listener result is the current state of the document.
func (s *Store) Subscribe(ctx context.Context, collection, id string, fn docstore.SnapshotFunc) (func(), error) {
	key := docstore.Key(collection, id) + "#" + strconv.FormatUint(s.subSeq.Add(1), 10)
	cancelFanout, _ := s.fanout.Add(key, fn)

	listenCtx, stop := context.WithCancel(context.Background())
	iter := s.client.Collection(collection).Doc(id).Snapshots(listenCtx)

	go func() {
		defer iter.Stop()
		for {
			doc, err := iter.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled && listenCtx.Err() == nil {
					log.Error().Err(err).Str("collection", collection).Str("id", id).Msg("snapshot listener failed")
				}
				return
			}
			snap, err := toSnapshot(collection, doc)
			if err != nil {
				log.Error().Err(err).Str("collection", collection).Str("id", id).Msg("failed to decode snapshot")
				continue
			}
			if !snap.Exists {
				snap.ID = id
			}
			s.fanout.Publish(key, snap)
		}
	}()

	return docstore.BindContext(ctx, func() {
		stop()
		cancelFanout()
	}), nil
}

func (s *Store) Close() error {
	s.fanout.Close()
	return s.client.Close()
}
