// Package pgstore is a docstore.Store on Postgres JSONB rows. Changes are
// announced with NOTIFY and picked up through a lib/pq listener; a fallback
// poll covers notifications lost while the listener reconnects.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/docstore"
)

type Config struct {
	DatabaseURL      string        // Postgres DSN for both the pool and LISTEN
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often subscribed documents are re-read
	PingInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel:    "docstore_changes",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// Store implements docstore.Store.
type Store struct {
	pool     *pgxpool.Pool
	listener *pq.Listener
	fanout   *docstore.Fanout
	cfg      Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to Postgres and starts listening for change notifications.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:     pool,
		listener: l,
		fanout:   docstore.NewFanout(),
		cfg:      cfg,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.listen(loopCtx)

	log.Info().Str("channel", cfg.NotifyChannel).Msg("postgres document store ready")
	return s, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	return s.get(ctx, s.pool, collection, id)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) get(ctx context.Context, q querier, collection, id string) (docstore.Snapshot, error) {
	var (
		version   int64
		raw       []byte
		updatedAt time.Time
	)
	err := q.QueryRow(ctx,
		`SELECT version, data, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&version, &raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Snapshot{Collection: collection, ID: id}, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	return snapshot(collection, id, version, raw, updatedAt)
}

func snapshot(collection, id string, version int64, raw []byte, updatedAt time.Time) (docstore.Snapshot, error) {
	data, err := docstore.DecodeFields(raw)
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return docstore.Snapshot{
		Collection: collection,
		ID:         id,
		Exists:     true,
		Version:    uint64(version),
		Data:       data,
		UpdatedAt:  updatedAt,
	}, nil
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Fields) (string, error) {
	body, err := docstore.NormalizeFields(data)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	id := uuid.NewString()

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, version, data, updated_at) VALUES ($1, $2, 1, $3, now())`,
			collection, id, raw,
		); err != nil {
			return err
		}
		return s.notify(ctx, tx, collection, id)
	})
	if err != nil {
		return "", fmt.Errorf("failed to add document to %s: %w", collection, err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, updates []docstore.Update, opts ...docstore.UpdateOption) (docstore.Snapshot, error) {
	o := docstore.ApplyOptions(opts)

	var out docstore.Snapshot
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			version int64
			raw     []byte
		)
		err := tx.QueryRow(ctx,
			`SELECT version, data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			collection, id,
		).Scan(&version, &raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if o.HasExpected && uint64(version) != o.ExpectedVersion {
			return fmt.Errorf("%s/%s at version %d, expected %d: %w",
				collection, id, version, o.ExpectedVersion, docstore.ErrConflict)
		}

		current, err := docstore.DecodeFields(raw)
		if err != nil {
			return err
		}
		next, err := docstore.ApplyUpdates(current, updates)
		if err != nil {
			return err
		}
		nextRaw, err := json.Marshal(next)
		if err != nil {
			return err
		}

		var updatedAt time.Time
		if err := tx.QueryRow(ctx,
			`UPDATE documents SET data = $3, version = version + 1, updated_at = now()
			 WHERE collection = $1 AND id = $2
			 RETURNING version, updated_at`,
			collection, id, nextRaw,
		).Scan(&version, &updatedAt); err != nil {
			return err
		}
		out = docstore.Snapshot{
			Collection: collection,
			ID:         id,
			Exists:     true,
			Version:    uint64(version),
			Data:       next,
			UpdatedAt:  updatedAt,
		}
		return s.notify(ctx, tx, collection, id)
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
	var deleted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		if deleted == 0 {
			return nil
		}
		return s.notify(ctx, tx, collection, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if deleted == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	contains := map[string]any{}
	for _, f := range filters {
		if f.Value != nil {
			contains[f.Path] = f.Value
		}
	}
	containsRaw, err := json.Marshal(contains)
	if err != nil {
		return nil, fmt.Errorf("marshal query filter: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, version, data, updated_at FROM documents
		 WHERE collection = $1 AND data @> $2::jsonb
		 ORDER BY id`,
		collection, containsRaw,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []docstore.Snapshot
	for rows.Next() {
		var (
			id        string
			version   int64
			raw       []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &version, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		snap, err := snapshot(collection, id, version, raw, updatedAt)
		if err != nil {
			return nil, err
		}
		if docstore.Matches(snap.Data, filters) {
			out = append(out, snap)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, collection, id string, fn docstore.SnapshotFunc) (func(), error) {
	key := docstore.Key(collection, id)
	cancel, _ := s.fanout.Add(key, fn)

	snap, err := s.Get(ctx, collection, id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		cancel()
		return nil, err
	}
	s.fanout.Publish(key, snap)

	return docstore.BindContext(ctx, cancel), nil
}

func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	s.fanout.Close()
	err := s.listener.Close()
	s.pool.Close()
	return err
}

func (s *Store) notify(ctx context.Context, tx pgx.Tx, collection, id string) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.cfg.NotifyChannel, docstore.Key(collection, id))
	return err
}

func (s *Store) listen(ctx context.Context) {
	defer s.wg.Done()

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	fallbackTicker := time.NewTicker(s.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case note := <-s.listener.Notify:
			if note == nil {
				// the connection was re-established; anything may have been missed
				s.refreshAll(ctx)
				continue
			}
			s.refresh(ctx, note.Extra)
		case <-fallbackTicker.C:
			s.refreshAll(ctx)
		case <-pingTicker.C:
			if err := s.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (s *Store) refreshAll(ctx context.Context) {
	for _, key := range s.fanout.Keys() {
		s.refresh(ctx, key)
	}
}

func (s *Store) refresh(ctx context.Context, key string) {
	if !s.fanout.Has(key) {
		return
	}
	collection, id, ok := splitKey(key)
	if !ok {
		log.Warn().Str("payload", key).Msg("ignoring malformed change notification")
		return
	}
	snap, err := s.Get(ctx, collection, id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		log.Error().Err(err).Str("key", key).Msg("failed to reload changed document")
		return
	}
	s.fanout.Publish(key, snap)
}

func splitKey(key string) (collection, id string, ok bool) {
	collection, id, ok = strings.Cut(key, "/")
	return collection, id, ok && collection != "" && id != ""
}
