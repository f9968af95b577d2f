// Package remote is a docstore.Store that talks to a gateway over HTTP, with
// document subscriptions carried on the gateway's websocket stream.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/clients"
	"github.com/mcdev12/duelpad/go/internal/apierr"
	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/gateway"
)

type Config struct {
	BaseURL string
	Token   string // optional bearer token
	Timeout time.Duration
	// ReconnectWait grows linearly per failed attempt up to MaxReconnectWait.
	ReconnectWait    time.Duration
	MaxReconnectWait time.Duration
	HandshakeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:          15 * time.Second,
		ReconnectWait:    time.Second,
		MaxReconnectWait: 15 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// stream is one websocket shared by every subscriber of a document.
type stream struct {
	refs   int
	last   *docstore.Snapshot
	cancel context.CancelFunc
}

// Store implements docstore.Store.
type Store struct {
	http   *clients.BaseClient
	dialer *websocket.Dialer
	wsURL  string
	header http.Header
	clock  clockwork.Clock
	cfg    Config

	mu      sync.Mutex
	streams map[string]*stream
	fanout  *docstore.Fanout
	closed  bool
	wg      sync.WaitGroup
}

var _ docstore.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	return NewWithClock(cfg, clockwork.NewRealClock())
}

func NewWithClock(cfg Config, clock clockwork.Clock) (*Store, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	ws := *base
	switch base.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("gateway url must be http or https, got %q", cfg.BaseURL)
	}
	ws.Path += "/ws/docs"

	hc := clients.NewBaseClient(base.String())
	hc.SetHeader("accept", "application/json")
	if cfg.Timeout > 0 {
		hc.SetTimeout(cfg.Timeout)
	}
	header := http.Header{}
	if cfg.Token != "" {
		hc.SetHeader("Authorization", "Bearer "+cfg.Token)
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	return &Store{
		http:    hc,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		wsURL:   ws.String(),
		header:  header,
		clock:   clock,
		cfg:     cfg,
		streams: make(map[string]*stream),
		fanout:  docstore.NewFanout(),
	}, nil
}

func docPath(collection, id string) string {
	return "/api/docs/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	var snap docstore.Snapshot
	if err := s.http.GetJSON(ctx, docPath(collection, id), &snap); err != nil {
		return docstore.Snapshot{Collection: collection, ID: id}, translate(err, collection, id)
	}
	return normalize(snap)
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Fields) (string, error) {
	var res gateway.AddResponse
	err := s.http.SendJSON(ctx, http.MethodPost, "/api/docs/"+url.PathEscape(collection), gateway.AddRequest{Data: data}, &res, nil)
	if err != nil {
		return "", translate(err, collection, "")
	}
	return res.ID, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, updates []docstore.Update, opts ...docstore.UpdateOption) (docstore.Snapshot, error) {
	o := docstore.ApplyOptions(opts)
	req := gateway.PatchRequest{Updates: updates}
	if o.HasExpected {
		v := o.ExpectedVersion
		req.ExpectedVersion = &v
	}

	var snap docstore.Snapshot
	if err := s.http.SendJSON(ctx, http.MethodPatch, docPath(collection, id), req, &snap, nil); err != nil {
		return docstore.Snapshot{}, translate(err, collection, id)
	}
	return normalize(snap)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.http.Delete(ctx, docPath(collection, id)); err != nil {
		return translate(err, collection, id)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	var res gateway.QueryResponse
	err := s.http.SendJSON(ctx, http.MethodPost, "/api/query/"+url.PathEscape(collection), gateway.QueryRequest{Filters: filters}, &res, nil)
	if err != nil {
		return nil, translate(err, collection, "")
	}
	out := make([]docstore.Snapshot, 0, len(res.Snapshots))
	for _, snap := range res.Snapshots {
		n, err := normalize(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Subscribe shares one websocket per document. The first subscriber dials
// synchronously so that a rejected stream is reported to the caller.
func (s *Store) Subscribe(ctx context.Context, collection, id string, fn docstore.SnapshotFunc) (func(), error) {
	key := docstore.Key(collection, id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("remote store is closed")
	}
	st, ok := s.streams[key]
	if ok {
		st.refs++
		last := st.last
		s.mu.Unlock()

		cancel, _ := s.fanout.Add(key, fn)
		if last != nil {
			s.fanout.Publish(key, *last)
		}
		return docstore.BindContext(ctx, s.releaser(key, cancel)), nil
	}
	streamCtx, stop := context.WithCancel(context.Background())
	st = &stream{refs: 1, cancel: stop}
	s.streams[key] = st
	s.mu.Unlock()

	cancel, _ := s.fanout.Add(key, fn)
	conn, err := s.dial(ctx, collection, id)
	if err != nil {
		s.releaser(key, cancel)()
		if streamCtx.Err() == nil {
			// another subscriber joined while dialing; keep retrying for it
			s.wg.Add(1)
			go s.run(streamCtx, key, collection, id, nil)
		}
		return nil, err
	}

	s.wg.Add(1)
	go s.run(streamCtx, key, collection, id, conn)

	return docstore.BindContext(ctx, s.releaser(key, cancel)), nil
}

func (s *Store) releaser(key string, cancel func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			defer s.mu.Unlock()
			st, ok := s.streams[key]
			if !ok {
				return
			}
			st.refs--
			if st.refs > 0 {
				return
			}
			delete(s.streams, key)
			st.cancel()
		})
	}
}

func (s *Store) dial(ctx context.Context, collection, id string) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("id", id)

	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL+"?"+q.Encode(), s.header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusNotFound:
				return nil, fmt.Errorf("stream %s/%s: %w", collection, id, docstore.ErrNotFound)
			case http.StatusBadRequest:
				return nil, fmt.Errorf("stream %s/%s rejected: %w", collection, id, err)
			}
		}
		return nil, fmt.Errorf("failed to dial stream %s/%s: %w", collection, id, err)
	}
	return conn, nil
}

// run reads frames until the stream is released, redialing on failure. A
// fresh connection starts with the current snapshot, so nothing is lost
// across a reconnect.
func (s *Store) run(ctx context.Context, key, collection, id string, conn *websocket.Conn) {
	defer s.wg.Done()

	if conn == nil {
		if conn = s.redial(ctx, collection, id); conn == nil {
			return
		}
	}
	for {
		err := s.pump(ctx, key, conn)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("key", key).Msg("document stream dropped, reconnecting")

		conn = s.redial(ctx, collection, id)
		if conn == nil {
			return
		}
	}
}

func (s *Store) redial(ctx context.Context, collection, id string) *websocket.Conn {
	for attempt := 1; ; attempt++ {
		wait := s.cfg.ReconnectWait * time.Duration(attempt)
		if s.cfg.MaxReconnectWait > 0 && wait > s.cfg.MaxReconnectWait {
			wait = s.cfg.MaxReconnectWait
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}

		conn, err := s.dial(ctx, collection, id)
		if err == nil {
			log.Info().Str("collection", collection).Str("id", id).Int("attempt", attempt).Msg("document stream reconnected")
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("failed to reconnect document stream")
	}
}

func (s *Store) pump(ctx context.Context, key string, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		var msg gateway.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case gateway.MessageSnapshot:
			if msg.Snapshot == nil {
				continue
			}
			snap, err := normalize(*msg.Snapshot)
			if err != nil {
				log.Error().Err(err).Str("key", key).Msg("dropping undecodable snapshot")
				continue
			}
			s.mu.Lock()
			if st, ok := s.streams[key]; ok {
				st.last = &snap
			}
			s.mu.Unlock()
			s.fanout.Publish(key, snap)
		case gateway.MessageError:
			if msg.Error != nil {
				return msg.Error
			}
			return errors.New("stream error")
		}
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	for key, st := range s.streams {
		st.cancel()
		delete(s.streams, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.fanout.Close()
	return nil
}

// normalize gives remote reads the same number types as local backends.
func normalize(snap docstore.Snapshot) (docstore.Snapshot, error) {
	if !snap.Exists {
		snap.Data = nil
		return snap, nil
	}
	data, err := docstore.NormalizeFields(snap.Data)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	snap.Data = data
	return snap, nil
}

func translate(err error, collection, id string) error {
	apiErr, ok := apierr.Decode(err)
	if !ok {
		return err
	}
	switch apiErr.Code {
	case apierr.CodeNotFound:
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	case apierr.CodeConflict:
		return fmt.Errorf("%s/%s: %s: %w", collection, id, apiErr.Message, docstore.ErrConflict)
	default:
		return apiErr
	}
}
