package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig configures the completed-match stream.
type JetStreamConfig struct {
	URL    string
	Stream string
	// Subjects are <Prefix>.<event type>.<match id>.
	Prefix string
	// Retention bounds how long completed matches stay on the stream.
	Retention time.Duration
	// DedupeWindow must cover the relay's longest retry cycle.
	DedupeWindow time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:          nats.DefaultURL,
		Stream:       "DUEL_HISTORY",
		Prefix:       "duel.history",
		Retention:    90 * 24 * time.Hour,
		DedupeWindow: time.Hour,
	}
}

// JetStreamPublisher announces archived matches on a JetStream stream so
// leaderboards and stats consumers can follow along.
type JetStreamPublisher struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg JetStreamConfig
}

// NewJetStreamPublisher connects and creates or reconciles the stream.
func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("duelpad-history"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("history publisher disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("history publisher reconnected")
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

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Completed duel matches",
		Subjects:    []string{cfg.Prefix + ".>"},
		MaxAge:      cfg.Retention,
		Duplicates:  cfg.DedupeWindow,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	log.Info().Str("stream", stream.CachedInfo().Config.Name).Msg("history stream ready")

	return &JetStreamPublisher{nc: nc, js: js, cfg: cfg}, nil
}

// Subject is where e is published.
func (p *JetStreamPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.%s.%s", p.cfg.Prefix, e.EventType, e.MatchID)
}

// Publish sends e with its id as the message id, so a relay retry after a
// lost ack is dropped by the stream.
func (p *JetStreamPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		MatchID   string          `json:"matchId"`
		CreatedAt time.Time       `json:"createdAt"`
		Payload   json.RawMessage `json:"payload"`
	}{e.ID, e.EventType, e.MatchID, e.CreatedAt.UTC(), e.Payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(e))
	msg.Data = body
	msg.Header.Set("Event-Type", e.EventType)

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(e.ID),
		jetstream.WithExpectStream(p.cfg.Stream),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.ID, err)
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", e.ID).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published history event")
	return nil
}

// Close flushes pending publishes and disconnects.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
