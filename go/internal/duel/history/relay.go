package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/duel"
)

type RelayConfig struct {
	PollInterval time.Duration // How often to look for unrelayed history documents
	BatchSize    int           // Max documents handled per poll
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: 10 * time.Second,
		BatchSize:    100,
		MaxRetries:   5,
		RetryDelay:   200 * time.Millisecond,
	}
}

// Relay moves history documents written by clients into the SQL archive and
// announces them on the event stream.
type Relay struct {
	store     docstore.Store
	archive   Archive
	publisher EventPublisher
	metrics   MetricsCollector
	clock     clockwork.Clock
	cfg       RelayConfig
}

// NewRelay creates a relay. A nil publisher skips event publishing and nil
// metrics records nothing.
func NewRelay(store docstore.Store, archive Archive, publisher EventPublisher, metrics MetricsCollector, clock clockwork.Clock, cfg RelayConfig) *Relay {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Relay{
		store:     store,
		archive:   archive,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		cfg:       cfg,
	}
}

func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("history relay started")

	ticker := r.clock.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessPending(ctx); err != nil {
			log.Error().Err(err).Msg("failed to process pending match history")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("history relay shutting down")
			return nil
		case <-ticker.Chan():
		}
	}
}

// ProcessPending relays one batch and returns how many documents it finished.
func (r *Relay) ProcessPending(ctx context.Context) (int, error) {
	start := r.clock.Now()
	pending, err := r.store.Query(ctx, duel.HistoryCollection, docstore.Where(FieldRelayed, false))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unrelayed match history: %w", err)
	}
	r.metrics.RecordRelayLag(len(pending))
	if len(pending) > r.cfg.BatchSize && r.cfg.BatchSize > 0 {
		pending = pending[:r.cfg.BatchSize]
	}

	done := 0
	for _, snap := range pending {
		if err := r.relay(ctx, snap); err != nil {
			log.Error().Err(err).Str("history_id", snap.ID).Msg("failed to relay match history")
			continue
		}
		done++
	}
	r.metrics.RecordBatchProcessed(done, r.clock.Since(start))
	return done, nil
}

func (r *Relay) relay(ctx context.Context, snap docstore.Snapshot) error {
	h, err := FromSnapshot(snap)
	if err != nil {
		return err
	}

	inserted, err := r.archive.Insert(ctx, h)
	if err != nil {
		return err
	}
	if !inserted {
		log.Debug().Str("match_id", h.MatchID).Msg("match already archived")
	}

	if r.publisher != nil {
		event, err := NewMatchCompleted(h)
		if err != nil {
			return err
		}
		if err := r.publishWithRetry(ctx, event); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}

	if _, err := r.store.Update(ctx, duel.HistoryCollection, snap.ID, []docstore.Update{
		docstore.Set(FieldRelayed, true),
	}); err != nil {
		return fmt.Errorf("failed to mark match history relayed: %w", err)
	}

	log.Info().Str("history_id", snap.ID).Str("match_id", h.MatchID).Msg("relayed match history")
	return nil
}

// publishWithRetry publishes event, backing off linearly between attempts.
func (r *Relay) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		err := r.publisher.Publish(ctx, event)
		r.metrics.RecordPublishAttempt(event.EventType, attempt+1, err == nil)
		if err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
