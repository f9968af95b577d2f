package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/duel"
	"github.com/mcdev12/duelpad/go/internal/models"
)

func sampleHistory() models.MatchHistory {
	p1, p2 := gofakeit.FirstName(), gofakeit.LastName()
	return models.MatchHistory{
		MatchID:      gofakeit.UUID(),
		Player1Name:  p1,
		Player1Score: 2,
		Player1Deck:  &models.DeckRef{ID: "deck-1", Name: "Dark Magician"},
		Player2Name:  p2,
		Player2Score: 1,
		Player2ID:    "uid-2",
		Winner:       p1,
		DuelResults: map[string]models.DuelResult{
			"1": {Winner: 1, Player1LP: 1200, Player2LP: 0, Reason: models.DuelEndLifePoints},
			"2": {Winner: 2, Player1LP: 0, Player2LP: 50, Reason: models.DuelEndLifePoints},
			"3": {Winner: 1, Player1LP: 300, Player2LP: 0, Reason: models.DuelEndLifePoints},
		},
		CreatedAt: time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC),
	}
}

type memArchive struct {
	mu      sync.Mutex
	rows    map[string]models.MatchHistory
	failFor string
}

func newMemArchive() *memArchive {
	return &memArchive{rows: make(map[string]models.MatchHistory)}
}

func (a *memArchive) Insert(ctx context.Context, h models.MatchHistory) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h.MatchID == a.failFor {
		return false, errors.New("archive unavailable")
	}
	if _, ok := a.rows[h.MatchID]; ok {
		return false, nil
	}
	a.rows[h.MatchID] = h
	return true, nil
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	events   []Event
}

func (p *flakyPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("nats: timeout")
	}
	p.events = append(p.events, e)
	return nil
}

func TestStoreRecorder(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	rec := NewStoreRecorder(store)

	h := sampleHistory()
	h.Relayed = true
	require.NoError(t, rec.Record(ctx, h))

	snaps, err := store.Query(ctx, duel.HistoryCollection)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	got, err := FromSnapshot(snaps[0])
	require.NoError(t, err)
	assert.Equal(t, snaps[0].ID, got.ID)
	assert.Equal(t, h.MatchID, got.MatchID)
	assert.Equal(t, h.Winner, got.Winner)
	assert.Equal(t, h.DuelResults, got.DuelResults)
	assert.Equal(t, h.Player1Deck, got.Player1Deck)
	assert.False(t, got.Relayed)
}

func TestRelayProcessesPending(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	rec := NewStoreRecorder(store)
	archive := newMemArchive()
	pub := &flakyPublisher{}
	clock := clockwork.NewFakeClock()

	first, second := sampleHistory(), sampleHistory()
	require.NoError(t, rec.Record(ctx, first))
	require.NoError(t, rec.Record(ctx, second))

	relay := NewRelay(store, archive, pub, nil, clock, DefaultRelayConfig())
	n, err := relay.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, archive.rows, 2)
	require.Len(t, pub.events, 2)
	for _, e := range pub.events {
		assert.Equal(t, EventMatchCompleted, e.EventType)
		assert.NotEmpty(t, e.ID)
		var payload MatchCompletedPayload
		require.NoError(t, json.Unmarshal(e.Payload, &payload))
		assert.Equal(t, 3, payload.Duels)
		assert.Equal(t, e.MatchID, payload.MatchID)
	}

	pending, err := store.Query(ctx, duel.HistoryCollection, docstore.Where(FieldRelayed, false))
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, pub.events, 2)
}

func TestRelayLeavesFailedDocumentsPending(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	rec := NewStoreRecorder(store)
	archive := newMemArchive()

	h := sampleHistory()
	archive.failFor = h.MatchID
	require.NoError(t, rec.Record(ctx, h))

	relay := NewRelay(store, archive, nil, nil, clockwork.NewFakeClock(), DefaultRelayConfig())
	n, err := relay.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := store.Query(ctx, duel.HistoryCollection, docstore.Where(FieldRelayed, false))
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	archive.failFor = ""
	n, err = relay.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublishWithRetryBacksOff(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	pub := &flakyPublisher{failures: 2}
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	cfg := DefaultRelayConfig()

	relay := NewRelay(docstore.NewMemoryStore(), newMemArchive(), pub, metrics, clock, cfg)
	event, err := NewMatchCompleted(sampleHistory())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- relay.publishWithRetry(ctx, event) }()

	// attempt 2 waits RetryDelay, attempt 3 waits 2*RetryDelay
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(cfg.RetryDelay)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * cfg.RetryDelay)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publishWithRetry did not finish")
	}
	assert.Len(t, pub.events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.publishAttempts.WithLabelValues(EventMatchCompleted, "1", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.publishAttempts.WithLabelValues(EventMatchCompleted, "2", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.publishAttempts.WithLabelValues(EventMatchCompleted, "3", "success")))
}

func TestPublishWithRetryGivesUp(t *testing.T) {
	cfg := DefaultRelayConfig()
	cfg.MaxRetries = 0
	pub := &flakyPublisher{failures: 1}
	relay := NewRelay(docstore.NewMemoryStore(), newMemArchive(), pub, nil, clockwork.NewFakeClock(), cfg)

	event, err := NewMatchCompleted(sampleHistory())
	require.NoError(t, err)
	err = relay.publishWithRetry(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
}

func TestMetricPublisherRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	pub := NewMetricPublisher(&flakyPublisher{failures: 1}, metrics)
	event, err := NewMatchCompleted(sampleHistory())
	require.NoError(t, err)

	assert.Error(t, pub.Publish(context.Background(), event))
	assert.NoError(t, pub.Publish(context.Background(), event))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventCounter.WithLabelValues(EventMatchCompleted, "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventCounter.WithLabelValues(EventMatchCompleted, "success")))
}

func TestMetricPublisherWithNoOpCollector(t *testing.T) {
	var metrics MetricsCollector = &NoOpMetricsCollector{}
	pub := NewMetricPublisher(&flakyPublisher{}, metrics)
	event, err := NewMatchCompleted(sampleHistory())
	require.NoError(t, err)

	assert.NoError(t, pub.Publish(context.Background(), event))
	metrics.RecordRelayLag(3)
	metrics.RecordBatchProcessed(1, time.Millisecond)
}
