// Package lobby creates duel sessions and lists the ones waiting for an opponent.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/duel"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// Lobby is the session directory over a document store.
type Lobby struct {
	store docstore.Store
	clock clockwork.Clock
}

// New creates a lobby. A nil clock means the real clock.
func New(store docstore.Store, clock clockwork.Clock) *Lobby {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Lobby{store: store, clock: clock}
}

// CreateSession adds a waiting session hosted by host and returns it with its id.
func (l *Lobby) CreateSession(ctx context.Context, host duel.Participant, deck *models.DeckRef) (models.DuelSession, error) {
	if host.IsGuest && host.Name == "" {
		return models.DuelSession{}, duel.ErrGuestNameRequired
	}
	if host.Seat() == "" {
		return models.DuelSession{}, fmt.Errorf("host has no token: %w", duel.ErrValidation)
	}
	if deck == nil {
		deck = host.Deck
	}

	s := models.DuelSession{
		Status:            models.DuelStatusWaiting,
		Player1ID:         host.UserID,
		Player1Name:       host.Name,
		Player1Seat:       host.Seat(),
		Player1IsGuest:    host.IsGuest,
		Player1Deck:       deck,
		Player1LifePoints: duel.InitialLifePoints,
		Player2LifePoints: duel.InitialLifePoints,
		CurrentDuel:       1,
		TimeRemaining:     duel.MatchTimerSeconds,
		DuelResults:       map[string]models.DuelResult{},
		CreatedAt:         l.clock.Now().UTC(),
	}
	fields, err := duel.ToFields(s)
	if err != nil {
		return models.DuelSession{}, err
	}

	id, err := l.store.Add(ctx, duel.Collection, fields)
	if err != nil {
		return models.DuelSession{}, fmt.Errorf("failed to create session: %w", err)
	}
	s.ID = id

	log.Info().
		Str("session_id", id).
		Str("host", host.Name).
		Bool("guest", host.IsGuest).
		Msg("duel session created")
	return s, nil
}

// ListWaiting returns sessions still waiting for a second player, newest first.
func (l *Lobby) ListWaiting(ctx context.Context) ([]models.DuelSession, error) {
	snaps, err := l.store.Query(ctx, duel.Collection, docstore.Where(duel.FieldStatus, string(models.DuelStatusWaiting)))
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting sessions: %w", err)
	}
	sessions := make([]models.DuelSession, 0, len(snaps))
	for _, snap := range snaps {
		s, err := duel.FromSnapshot(snap)
		if err != nil {
			log.Warn().Err(err).Str("session_id", snap.ID).Msg("skipping unreadable session")
			continue
		}
		sessions = append(sessions, s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// DefaultPollInterval is how often WatchWaiting re-reads the lobby.
const DefaultPollInterval = 2 * time.Second

// WatchWaiting calls fn with the waiting sessions now and again every time
// the set changes, re-querying every interval (DefaultPollInterval when
// zero). The first listing runs before WatchWaiting returns and its error is
// returned; later query errors are logged and retried on the next tick. fn
// runs on one goroutine at a time. stop ends the watch and waits for it.
func (l *Lobby) WatchWaiting(ctx context.Context, interval time.Duration, fn func([]models.DuelSession)) (stop func(), err error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	sessions, err := l.ListWaiting(ctx)
	if err != nil {
		return nil, err
	}
	fn(sessions)
	last := fingerprint(sessions)

	ctx, cancel := context.WithCancel(ctx)
	ticker := l.clock.NewTicker(interval)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				sessions, err := l.ListWaiting(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Warn().Err(err).Msg("failed to refresh lobby")
					}
					continue
				}
				if f := fingerprint(sessions); f != last {
					last = f
					fn(sessions)
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func fingerprint(sessions []models.DuelSession) string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return strings.Join(ids, ",")
}

// Get loads one session.
func (l *Lobby) Get(ctx context.Context, id string) (models.DuelSession, error) {
	snap, err := l.store.Get(ctx, duel.Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.DuelSession{}, fmt.Errorf("session %s: %w", id, duel.ErrNotFound)
	}
	if err != nil {
		return models.DuelSession{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return duel.FromSnapshot(snap)
}

// InviteURL builds the link a host shares with an opponent.
func InviteURL(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return u.JoinPath("duel", id).String(), nil
}
