// Package engine keeps one client's local mirror of a duel session in sync
// with the shared document and turns player intents into guarded writes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/duel"
	"github.com/mcdev12/duelpad/go/internal/models"
)

var (
	// ErrNotReady is returned for intents submitted before the first snapshot arrives.
	ErrNotReady = errors.New("session not loaded yet")
	// ErrStopped is returned once Run has returned.
	ErrStopped = errors.New("engine stopped")
)

// HistoryRecorder is what the engine needs to archive a completed match.
type HistoryRecorder interface {
	Record(ctx context.Context, h models.MatchHistory) error
}

// Config tunes engine timing.
type Config struct {
	TickInterval     time.Duration
	ResetDelay       time.Duration
	MaxWriteAttempts int
	HistoryTimeout   time.Duration
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Second,
		ResetDelay:       duel.ResetDelay,
		MaxWriteAttempts: 3,
		HistoryTimeout:   10 * time.Second,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the real clock, e.g. with a fake in tests.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRecorder archives completed matches through r.
func WithRecorder(r HistoryRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// AsJoiner makes the engine try to take the second seat of a waiting session.
func AsJoiner() Option {
	return func(e *Engine) { e.joining = true }
}

// View is a read-only picture of the engine's local state.
type View struct {
	Session      models.DuelSession
	Version      uint64
	Role         duel.Role
	Phase        duel.Phase
	TimerRunning bool
	Loaded       bool
	Err          error
}

type intent struct {
	name  string
	apply func(models.DuelSession) (duel.Transition, error)
	reply chan error
}

// Engine is one client's synchronisation engine for a single session. All
// state is owned by the goroutine running Run; snapshots, intents, timer
// ticks and delayed resets are funnelled into it through channels.
type Engine struct {
	store     docstore.Store
	sessionID string
	self      duel.Participant
	seat      string
	joining   bool
	clock     clockwork.Clock
	recorder  HistoryRecorder
	cfg       Config

	intents      chan intent
	snapSignal   chan struct{}
	snapMu       sync.Mutex
	pendingSnap  *docstore.Snapshot
	tickSignal   chan struct{}
	pendingTicks atomic.Int64
	resets       chan int
	started      atomic.Bool
	done         chan struct{}

	// owned by the Run goroutine
	state         models.DuelSession
	version       uint64
	loaded        bool
	joinAttempted bool
	lastErr       error
	resetTimers   map[int]clockwork.Timer
	timer         *timerDriver

	viewMu  sync.RWMutex
	view    View
	updates chan View
}

// New creates an engine for sessionID acting as self.
func New(store docstore.Store, sessionID string, self duel.Participant, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		sessionID:   sessionID,
		self:        self,
		seat:        self.Seat(),
		clock:       clockwork.NewRealClock(),
		cfg:         DefaultConfig(),
		intents:     make(chan intent),
		snapSignal:  make(chan struct{}, 1),
		tickSignal:  make(chan struct{}, 1),
		resets:      make(chan int, 4),
		done:        make(chan struct{}),
		resetTimers: make(map[int]clockwork.Timer),
		updates:     make(chan View, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.timer = newTimerDriver(e.clock, e.cfg.TickInterval, e.onTick)
	return e
}

// Run subscribes to the session and processes events until ctx is cancelled
// or the session disappears, in which case it returns duel.ErrNotFound. The
// subscription, the match clock and pending resets are torn down on return.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer close(e.done)

	unsubscribe, err := e.store.Subscribe(ctx, duel.Collection, e.sessionID, e.onSnapshot)
	if err != nil {
		return fmt.Errorf("subscribe to session %s: %w", e.sessionID, err)
	}
	defer unsubscribe()
	defer e.stopTimers()

	log.Info().
		Str("session_id", e.sessionID).
		Bool("joining", e.joining).
		Msg("duel engine started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("session_id", e.sessionID).Msg("duel engine stopped")
			return nil

		case <-e.snapSignal:
			snap := e.takeSnapshot()
			if snap == nil {
				continue
			}
			if err := e.reconcile(ctx, *snap); err != nil {
				e.lastErr = err
				e.publish()
				if errors.Is(err, duel.ErrNotFound) {
					log.Warn().Str("session_id", e.sessionID).Msg("session no longer exists")
					return err
				}
				log.Error().Err(err).Str("session_id", e.sessionID).Msg("failed to reconcile snapshot")
			}

		case req := <-e.intents:
			req.reply <- e.handleIntent(ctx, req)

		case <-e.tickSignal:
			for n := e.pendingTicks.Swap(0); n > 0; n-- {
				if err := e.handleTick(ctx); err != nil && errors.Is(err, duel.ErrNotFound) {
					return err
				}
			}

		case n := <-e.resets:
			if err := e.handleReset(ctx, n); err != nil && errors.Is(err, duel.ErrNotFound) {
				return err
			}
		}
	}
}

// ApplyLifePointDelta changes a player's life total by amount.
func (e *Engine) ApplyLifePointDelta(ctx context.Context, player, amount int) error {
	return e.submit(ctx, "life points", func(s models.DuelSession) (duel.Transition, error) {
		return duel.ApplyLifePointDelta(s, player, amount, e.clock.Now())
	})
}

// TogglePause pauses or resumes the match.
func (e *Engine) TogglePause(ctx context.Context) error {
	return e.submit(ctx, "toggle pause", duel.TogglePause)
}

// StartMatch starts the first duel.
func (e *Engine) StartMatch(ctx context.Context) error {
	return e.submit(ctx, "start match", duel.StartMatch)
}

// Rematch restarts a finished match.
func (e *Engine) Rematch(ctx context.Context) error {
	return e.submit(ctx, "rematch", duel.Rematch)
}

// View returns the latest local state.
func (e *Engine) View() View {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.view
}

// Updates delivers the newest View after every change. Views that are not
// read in time are replaced by newer ones.
func (e *Engine) Updates() <-chan View {
	return e.updates
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) submit(ctx context.Context, name string, apply func(models.DuelSession) (duel.Transition, error)) error {
	req := intent{name: name, apply: apply, reply: make(chan error, 1)}
	select {
	case e.intents <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) onSnapshot(snap docstore.Snapshot) {
	e.snapMu.Lock()
	if e.pendingSnap == nil || !snap.Exists || snap.Version >= e.pendingSnap.Version {
		e.pendingSnap = &snap
	}
	e.snapMu.Unlock()
	select {
	case e.snapSignal <- struct{}{}:
	default:
	}
}

func (e *Engine) takeSnapshot() *docstore.Snapshot {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	snap := e.pendingSnap
	e.pendingSnap = nil
	return snap
}

func (e *Engine) onTick() {
	e.pendingTicks.Add(1)
	select {
	case e.tickSignal <- struct{}{}:
	default:
	}
}

func (e *Engine) role() duel.Role {
	return duel.RoleOf(e.state, e.seat)
}

func (e *Engine) reconcile(ctx context.Context, snap docstore.Snapshot) error {
	if !snap.Exists {
		return fmt.Errorf("session %s: %w", e.sessionID, duel.ErrNotFound)
	}
	if !e.adopt(snap) {
		return nil
	}
	e.maybeJoin(ctx)
	e.maybeResolve(ctx)
	e.settle()
	return nil
}

// adopt copies a remote snapshot over local state unless it is older.
func (e *Engine) adopt(snap docstore.Snapshot) bool {
	if e.loaded && snap.Version < e.version {
		return false
	}
	s, err := duel.FromSnapshot(snap)
	if err != nil {
		log.Error().Err(err).Str("session_id", e.sessionID).Msg("failed to decode session snapshot")
		return false
	}
	e.state = s
	e.version = snap.Version
	e.loaded = true
	return true
}

// refresh re-reads the document so local state matches remote truth again.
func (e *Engine) refresh(ctx context.Context) error {
	snap, err := e.store.Get(ctx, duel.Collection, e.sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("session %s: %w", e.sessionID, duel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("refresh session %s: %w", e.sessionID, err)
	}
	e.adopt(snap)
	return nil
}

func (e *Engine) handleIntent(ctx context.Context, req intent) error {
	if !e.loaded {
		return ErrNotReady
	}
	if !e.role().IsPlayer() {
		return duel.ErrPermissionDenied
	}
	err := e.commit(ctx, req.name, req.apply)
	e.settle()
	if err != nil && !errors.Is(err, duel.ErrValidation) {
		log.Error().Err(err).Str("session_id", e.sessionID).Str("intent", req.name).Msg("intent failed")
	}
	return err
}

// commit applies an intent optimistically and writes it with a version
// precondition. On conflict it re-reads and re-applies the intent to the
// fresh state; on any other failure it re-reads so the optimistic state does
// not linger, and reports the error.
func (e *Engine) commit(ctx context.Context, name string, apply func(models.DuelSession) (duel.Transition, error)) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxWriteAttempts; attempt++ {
		t, err := apply(e.state)
		if err != nil {
			return err
		}
		if t.Empty() {
			return nil
		}

		e.state = t.Session
		e.publish()

		snap, err := e.write(ctx, t.Updates, true)
		if err == nil {
			e.adopt(snap)
			e.afterCommit(t)
			return nil
		}
		lastErr = err

		if rerr := e.refresh(ctx); rerr != nil {
			return rerr
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Debug().
			Str("session_id", e.sessionID).
			Str("intent", name).
			Int("attempt", attempt).
			Msg("version conflict, retrying against fresh state")
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, e.cfg.MaxWriteAttempts, lastErr)
}

// write sends updates, carrying the current clock reading while it runs.
func (e *Engine) write(ctx context.Context, updates []docstore.Update, conditional bool) (docstore.Snapshot, error) {
	if e.timer.Running() && !hasPath(updates, duel.FieldTimeRemaining) {
		updates = append(updates, docstore.Set(duel.FieldTimeRemaining, e.state.TimeRemaining))
	}
	var opts []docstore.UpdateOption
	if conditional {
		opts = append(opts, docstore.WithVersion(e.version))
	}
	return e.store.Update(ctx, duel.Collection, e.sessionID, updates, opts...)
}

func hasPath(updates []docstore.Update, path string) bool {
	for _, u := range updates {
		if u.Path == path {
			return true
		}
	}
	return false
}

func (e *Engine) afterCommit(t duel.Transition) {
	if t.Ended != nil {
		log.Info().
			Str("session_id", e.sessionID).
			Int("winner", t.Ended.Winner).
			Str("reason", string(t.Ended.Reason)).
			Int("player1_score", e.state.Player1Score).
			Int("player2_score", e.state.Player2Score).
			Msg("duel ended")
	}
	for _, eff := range t.Effects {
		switch eff.Kind {
		case duel.EffectScheduleLifeReset:
			e.scheduleReset(eff.Duel)
		case duel.EffectRecordHistory:
			e.recordHistory(e.state)
		}
	}
}

func (e *Engine) maybeJoin(ctx context.Context) {
	if !e.joining || e.joinAttempted {
		return
	}
	s := e.state
	if s.Status != models.DuelStatusWaiting || s.HasOpponent() || s.Player1Seat == e.seat {
		return
	}
	e.joinAttempted = true

	err := e.commit(ctx, "join", func(s models.DuelSession) (duel.Transition, error) {
		return duel.Join(s, e.self)
	})
	switch {
	case err == nil:
		log.Info().Str("session_id", e.sessionID).Str("name", e.self.Name).Msg("joined session as player 2")
	case errors.Is(err, duel.ErrSessionFull):
		log.Warn().Str("session_id", e.sessionID).Msg("session filled by another player, spectating")
		e.lastErr = err
	default:
		log.Error().Err(err).Str("session_id", e.sessionID).Msg("failed to join session")
		e.lastErr = err
	}
}

// maybeResolve runs the duel-end resolver on remote state, covering a peer
// that wrote a terminal condition without finishing the duel.
func (e *Engine) maybeResolve(ctx context.Context) {
	if !e.role().IsPlayer() {
		return
	}
	if _, ok := duel.ResolveDuelEnd(e.state, e.clock.Now()); !ok {
		return
	}
	err := e.commit(ctx, "resolve duel end", func(s models.DuelSession) (duel.Transition, error) {
		t, _ := duel.ResolveDuelEnd(s, e.clock.Now())
		return t, nil
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", e.sessionID).Msg("failed to resolve duel end")
	}
}

func (e *Engine) handleTick(ctx context.Context) error {
	t, running := duel.Tick(e.state, e.clock.Now())
	if !running {
		e.settle()
		return nil
	}

	// Spectators only count down; the players own every write.
	if !e.role().IsPlayer() {
		e.state.TimeRemaining = t.Session.TimeRemaining
		e.settle()
		return nil
	}

	if t.Ended == nil {
		e.state = t.Session
		if !t.Empty() {
			snap, err := e.write(ctx, t.Updates, false)
			if err != nil {
				log.Warn().Err(err).Str("session_id", e.sessionID).Msg("failed to flush match clock")
			} else {
				e.adopt(snap)
			}
		}
		e.settle()
		return nil
	}

	err := e.commit(ctx, "timer expiry", func(s models.DuelSession) (duel.Transition, error) {
		t, _ := duel.ExpireClock(s, e.clock.Now())
		return t, nil
	})
	e.settle()
	if err != nil {
		log.Error().Err(err).Str("session_id", e.sessionID).Msg("failed to end duel on timer expiry")
	}
	return err
}

func (e *Engine) scheduleReset(duelNo int) {
	if !e.role().IsPlayer() {
		return
	}
	if _, ok := e.resetTimers[duelNo]; ok {
		return
	}
	done := e.done
	e.resetTimers[duelNo] = e.clock.AfterFunc(e.cfg.ResetDelay, func() {
		select {
		case e.resets <- duelNo:
		case <-done:
		}
	})
}

func (e *Engine) handleReset(ctx context.Context, duelNo int) error {
	delete(e.resetTimers, duelNo)
	if !e.role().IsPlayer() {
		return nil
	}
	err := e.commit(ctx, "life point reset", func(s models.DuelSession) (duel.Transition, error) {
		t, _ := duel.ResetLifePoints(s, duelNo)
		return t, nil
	})
	e.settle()
	if err != nil {
		log.Error().Err(err).Str("session_id", e.sessionID).Int("duel", duelNo).Msg("failed to reset life points")
	}
	return err
}

func (e *Engine) recordHistory(s models.DuelSession) {
	if e.recorder == nil {
		return
	}
	record := duel.HistoryRecord(s, e.clock.Now())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.HistoryTimeout)
		defer cancel()
		if err := e.recorder.Record(ctx, record); err != nil {
			log.Error().Err(err).Str("session_id", record.MatchID).Msg("failed to record match history")
			return
		}
		log.Info().Str("session_id", record.MatchID).Str("winner", record.Winner).Msg("match history recorded")
	}()
}

// settle brings the clock and pending resets in line with state and
// republishes the view.
func (e *Engine) settle() {
	if duel.TimerRunning(e.state) {
		e.timer.Start()
	} else {
		e.timer.Stop()
	}
	if e.state.Intermission {
		e.scheduleReset(e.state.CurrentDuel)
	}
	e.publish()
}

func (e *Engine) stopTimers() {
	e.timer.Stop()
	for n, t := range e.resetTimers {
		t.Stop()
		delete(e.resetTimers, n)
	}
}

func (e *Engine) publish() {
	v := View{
		Session:      e.state,
		Version:      e.version,
		Role:         e.role(),
		Phase:        duel.PhaseOf(e.state),
		TimerRunning: e.timer.Running(),
		Loaded:       e.loaded,
		Err:          e.lastErr,
	}
	e.viewMu.Lock()
	e.view = v
	e.viewMu.Unlock()

	select {
	case <-e.updates:
	default:
	}
	select {
	case e.updates <- v:
	default:
	}
}
