package duel

import (
	"strconv"
	"time"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// EffectKind identifies work a client must do after a transition is written.
type EffectKind int

const (
	// EffectScheduleLifeReset resets both life totals once ResetDelay passes.
	EffectScheduleLifeReset EffectKind = iota + 1
	// EffectRecordHistory appends the completed match to the history collection.
	EffectRecordHistory
)

// Effect is a side effect requested by a transition.
type Effect struct {
	Kind EffectKind
	Duel int
}

// Transition is the outcome of applying one intent to a session: the new
// local state, the field writes that produce it remotely, and any follow-up
// effects. Transitions never mutate their input.
type Transition struct {
	Session models.DuelSession
	Updates []docstore.Update
	Effects []Effect
	// Ended is set when this transition finished a duel.
	Ended *models.DuelResult
}

// Empty reports whether the transition writes nothing.
func (t Transition) Empty() bool {
	return len(t.Updates) == 0
}

// Has reports whether the transition requests an effect of kind k.
func (t Transition) Has(k EffectKind) bool {
	for _, e := range t.Effects {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func (t *Transition) set(path string, v any) {
	t.Updates = append(t.Updates, docstore.Set(path, v))
}

// then appends next on top of t. next must have been computed from t.Session.
func (t Transition) then(next Transition) Transition {
	t.Session = next.Session
	t.Updates = append(t.Updates, next.Updates...)
	t.Effects = append(t.Effects, next.Effects...)
	if next.Ended != nil {
		t.Ended = next.Ended
	}
	return t
}

func begin(s models.DuelSession) Transition {
	return Transition{Session: clone(s)}
}

func clone(s models.DuelSession) models.DuelSession {
	if s.DuelResults != nil {
		results := make(map[string]models.DuelResult, len(s.DuelResults))
		for k, v := range s.DuelResults {
			results[k] = v
		}
		s.DuelResults = results
	}
	return s
}

func requirePlayable(s models.DuelSession) error {
	switch {
	case !s.GameStarted:
		return ErrNotStarted
	case s.MatchOver():
		return ErrMatchOver
	case s.MatchPaused:
		return ErrPaused
	case s.Intermission:
		return ErrIntermission
	}
	return nil
}

func lifeField(player int) string {
	if player == 1 {
		return FieldPlayer1LifePoints
	}
	return FieldPlayer2LifePoints
}

// ApplyLifePointDelta adds amount to a player's life total, clamping at zero.
// If that ends the duel, the returned transition carries the duel end too.
func ApplyLifePointDelta(s models.DuelSession, player, amount int, now time.Time) (Transition, error) {
	if player != 1 && player != 2 {
		return Transition{}, ErrInvalidPlayer
	}
	if err := requirePlayable(s); err != nil {
		return Transition{}, err
	}

	t := begin(s)
	next := addLifePoints(s.LifePoints(player), amount)
	if player == 1 {
		t.Session.Player1LifePoints = next
	} else {
		t.Session.Player2LifePoints = next
	}
	t.set(lifeField(player), next)

	if end, ok := ResolveDuelEnd(t.Session, now); ok {
		t = t.then(end)
	}
	return t, nil
}

// addLifePoints clamps the result to [0, MaxLifePoints].
func addLifePoints(cur, amount int) int {
	if amount > 0 && cur > MaxLifePoints-amount {
		return MaxLifePoints
	}
	return max(0, cur+amount)
}

// ResolveDuelEnd is the only place that decides a duel is over. It is
// level-triggered: given the same session it always reaches the same answer,
// so every trigger (life change, timer tick, remote snapshot) can call it.
func ResolveDuelEnd(s models.DuelSession, now time.Time) (Transition, bool) {
	if !s.GameStarted || s.MatchOver() || s.Intermission {
		return Transition{}, false
	}
	if _, recorded := s.DuelResults[strconv.Itoa(s.CurrentDuel)]; recorded {
		return Transition{}, false
	}

	p1, p2 := s.Player1LifePoints, s.Player2LifePoints
	switch {
	case p1 == 0 && p2 == 0:
		t, err := EndDuel(s, 0, models.DuelEndLifePoints, now)
		return t, err == nil
	case p1 == 0:
		t, err := EndDuel(s, 2, models.DuelEndLifePoints, now)
		return t, err == nil
	case p2 == 0:
		t, err := EndDuel(s, 1, models.DuelEndLifePoints, now)
		return t, err == nil
	case s.TimeRemaining <= 0 && !s.TimeExpired:
		winner := 0
		if p1 > p2 {
			winner = 1
		} else if p2 > p1 {
			winner = 2
		}
		t, err := EndDuel(s, winner, models.DuelEndTime, now)
		if err != nil {
			return Transition{}, false
		}
		t.Session.TimeExpired = true
		t.set(FieldTimeExpired, true)
		return t, true
	}
	return Transition{}, false
}

// EndDuel records the current duel's result and advances the match. winner
// is 1, 2, or 0 for a draw, which scores nobody.
func EndDuel(s models.DuelSession, winner int, reason models.DuelEndReason, now time.Time) (Transition, error) {
	if winner < 0 || winner > 2 {
		return Transition{}, ErrInvalidPlayer
	}
	switch {
	case s.MatchOver():
		return Transition{}, ErrMatchOver
	case s.Intermission:
		return Transition{}, ErrIntermission
	}
	key := strconv.Itoa(s.CurrentDuel)
	if _, recorded := s.DuelResults[key]; recorded {
		return Transition{}, ErrDuelRecorded
	}

	t := begin(s)
	result := models.DuelResult{
		Winner:    winner,
		Player1LP: s.Player1LifePoints,
		Player2LP: s.Player2LifePoints,
		EndTime:   now.UTC(),
		Reason:    reason,
	}
	if t.Session.DuelResults == nil {
		t.Session.DuelResults = make(map[string]models.DuelResult)
	}
	t.Session.DuelResults[key] = result
	t.set(FieldDuelResults+"."+key, result)
	t.Ended = &result

	switch winner {
	case 1:
		t.Session.Player1Score++
		t.set(FieldPlayer1Score, t.Session.Player1Score)
	case 2:
		t.Session.Player2Score++
		t.set(FieldPlayer2Score, t.Session.Player2Score)
	}
	t.set(FieldPlayer1LifePoints, t.Session.Player1LifePoints)
	t.set(FieldPlayer2LifePoints, t.Session.Player2LifePoints)

	if t.Session.Player1Score >= WinsRequired || t.Session.Player2Score >= WinsRequired {
		t.Session.Status = models.DuelStatusFinished
		t.Session.MatchWinner = t.Session.PlayerName(winner)
		t.set(FieldStatus, t.Session.Status)
		t.set(FieldMatchWinner, t.Session.MatchWinner)
		t.Effects = append(t.Effects, Effect{Kind: EffectRecordHistory, Duel: s.CurrentDuel})
		return t, nil
	}

	t.Session.CurrentDuel++
	t.Session.Intermission = true
	t.set(FieldCurrentDuel, t.Session.CurrentDuel)
	t.set(FieldIntermission, true)
	t.Effects = append(t.Effects, Effect{Kind: EffectScheduleLifeReset, Duel: t.Session.CurrentDuel})
	return t, nil
}

// ResetLifePoints ends the intermission before duel number duel. It reports
// false when there is nothing to do, e.g. another client already reset.
func ResetLifePoints(s models.DuelSession, duel int) (Transition, bool) {
	if !s.Intermission || s.CurrentDuel != duel || s.MatchOver() {
		return Transition{}, false
	}
	t := begin(s)
	t.Session.Player1LifePoints = InitialLifePoints
	t.Session.Player2LifePoints = InitialLifePoints
	t.Session.Intermission = false
	t.set(FieldPlayer1LifePoints, InitialLifePoints)
	t.set(FieldPlayer2LifePoints, InitialLifePoints)
	t.set(FieldIntermission, false)
	// The clock ran out during the intermission; the new duel is not forced to end.
	if t.Session.TimeRemaining <= 0 && !t.Session.TimeExpired {
		t.Session.TimeExpired = true
		t.set(FieldTimeExpired, true)
	}
	return t, true
}

// TogglePause flips the pause flag and pins the clock reading alongside it.
func TogglePause(s models.DuelSession) (Transition, error) {
	switch {
	case !s.GameStarted:
		return Transition{}, ErrNotStarted
	case s.MatchOver():
		return Transition{}, ErrMatchOver
	}
	t := begin(s)
	t.Session.MatchPaused = !s.MatchPaused
	t.set(FieldMatchPaused, t.Session.MatchPaused)
	t.set(FieldTimeRemaining, t.Session.TimeRemaining)
	return t, nil
}

// StartMatch begins the first duel once both seats are filled.
func StartMatch(s models.DuelSession) (Transition, error) {
	switch {
	case !s.HasOpponent():
		return Transition{}, ErrMissingOpponent
	case s.GameStarted && !s.MatchOver():
		return Transition{}, ErrAlreadyStarted
	}
	return resetMatch(s), nil
}

// Rematch restarts a finished match between the same players.
func Rematch(s models.DuelSession) (Transition, error) {
	if !s.MatchOver() {
		return Transition{}, ErrMatchNotOver
	}
	return resetMatch(s), nil
}

func resetMatch(s models.DuelSession) Transition {
	t := begin(s)
	t.Session.Status = models.DuelStatusActive
	t.Session.GameStarted = true
	t.Session.TimeRemaining = MatchTimerSeconds
	t.Session.Player1LifePoints = InitialLifePoints
	t.Session.Player2LifePoints = InitialLifePoints
	t.Session.CurrentDuel = 1
	t.Session.Player1Score = 0
	t.Session.Player2Score = 0
	t.Session.MatchWinner = ""
	t.Session.MatchPaused = false
	t.Session.DuelResults = map[string]models.DuelResult{}
	t.Session.Intermission = false
	t.Session.TimeExpired = false

	t.set(FieldStatus, t.Session.Status)
	t.set(FieldGameStarted, true)
	t.set(FieldTimeRemaining, MatchTimerSeconds)
	t.set(FieldPlayer1LifePoints, InitialLifePoints)
	t.set(FieldPlayer2LifePoints, InitialLifePoints)
	t.set(FieldCurrentDuel, 1)
	t.set(FieldPlayer1Score, 0)
	t.set(FieldPlayer2Score, 0)
	t.set(FieldMatchWinner, "")
	t.set(FieldMatchPaused, false)
	t.set(FieldDuelResults, map[string]any{})
	t.set(FieldIntermission, false)
	t.set(FieldTimeExpired, false)
	return t
}

// Join seats p as player 2 of a waiting session.
func Join(s models.DuelSession, p Participant) (Transition, error) {
	seat := p.Seat()
	switch {
	case seat == "":
		return Transition{}, ErrPermissionDenied
	case seat == s.Player1Seat:
		return Transition{}, ErrAlreadySeated
	case s.Status != models.DuelStatusWaiting || s.HasOpponent():
		return Transition{}, ErrSessionFull
	}

	t := begin(s)
	t.Session.Player2ID = p.UserID
	t.Session.Player2Name = p.Name
	t.Session.Player2Seat = seat
	t.Session.Player2IsGuest = p.IsGuest
	t.Session.Player2Deck = p.Deck
	t.Session.Status = models.DuelStatusActive
	t.Session.Player1LifePoints = InitialLifePoints
	t.Session.Player2LifePoints = InitialLifePoints
	t.Session.CurrentDuel = 1
	t.Session.Player1Score = 0
	t.Session.Player2Score = 0
	t.Session.MatchWinner = ""
	t.Session.MatchPaused = false

	t.set(FieldPlayer2ID, p.UserID)
	t.set(FieldPlayer2Name, p.Name)
	t.set(FieldPlayer2Seat, seat)
	t.set(FieldPlayer2IsGuest, p.IsGuest)
	if p.Deck != nil {
		t.set(FieldPlayer2Deck, p.Deck)
	}
	t.set(FieldStatus, models.DuelStatusActive)
	t.set(FieldPlayer1LifePoints, InitialLifePoints)
	t.set(FieldPlayer2LifePoints, InitialLifePoints)
	t.set(FieldCurrentDuel, 1)
	t.set(FieldPlayer1Score, 0)
	t.set(FieldPlayer2Score, 0)
	t.set(FieldMatchWinner, "")
	t.set(FieldMatchPaused, false)
	return t, nil
}

// Tick advances the match clock by one second. The bool is false when the
// clock is not running. Updates are only produced on flush boundaries and at
// zero, where the duel-end resolver runs as well.
func Tick(s models.DuelSession, now time.Time) (Transition, bool) {
	if !TimerRunning(s) {
		return Transition{}, false
	}
	t := begin(s)
	t.Session.TimeRemaining--
	if t.Session.TimeRemaining%FlushEvery == 0 || t.Session.TimeRemaining == 0 {
		t.set(FieldTimeRemaining, t.Session.TimeRemaining)
	}
	if t.Session.TimeRemaining == 0 {
		if end, ok := ResolveDuelEnd(t.Session, now); ok {
			t = t.then(end)
		}
	}
	return t, true
}

// ExpireClock pins the match clock at zero and resolves the duel. It is the
// retry form of the final Tick, applied to a freshly read session.
func ExpireClock(s models.DuelSession, now time.Time) (Transition, bool) {
	if !s.GameStarted || s.MatchOver() {
		return Transition{}, false
	}
	t := begin(s)
	if t.Session.TimeRemaining != 0 {
		t.Session.TimeRemaining = 0
		t.set(FieldTimeRemaining, 0)
	}
	if end, ok := ResolveDuelEnd(t.Session, now); ok {
		t = t.then(end)
	}
	return t, !t.Empty()
}
