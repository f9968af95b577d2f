package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/duelpad/go/internal/duel"
	"github.com/mcdev12/duelpad/go/internal/duel/engine"
	"github.com/mcdev12/duelpad/go/internal/models"
)

type delta struct {
	player, amount int
}

type fakeController struct {
	deltas  []delta
	calls   []string
	failing error
	view    engine.View
}

func (f *fakeController) ApplyLifePointDelta(_ context.Context, player, amount int) error {
	if f.failing != nil {
		return f.failing
	}
	f.deltas = append(f.deltas, delta{player, amount})
	return nil
}

func (f *fakeController) TogglePause(context.Context) error {
	f.calls = append(f.calls, "pause")
	return nil
}

func (f *fakeController) StartMatch(context.Context) error {
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeController) Rematch(context.Context) error {
	f.calls = append(f.calls, "rematch")
	return nil
}

func (f *fakeController) View() engine.View { return f.view }

func runLines(t *testing.T, ctl controller, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	require.NoError(t, runREPL(context.Background(), in, &out, ctl))
	return out.String()
}

func TestREPLLifePoints(t *testing.T) {
	ctl := &fakeController{}
	runLines(t, ctl, "lp 1 -1000", "lp p2 +500", "", "calc 2 8 0 0 x2 -", "calc 1 1 5 5 5 /2 +")

	assert.Equal(t, []delta{{1, -1000}, {2, 500}, {2, -1600}, {1, 777}}, ctl.deltas)
}

func TestREPLCommands(t *testing.T) {
	ctl := &fakeController{}
	runLines(t, ctl, "start", "PAUSE", "pause", "rematch")

	assert.Equal(t, []string{"start", "pause", "pause", "rematch"}, ctl.calls)
}

func TestREPLReportsErrorsAndContinues(t *testing.T) {
	ctl := &fakeController{}
	out := runLines(t, ctl,
		"lp 3 -100",
		"lp 1 lots",
		"calc 1 +",
		"calc 1 5 =",
		"calc 1 C +",
		"dance",
		"lp 2 -50",
	)

	assert.Contains(t, out, `player must be 1 or 2, got "3"`)
	assert.Contains(t, out, `invalid amount "lots"`)
	assert.Contains(t, out, "usage: calc")
	assert.Contains(t, out, "calc must end with + or -")
	assert.Contains(t, out, "nothing entered")
	assert.Contains(t, out, `unknown command "dance"`)
	assert.Equal(t, []delta{{2, -50}}, ctl.deltas)
}

func TestREPLSurfacesControllerErrors(t *testing.T) {
	ctl := &fakeController{failing: duel.ErrPermissionDenied}
	out := runLines(t, ctl, "lp 1 -100")

	assert.Contains(t, out, "error: "+duel.ErrPermissionDenied.Error())
}

func TestREPLStopsAtQuit(t *testing.T) {
	ctl := &fakeController{}
	runLines(t, ctl, "lp 1 -100", "quit", "lp 1 -200")

	assert.Equal(t, []delta{{1, -100}}, ctl.deltas)
}

func TestREPLStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that never returns data.
	in := blockingReader{}
	var out bytes.Buffer
	assert.NoError(t, runREPL(ctx, in, &out, &fakeController{}))
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }

func TestFormatView(t *testing.T) {
	assert.Equal(t, "loading session...", formatView(engine.View{}))

	v := engine.View{
		Loaded: true,
		Role:   duel.RolePlayer1,
		Phase:  duel.PhasePlaying,
		Session: models.DuelSession{
			Player1Name:       "Yugi",
			Player1LifePoints: 4000,
			Player1Score:      1,
			Player2LifePoints: 8000,
			CurrentDuel:       2,
			TimeRemaining:     125,
			MatchPaused:       true,
		},
		Err: errors.New("boom"),
	}
	assert.Equal(t,
		"duel 2 | Yugi 4000 (1) vs waiting 8000 (0) | 02:05 | playing as player1 | paused | last error: boom",
		formatView(v))

	v.Err = nil
	v.Session.MatchPaused = false
	v.Session.Status = models.DuelStatusFinished
	v.Session.MatchWinner = "Yugi"
	assert.True(t, strings.HasSuffix(formatView(v), "| winner: Yugi"))
}
