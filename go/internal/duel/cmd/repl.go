package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mcdev12/duelpad/go/internal/duel"
	"github.com/mcdev12/duelpad/go/internal/duel/engine"
)

// controller is the part of the engine the prompt drives.
type controller interface {
	ApplyLifePointDelta(ctx context.Context, player, amount int) error
	TogglePause(ctx context.Context) error
	StartMatch(ctx context.Context) error
	Rematch(ctx context.Context) error
	View() engine.View
}

const replHelp = `commands:
  lp <1|2> <+N|-N>           change a player's life points
  calc <1|2> <keys...> <+|->  keypad: digits, x2, /2, <, C, then apply
  start | pause | rematch
  show | help | quit`

var errQuit = errors.New("quit")

// lockedWriter lets the update printer and the prompt share one terminal.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// runREPL reads commands until quit, EOF or ctx ends.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, ctl controller) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(out, replHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			err := execute(ctx, out, ctl, fields)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func execute(ctx context.Context, out io.Writer, ctl controller, args []string) error {
	switch strings.ToLower(args[0]) {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprintln(out, replHelp)
		return nil
	case "show":
		fmt.Fprintln(out, formatView(ctl.View()))
		return nil
	case "start":
		return ctl.StartMatch(ctx)
	case "pause":
		return ctl.TogglePause(ctx)
	case "rematch":
		return ctl.Rematch(ctx)
	case "lp":
		if len(args) != 3 {
			return errors.New("usage: lp <1|2> <+N|-N>")
		}
		player, err := parsePlayer(args[1])
		if err != nil {
			return err
		}
		amount, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[2])
		}
		return ctl.ApplyLifePointDelta(ctx, player, amount)
	case "calc":
		if len(args) < 4 {
			return errors.New("usage: calc <1|2> <keys...> <+|->")
		}
		player, err := parsePlayer(args[1])
		if err != nil {
			return err
		}
		var calc duel.Calculator
		for _, key := range args[2 : len(args)-1] {
			if !calc.Press(key) {
				return fmt.Errorf("unknown key %q", key)
			}
		}
		var positive bool
		switch args[len(args)-1] {
		case "+":
			positive = true
		case "-":
		default:
			return errors.New("calc must end with + or -")
		}
		delta, ok := calc.Apply(positive)
		if !ok {
			return errors.New("nothing entered")
		}
		return ctl.ApplyLifePointDelta(ctx, player, delta)
	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
}

func parsePlayer(s string) (int, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "p") {
	case "1":
		return 1, nil
	case "2":
		return 2, nil
	}
	return 0, fmt.Errorf("player must be 1 or 2, got %q", s)
}

func formatView(v engine.View) string {
	if !v.Loaded {
		return "loading session..."
	}
	s := v.Session
	remaining := time.Duration(s.TimeRemaining) * time.Second
	line := fmt.Sprintf("duel %d | %s %d (%d) vs %s %d (%d) | %02d:%02d | %s as %s",
		s.CurrentDuel,
		nameOr(s.Player1Name, "player 1"), s.Player1LifePoints, s.Player1Score,
		nameOr(s.Player2Name, "waiting"), s.Player2LifePoints, s.Player2Score,
		int(remaining.Minutes()), int(remaining.Seconds())%60,
		v.Phase, v.Role,
	)
	if s.MatchPaused {
		line += " | paused"
	}
	if s.MatchOver() {
		line += " | winner: " + s.MatchWinner
	}
	if v.Err != nil {
		line += " | last error: " + v.Err.Error()
	}
	return line
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
