package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mcdev12/duelpad/go/internal/duel"
)

// localState is what duelctl remembers between runs: the auth token and the
// participant used in each session, so a restarted client reclaims its seat.
type localState struct {
	Token        string                      `json:"token,omitempty"`
	Participants map[string]duel.Participant `json:"participants,omitempty"`
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".duelctl.json"
	}
	return filepath.Join(home, ".duelpad", "duelctl.json")
}

func loadState(path string) (*localState, error) {
	st := &localState{Participants: map[string]duel.Participant{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to parse state %s: %w", path, err)
	}
	if st.Participants == nil {
		st.Participants = map[string]duel.Participant{}
	}
	return st, nil
}

func (s *localState) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return os.Rename(tmp, path)
}
