// Package store persists the engine state as a single JSON snapshot with
// atomic replace semantics: write to a temp file in the same directory,
// then rename over the live file. A crash mid-save leaves the previous
// snapshot intact.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"elastic-dca/internal/state"
)

const stateFile = "state.json"

// Store persists engine state snapshots to a data directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "store"),
	}, nil
}

// Path returns the location of the live snapshot file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFile)
}

// Save writes a snapshot atomically.
func (s *Store) Save(st *state.State) error {
	st.LastUpdate = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A missing file yields fresh defaults; a
// corrupt file yields fresh defaults plus a non-empty warning the caller
// surfaces as the engine's error status. Only I/O failures are errors.
func (s *Store) Load() (*state.State, string, error) {
	data, err := os.ReadFile(s.Path())
	if os.IsNotExist(err) {
		s.logger.Info("no saved state, starting fresh")
		return state.Default(), "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read state file: %w", err)
	}

	st := state.Default()
	if err := json.Unmarshal(data, st); err != nil {
		s.logger.Error("saved state is corrupt, starting fresh", "error", err)
		return state.Default(), fmt.Sprintf("state file corrupt, started fresh: %v", err), nil
	}
	st.Normalize()
	s.logger.Info("state loaded", "path", s.Path(), "last_update", st.LastUpdate)
	return st, "", nil
}
