// Package state persists the controller's durable state as versioned JSON.
// Writes are atomic (temp file + fsync + rename) so a crash mid-write leaves
// the previous fully-committed snapshot on disk, never a torn file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/onnwee/camlive/youtubeapi"
)

// Version is the current state-file schema version.
const Version = 1

// ControllerState is everything the controller needs to resume after its own
// restart: the current session, the in-flight next session when a handoff was
// interrupted, and the sequence number used in title templating.
type ControllerState struct {
	Version         int                          `json:"version"`
	Current         *youtubeapi.BroadcastSession `json:"current,omitempty"`
	Next            *youtubeapi.BroadcastSession `json:"next,omitempty"`
	StreamSequence  int64                        `json:"stream_sequence"`
	LastPersistedAt time.Time                    `json:"last_persisted_at"`
}

// Store reads and writes the state file. A single goroutine (the controller
// loop) is the only writer, so no locking is needed.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

// Load reads the persisted state. A missing file means a fresh start and
// returns (nil, nil). A corrupt or future-versioned file is
// an error: resuming from state we cannot trust risks duplicate broadcasts.
func (s *Store) Load() (*ControllerState, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var st ControllerState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	if st.Version != Version {
		return nil, fmt.Errorf("state file %s has version %d, want %d", s.path, st.Version, Version)
	}
	return &st, nil
}

// Save atomically replaces the state file with the given snapshot. The
// version and persistence timestamp are stamped here so callers cannot
// forget them.
func (s *Store) Save(st *ControllerState) error {
	st.Version = Version
	st.LastPersistedAt = time.Now().UTC()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
