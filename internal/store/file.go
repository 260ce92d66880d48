package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileStore persists the assignment state as a single JSON document on disk
// (historically data/assignments.json). The file is read fresh on every Load
// and overwritten wholesale on every Save, so the process tolerates external
// edits and restarts without any warm-up.
type FileStore struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

// NewFileStore creates a file-backed store at the given path. The parent
// directory is created if it does not exist; the file itself is created
// lazily on first Save.
func NewFileStore(path string, log zerolog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return &FileStore{path: path, log: log}, nil
}

// Load reads and parses the state file. A missing or unparsable file yields
// an empty state: corruption must never take the service down, it only costs
// the accumulated counts.
func (f *FileStore) Load(ctx context.Context) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.log.Warn().Err(err).Str("path", f.path).Msg("state file unreadable, starting empty")
		}
		return NewState(), nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		f.log.Warn().Err(err).Str("path", f.path).Msg("state file unparsable, starting empty")
		return NewState(), nil
	}
	if state.Active == nil {
		state.Active = make(map[string]Assignment)
	}
	if state.Completed == nil {
		state.Completed = make(map[Condition]int)
	}
	return &state, nil
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, then rename over the target. A crash mid-save leaves the
// previous document intact.
func (f *FileStore) Save(ctx context.Context, state *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Close is a no-op for FileStore; every Save already leaves the file durable.
func (f *FileStore) Close() error {
	return nil
}
