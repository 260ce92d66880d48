package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assignments.json")
	st, err := NewFileStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return st, path
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	st, _ := newFileStore(t)

	state, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(state.Active) != 0 || len(state.Completed) != 0 {
		t.Errorf("Expected empty state for missing file, got %+v", state)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	st, _ := newFileStore(t)
	ctx := context.Background()

	state := NewState()
	state.Active["p1"] = Assignment{Condition: "3", AssignedAt: 1700000000}
	state.Active["p2"] = Assignment{Condition: "1", AssignedAt: 1700000100}
	state.Completed["3"] = 2

	if err := st.Save(ctx, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Active) != 2 {
		t.Errorf("Expected 2 active records, got %d", len(loaded.Active))
	}
	if loaded.Active["p1"].Condition != "3" || loaded.Active["p1"].AssignedAt != 1700000000 {
		t.Errorf("Record p1 mismatch: %+v", loaded.Active["p1"])
	}
	if loaded.Completed["3"] != 2 {
		t.Errorf("Expected completed count 2, got %d", loaded.Completed["3"])
	}
}

func TestFileStore_CorruptFileFailsOpen(t *testing.T) {
	st, path := newFileStore(t)
	ctx := context.Background()

	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("Seed write failed: %v", err)
	}

	state, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load of corrupt file must not error, got: %v", err)
	}
	if len(state.Active) != 0 || len(state.Completed) != 0 {
		t.Errorf("Expected empty state for corrupt file, got %+v", state)
	}

	// The store must recover on the next save.
	state.Completed["0"] = 1
	if err := st.Save(ctx, state); err != nil {
		t.Fatalf("Save after corruption failed: %v", err)
	}
	loaded, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load after recovery failed: %v", err)
	}
	if loaded.Completed["0"] != 1 {
		t.Errorf("Recovered state mismatch: %+v", loaded)
	}
}

func TestFileStore_PartialDocumentGetsDefaults(t *testing.T) {
	st, path := newFileStore(t)

	// A document missing either top-level map still loads well-formed.
	if err := os.WriteFile(path, []byte(`{"active": {"p1": {"condition": "0", "assignedAt": 5}}}`), 0o644); err != nil {
		t.Fatalf("Seed write failed: %v", err)
	}

	state, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.Completed == nil {
		t.Fatal("Completed map not synthesized")
	}
	if state.Active["p1"].Condition != "0" {
		t.Errorf("Active record lost: %+v", state.Active)
	}
}

func TestFileStore_SaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "assignments.json")
	st, err := NewFileStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := st.Save(context.Background(), NewState()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("State file not created: %v", err)
	}
}

func TestFileStore_EmptyPath(t *testing.T) {
	if _, err := NewFileStore("", zerolog.Nop()); err == nil {
		t.Error("Expected error for empty path, got nil")
	}
}
