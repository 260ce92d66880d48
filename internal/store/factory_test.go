package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewStore_Memory(t *testing.T) {
	st, err := NewStore(context.Background(), "memory", Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer st.Close()

	if _, ok := st.(*MemoryStore); !ok {
		t.Errorf("Expected *MemoryStore, got %T", st)
	}
}

func TestNewStore_File(t *testing.T) {
	opts := Options{StateFile: filepath.Join(t.TempDir(), "assignments.json")}
	st, err := NewStore(context.Background(), "file", opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer st.Close()

	if _, ok := st.(*FileStore); !ok {
		t.Errorf("Expected *FileStore, got %T", st)
	}
}

func TestNewStore_UnsupportedType(t *testing.T) {
	_, err := NewStore(context.Background(), "cassandra", Options{}, zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error for unsupported store type, got nil")
	}
}
