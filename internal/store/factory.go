package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/perceptionlab/assignd/internal/db"
)

// Options carries the backend-specific settings consumed by NewStore.
type Options struct {
	StateFile string // file backend: path to the JSON state document
	DSN       string // postgres backend: connection string
	StateName string // postgres backend: key of the state row
}

// NewStore creates a store based on the given store type.
// Supported types: "memory", "file", "postgres".
func NewStore(ctx context.Context, storeType string, opts Options, log zerolog.Logger) (Store, error) {
	switch storeType {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(opts.StateFile, log)
	case "postgres":
		pool, err := db.NewPool(ctx, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		st := NewPostgresStore(pool, opts.StateName, log)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}
