package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore keeps the assignment state as a single JSONB row keyed by a
// state name, mirroring the whole-document read/overwrite contract of the
// file store. Multiple experiments can share one database by using distinct
// state names.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
	log  zerolog.Logger
}

// NewPostgresStore creates a PostgreSQL-backed store for the given state name.
func NewPostgresStore(pool *pgxpool.Pool, name string, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, name: name, log: log}
}

// EnsureSchema creates the backing table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS assignment_state (
			name       text PRIMARY KEY,
			state      jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create assignment_state table: %w", err)
	}
	return nil
}

// Load reads the state row. A missing row or unparsable document yields an
// empty state, matching FileStore's fail-open contract. Connectivity errors
// are surfaced: an unreachable database is not the same as an absent record.
func (p *PostgresStore) Load(ctx context.Context) (*State, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT state FROM assignment_state WHERE name = $1`, p.name).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("load assignment state %q: %w", p.name, err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		p.log.Warn().Err(err).Str("name", p.name).Msg("stored state unparsable, starting empty")
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

// Save upserts the state row wholesale.
func (p *PostgresStore) Save(ctx context.Context, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO assignment_state (name, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		p.name, raw)
	if err != nil {
		return fmt.Errorf("save assignment state %q: %w", p.name, err)
	}
	return nil
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
