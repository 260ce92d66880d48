package store

import "context"

// Condition is an experimental condition label: a group id ("0", "1", "2")
// or a repetition index ("1".."27"), depending on how the space is configured.
type Condition string

// Assignment records one participant's condition and when it was handed out.
// Records are immutable once created; they are only ever removed (on timeout
// or completion), never updated in place.
type Assignment struct {
	Condition  Condition `json:"condition"`
	AssignedAt int64     `json:"assignedAt"` // unix seconds
}

// State is the entire persisted assignment state. It is loaded, mutated and
// written back as one unit per request; there is no partial update.
type State struct {
	Active    map[string]Assignment `json:"active"`    // participant id -> assignment
	Completed map[Condition]int     `json:"completed"` // condition -> completed count
}

// NewState returns an empty, well-formed state.
func NewState() *State {
	return &State{
		Active:    make(map[string]Assignment),
		Completed: make(map[Condition]int),
	}
}

// Clone returns a deep copy of the state. Stores hand out copies so callers
// can never alias the persisted maps.
func (s *State) Clone() *State {
	c := &State{
		Active:    make(map[string]Assignment, len(s.Active)),
		Completed: make(map[Condition]int, len(s.Completed)),
	}
	for pid, a := range s.Active {
		c.Active[pid] = a
	}
	for cond, n := range s.Completed {
		c.Completed[cond] = n
	}
	return c
}

// Store defines the interface for assignment state persistence.
// Implementations must be safe for concurrent use.
//
// Load fails open: a missing or unparsable backing record yields an empty,
// well-formed state rather than an error. Save overwrites the whole state.
// Callers must load, mutate and save within a single logical request to
// avoid lost updates; serializing those requests is the caller's job.
type Store interface {
	// Load retrieves the current assignment state.
	// Returns an empty state if nothing has been persisted yet.
	Load(ctx context.Context) (*State, error)

	// Save overwrites the persisted state wholesale.
	Save(ctx context.Context, state *State) error

	// Close releases any resources held by the store.
	Close() error
}
