package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/perceptionlab/assignd/internal/store"
)

// ErrMissingParticipant is returned when an operation is attempted with an
// empty participant id. No state is touched in that case.
var ErrMissingParticipant = errors.New("missing participant id")

// Decision is the outcome of an Assign call.
type Decision struct {
	Condition store.Condition
	Existing  bool // participant already held an active assignment
	Swept     int  // stale records reclaimed during this request
}

// ConditionLoad is one row of the per-condition load breakdown.
type ConditionLoad struct {
	Condition store.Condition `json:"condition"`
	Active    int             `json:"active"`
	Completed int             `json:"completed"`
	Load      int             `json:"load"`
}

// Coordinator owns the load-mutate-save cycle over one assignment state
// resource. All decisions for that resource go through its mutex, so two
// concurrent requests can never both observe and claim the same zero-load
// condition.
type Coordinator struct {
	store   store.Store
	space   *Space
	timeout time.Duration

	mu   sync.Mutex
	now  func() time.Time
	intn func(n int) int
	log  zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects the time source used for assignment timestamps and
// staleness sweeps. Tests use this to drive sessions past the timeout.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRand injects the randomness source used to break load ties under the
// balanced policy. Tests supply a deterministic stub to pin tie-break choices.
func WithRand(intn func(n int) int) Option {
	return func(c *Coordinator) { c.intn = intn }
}

// WithLogger sets the coordinator's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New creates a Coordinator over the given store and condition space.
// Active assignments older than timeout are treated as abandoned and their
// slots reclaimed on the next request.
func New(st store.Store, space *Space, timeout time.Duration, opts ...Option) (*Coordinator, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if space == nil {
		return nil, errors.New("condition space is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("session timeout must be positive, got %v", timeout)
	}
	c := &Coordinator{
		store:   st,
		space:   space,
		timeout: timeout,
		now:     time.Now,
		intn:    rand.Intn,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Space returns the coordinator's condition space.
func (c *Coordinator) Space() *Space { return c.space }

// Assign returns the condition for the given participant, allocating one if
// they have no active assignment. Replays are idempotent: a participant who
// re-requests before completing or timing out gets the same condition back.
func (c *Coordinator) Assign(ctx context.Context, participantID string) (Decision, error) {
	if participantID == "" {
		return Decision{}, ErrMissingParticipant
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.Load(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load state: %w", err)
	}
	c.normalize(state)

	now := c.now()
	swept := c.sweep(state, now)

	if existing, ok := state.Active[participantID]; ok {
		// The replay itself needs no write; persist only if the sweep
		// changed anything, so reclaimed slots are not resurrected later.
		if swept > 0 {
			if err := c.store.Save(ctx, state); err != nil {
				return Decision{}, fmt.Errorf("save state: %w", err)
			}
		}
		return Decision{Condition: existing.Condition, Existing: true, Swept: swept}, nil
	}

	chosen := c.pick(state)
	state.Active[participantID] = store.Assignment{
		Condition:  chosen,
		AssignedAt: now.Unix(),
	}
	if err := c.store.Save(ctx, state); err != nil {
		// Decision not committed; the participant is safe to retry.
		return Decision{}, fmt.Errorf("save state: %w", err)
	}

	c.log.Info().
		Str("participant", participantID).
		Str("condition", string(chosen)).
		Int("swept", swept).
		Msg("assigned condition")
	return Decision{Condition: chosen, Swept: swept}, nil
}

// Complete moves the participant's assignment from the active set into the
// completed counts. It returns the completed condition and whether an active
// record was found; either way the call succeeds, so a participant whose
// record already expired (or who completes twice) is never an error and is
// never double-counted.
func (c *Coordinator) Complete(ctx context.Context, participantID string) (store.Condition, bool, error) {
	if participantID == "" {
		return "", false, ErrMissingParticipant
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.Load(ctx)
	if err != nil {
		return "", false, fmt.Errorf("load state: %w", err)
	}
	c.normalize(state)

	rec, ok := state.Active[participantID]
	if !ok {
		return "", false, nil
	}
	delete(state.Active, participantID)
	state.Completed[rec.Condition]++
	if err := c.store.Save(ctx, state); err != nil {
		return "", false, fmt.Errorf("save state: %w", err)
	}

	c.log.Info().
		Str("participant", participantID).
		Str("condition", string(rec.Condition)).
		Msg("completed assignment")
	return rec.Condition, true, nil
}

// Loads returns the per-condition load breakdown after discounting stale
// records. It is a read-only view; the sweep is not persisted here.
func (c *Coordinator) Loads(ctx context.Context) ([]ConditionLoad, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	c.normalize(state)
	c.sweep(state, c.now())

	active := make(map[store.Condition]int, c.space.Size())
	for _, rec := range state.Active {
		active[rec.Condition]++
	}
	out := make([]ConditionLoad, 0, c.space.Size())
	for _, cond := range c.space.Conditions() {
		out = append(out, ConditionLoad{
			Condition: cond,
			Active:    active[cond],
			Completed: state.Completed[cond],
			Load:      active[cond] + state.Completed[cond],
		})
	}
	return out, nil
}

// Export returns a copy of the current persisted state, swept but not
// normalized away from whatever extra keys the backing document carries.
func (c *Coordinator) Export(ctx context.Context) (*store.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	c.normalize(state)
	return state, nil
}

// normalize repairs the structural gaps the store is allowed to hand back:
// nil maps, missing completed entries, and active records whose condition is
// outside the configured space (left over from a reconfiguration).
func (c *Coordinator) normalize(state *store.State) {
	if state.Active == nil {
		state.Active = make(map[string]store.Assignment)
	}
	if state.Completed == nil {
		state.Completed = make(map[store.Condition]int)
	}
	for _, cond := range c.space.Conditions() {
		if _, ok := state.Completed[cond]; !ok {
			state.Completed[cond] = 0
		}
	}
	for pid, rec := range state.Active {
		if !c.space.Contains(rec.Condition) {
			c.log.Warn().
				Str("participant", pid).
				Str("condition", string(rec.Condition)).
				Msg("dropping active record outside condition space")
			delete(state.Active, pid)
		}
	}
}

// sweep drops active records older than the session timeout, freeing their
// slots. Completed counts are untouched: an abandoned participant who
// returns is treated as new.
func (c *Coordinator) sweep(state *store.State, now time.Time) int {
	swept := 0
	cutoff := now.Unix() - int64(c.timeout/time.Second)
	for pid, rec := range state.Active {
		if rec.AssignedAt <= cutoff {
			delete(state.Active, pid)
			swept++
		}
	}
	if swept > 0 {
		c.log.Debug().Int("count", swept).Msg("swept stale assignments")
	}
	return swept
}

// pick selects a condition for a new participant per the space's policy.
// The state must already be normalized and swept.
func (c *Coordinator) pick(state *store.State) store.Condition {
	loads := make(map[store.Condition]int, c.space.Size())
	for cond, n := range state.Completed {
		loads[cond] += n
	}
	for _, rec := range state.Active {
		loads[rec.Condition]++
	}

	conditions := c.space.Conditions()
	if c.space.Policy() == PolicyZeroFirst {
		for _, cond := range conditions {
			if loads[cond] == 0 {
				return cond
			}
		}
		// All slots touched at least once; balance by load from here on.
	}

	min := loads[conditions[0]]
	for _, cond := range conditions[1:] {
		if loads[cond] < min {
			min = loads[cond]
		}
	}
	ties := make([]store.Condition, 0, len(conditions))
	for _, cond := range conditions {
		if loads[cond] == min {
			ties = append(ties, cond)
		}
	}
	if c.space.Policy() == PolicyZeroFirst || len(ties) == 1 {
		return ties[0]
	}
	return ties[c.intn(len(ties))]
}
