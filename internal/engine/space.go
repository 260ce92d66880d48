// Package engine implements the assignment engine: it picks an experimental
// condition for each new participant, recognizes returning participants,
// reclaims slots abandoned mid-session, and keeps total load balanced across
// conditions under concurrent requests.
package engine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/perceptionlab/assignd/internal/store"
)

// Policy selects how a condition is chosen for a new participant.
type Policy string

const (
	// PolicyBalanced picks the condition with minimum load, breaking ties
	// uniformly at random. Used for small discrete group sets, where always
	// favoring the lowest-indexed group would bias frequent symmetric choices.
	PolicyBalanced Policy = "balanced"

	// PolicyZeroFirst prefers any condition that has never been touched,
	// lowest index first, and only falls back to load balancing once every
	// condition has been used. Used for repetition ranges, where each slot
	// should be covered once before any is repeated.
	PolicyZeroFirst Policy = "zero-first"
)

// Space is the enumerable set of conditions a participant can be assigned to,
// together with the selection policy appropriate for its shape.
type Space struct {
	policy     Policy
	conditions []store.Condition
	index      map[store.Condition]int
}

// NewGroupSpace builds a discrete-group space over the given labels,
// balanced by total load with random tie-breaking.
func NewGroupSpace(labels []string) (*Space, error) {
	if len(labels) == 0 {
		return nil, errors.New("group space requires at least one label")
	}
	conditions := make([]store.Condition, 0, len(labels))
	index := make(map[store.Condition]int, len(labels))
	for i, l := range labels {
		c := store.Condition(l)
		if c == "" {
			return nil, fmt.Errorf("group label %d is empty", i)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate group label %q", l)
		}
		index[c] = len(conditions)
		conditions = append(conditions, c)
	}
	return &Space{policy: PolicyBalanced, conditions: conditions, index: index}, nil
}

// NewRepetitionSpace builds a zero-first space over repetition slots "1".."n".
func NewRepetitionSpace(n int) (*Space, error) {
	if n < 1 {
		return nil, fmt.Errorf("repetition space requires at least one slot, got %d", n)
	}
	conditions := make([]store.Condition, 0, n)
	index := make(map[store.Condition]int, n)
	for i := 1; i <= n; i++ {
		c := store.Condition(strconv.Itoa(i))
		index[c] = len(conditions)
		conditions = append(conditions, c)
	}
	return &Space{policy: PolicyZeroFirst, conditions: conditions, index: index}, nil
}

// Policy returns the selection policy for this space.
func (s *Space) Policy() Policy { return s.policy }

// Conditions returns the conditions in their defined order.
// Callers must not modify the returned slice.
func (s *Space) Conditions() []store.Condition { return s.conditions }

// Contains reports whether c is a condition of this space.
func (s *Space) Contains(c store.Condition) bool {
	_, ok := s.index[c]
	return ok
}

// Size returns the number of conditions in the space.
func (s *Space) Size() int { return len(s.conditions) }
