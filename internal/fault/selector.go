// Package fault holds the per-role fault catalogs, the exclusion
// policy that keeps management interfaces untouched, and the random
// selector that picks which misconfiguration a device receives.
package fault

import (
	"fmt"
	"math/rand"
)

// NoSafeFaultError means the exclusion policy emptied the candidate
// pool. The run fails closed instead of faulting a protected target.
type NoSafeFaultError struct {
	Label  string
	Reason string
}

func (e *NoSafeFaultError) Error() string {
	return fmt.Sprintf("%s: no safe fault candidate: %s", e.Label, e.Reason)
}

// Selector wraps the run's random source. The source is injected so
// tests can seed it and assert specific choices. Selection is uniform,
// never weighted.
type Selector struct {
	rng *rand.Rand
}

// NewSelector creates a selector over the given source.
func NewSelector(rng *rand.Rand) *Selector {
	return &Selector{rng: rng}
}

// NewSeededSelector is a convenience for deterministic tests.
func NewSeededSelector(seed int64) *Selector {
	return NewSelector(rand.New(rand.NewSource(seed))) //nolint:gosec // G404: intentional non-crypto randomness
}

// Choose picks one element uniformly at random. An empty pool fails
// closed with NoSafeFaultError.
func Choose[T any](s *Selector, label string, pool []T) (T, error) {
	var zero T
	if len(pool) == 0 {
		return zero, &NoSafeFaultError{Label: label, Reason: "candidate pool is empty"}
	}
	return pool[s.rng.Intn(len(pool))], nil
}

// Intn exposes the underlying source for catalog helpers that need
// random numbers (VLAN IDs, trunk sizes).
func (s *Selector) Intn(n int) int { return s.rng.Intn(n) }

// Float64 returns a uniform number in [0,1).
func (s *Selector) Float64() float64 { return s.rng.Float64() }

// Shuffle permutes a slice in place.
func (s *Selector) Shuffle(n int, swap func(i, j int)) { s.rng.Shuffle(n, swap) }
