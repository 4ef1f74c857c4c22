package opt

import (
	"fmt"
	"math"
	"sync"
)

// BestTracker owns the best cost of a run and the snapshot that produced it.
//
// Parallel tempering may discard its best configuration to restart from
// scratch. The discarded best moves to a fallback slot, so Cost never
// increases over the lifetime of a run.
type BestTracker struct {
	mu    sync.RWMutex
	space ParameterSpace

	set  int
	cost float64 // best of the current segment

	fallbackSet  int
	fallbackCost float64 // best before the last Discard, +Inf if none
}

// NewBestTracker creates the "best" and "fallback" snapshots in space
func NewBestTracker(space ParameterSpace) *BestTracker {
	return &BestTracker{
		space:        space,
		set:          space.CreateSet("best"),
		cost:         math.Inf(1),
		fallbackSet:  space.CreateSet("best before restart"),
		fallbackCost: math.Inf(1),
	}
}

// ReportCost records the cost of the live configuration. If it beats the
// segment best, the live configuration is checkpointed under the same lock
// and true is returned.
func (t *BestTracker) ReportCost(cost float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !(cost < t.cost) {
		return false
	}
	if err := t.space.SaveSet(t.set); err != nil {
		return false
	}
	t.cost = cost
	return true
}

// Cost returns the best cost of the run, including a discarded best
func (t *BestTracker) Cost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return math.Min(t.cost, t.fallbackCost)
}

// SegmentCost returns the best cost since the last Discard
func (t *BestTracker) SegmentCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cost
}

// Snapshot returns the handle of the snapshot holding the best configuration
func (t *BestTracker) Snapshot() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.fallbackCost < t.cost {
		return t.fallbackSet
	}
	return t.set
}

// SegmentSnapshot returns the handle of the segment best snapshot
func (t *BestTracker) SegmentSnapshot() int {
	return t.set
}

// Restore makes the best configuration live
func (t *BestTracker) Restore() error {
	return t.space.RestoreSet(t.Snapshot())
}

// Values returns a copy of the best configuration values
func (t *BestTracker) Values() ([]float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if math.IsInf(t.cost, 1) && math.IsInf(t.fallbackCost, 1) {
		return nil, ErrNoBestConfiguration
	}
	id := t.set
	if t.fallbackCost < t.cost {
		id = t.fallbackSet
	}
	return t.space.SetValuesOf(id)
}

// Discard forgets the segment best, keeping it as fallback if it is the best
// seen so far. The live configuration is overwritten.
func (t *BestTracker) Discard() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cost < t.fallbackCost {
		if err := t.space.RestoreSet(t.set); err != nil {
			return fmt.Errorf("failed to restore best: %w", err)
		}
		if err := t.space.SaveSet(t.fallbackSet); err != nil {
			return fmt.Errorf("failed to save fallback: %w", err)
		}
		t.fallbackCost = t.cost
	}
	t.cost = math.Inf(1)
	return nil
}

// release erases the tracker snapshots
func (t *BestTracker) release() {
	t.space.EraseSet(t.set)
	t.space.EraseSet(t.fallbackSet)
}
