package binmerge

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/oberien/binmerge/binmerge_errors"
)

// MergeDecision is the operator's resolution for one region. KeepAsIs
// is an explicit "leave the left file's bytes" marker, distinct from
// never having decided.
type MergeDecision byte

const (
	Unresolved MergeDecision = iota
	TakeLeft
	TakeRight
	KeepAsIs
)

func (d MergeDecision) String() string {
	switch d {
	case Unresolved:
		return "undecided"
	case TakeLeft:
		return "take-left"
	case TakeRight:
		return "take-right"
	case KeepAsIs:
		return "keep-as-is"
	default:
		return fmt.Sprintf("MergeDecision(%d)", byte(d))
	}
}

// DecisionTracker holds per-region merge decisions, keyed by region
// index in the store. Pure state: it knows nothing about file bytes.
// Written by the operator-facing side, read by the applier.
type DecisionTracker struct {
	store   *RegionStore
	m       *xsync.MapOf[int, MergeDecision]
	journal *Journal // optional write-through
}

func NewDecisionTracker(store *RegionStore) *DecisionTracker {
	return &DecisionTracker{
		store: store,
		m:     xsync.NewMapOf[int, MergeDecision](),
	}
}

// Set records the decision for region i. The index must refer to a
// region already present in the store.
func (t *DecisionTracker) Set(i int, d MergeDecision) error {
	if i < 0 || i >= t.store.Len() {
		return fmt.Errorf("%w: index %d, have %d", binmerge_errors.ErrUnknownRegion, i, t.store.Len())
	}
	if d > KeepAsIs {
		return fmt.Errorf("bad merge decision %d", byte(d))
	}
	// journal first: a failed write must not leave memory and journal
	// disagreeing about the decision
	if t.journal != nil {
		if err := t.journal.Put(t.store.Get(i), d); err != nil {
			return err
		}
	}
	t.restore(i, d)
	return nil
}

// restore applies a decision without touching the journal.
func (t *DecisionTracker) restore(i int, d MergeDecision) {
	if d == Unresolved {
		t.m.Delete(i)
	} else {
		t.m.Store(i, d)
	}
}

// Get returns the decision for region i, Unresolved if none was made.
func (t *DecisionTracker) Get(i int) MergeDecision {
	d, _ := t.m.Load(i)
	return d
}

// FirstUnresolved reports the lowest undecided region index over the
// prefix appended so far.
func (t *DecisionTracker) FirstUnresolved() (int, bool) {
	for i, n := 0, t.store.Len(); i < n; i++ {
		if t.Get(i) == Unresolved {
			return i, true
		}
	}
	return 0, false
}

// Resolved counts decided regions over the prefix appended so far.
func (t *DecisionTracker) Resolved() int {
	n := 0
	for i, l := 0, t.store.Len(); i < l; i++ {
		if t.Get(i) != Unresolved {
			n++
		}
	}
	return n
}
