package framepool

import "time"

// state is a slot's ownership state, per spec.md §3's invariant: exactly
// one owner at any moment.
type state int

const (
	stateFree state = iota
	stateDecoding
	stateReady
	stateHeldByRenderer
)

// Slot is an owned triple (Y, U, V) of byte planes plus the metadata
// spec.md §3 attaches to a frame slot: presentation timestamp and a ready
// flag (folded into state == stateReady here rather than a separate
// bool, since the two never diverge).
type Slot struct {
	Y, U, V Plane

	PTS time.Duration

	state state
	// seq orders publish() calls so borrow_latest() can tell "the
	// previously borrowed slot is still the most recent" from "a newer
	// slot has since been published", per spec.md §4.1's contract.
	seq uint64
}

// Dims exposes the valid Y-plane dimensions, the ones spec.md §8's
// dimension-bound property checks against AllocWidth/AllocHeight.
func (s *Slot) Dims() (width, height int) {
	return s.Y.ValidWidth, s.Y.ValidHeight
}
