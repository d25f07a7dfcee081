// Package decode implements C4 (the FFmpeg-backed decoder) and C5 (the
// per-stream async decode worker).
//
// The decoder wraps github.com/asticode/go-astiav, the same real cgo
// FFmpeg binding the pack's e1z0-QAnotherRTSP repo depends on for its
// SendPacket/ReceiveFrame decode loop and hwaccel option string
// (src/video.go). The worker is grounded directly on the teacher's
// request/ready condition-variable mailbox
// (modules/framesupplier/internal/worker_slot.go), generalized from a
// single-slot overwrite mailbox to the pool's owner-tracked slot handoff
// of internal/framepool.
package decode

import "fmt"

// State is the decoder state machine of spec.md §4.4.
type State int

const (
	StateOpening State = iota
	StateDraining
	StatePlaying
	StateEnded
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateDraining:
		return "draining"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Result is the outcome of one NextFrame call, per spec.md §4.2.
type Result int

const (
	ResultOK Result = iota
	ResultRetry
	ResultEOF
	ResultFatal
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultRetry:
		return "retry"
	case ResultEOF:
		return "eof"
	case ResultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// transition applies one edge of the diagram in spec.md §4.4. It panics on
// a transition the diagram does not allow, which would indicate a bug in
// the decoder rather than a runtime condition — callers only ever pass
// results this package itself produced.
func transition(from State, result Result) State {
	switch from {
	case StateOpening:
		// open_ok / open_fail are modeled by the caller of Open, not here.
		return StateDraining
	case StateDraining, StatePlaying:
		switch result {
		case ResultOK:
			return StatePlaying
		case ResultRetry:
			return StatePlaying
		case ResultEOF:
			return StateEnded
		case ResultFatal:
			return StateBroken
		}
	case StateEnded, StateBroken:
		return from
	}
	panic(fmt.Sprintf("decode: illegal transition from %s on %s", from, result))
}
