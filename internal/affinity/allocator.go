// Package affinity implements the process-wide CPU core allocator spec.md
// §4.3 and §5 describe: a short-held mutex guarding unique core assignment
// across decode workers, never held across I/O.
//
// Grounded in shape on the teacher's atomic-counter idioms
// (modules/stream-capture/internal/rtsp/reconnect.go's ReconnectState),
// adapted from retry counting to core-index assignment, and on pinning
// itself via golang.org/x/sys/unix's SchedSetaffinity — the same
// x/sys dependency already present (indirectly) in the pack's
// e1z0-QAnotherRTSP teacher-adjacent go.mod.
package affinity

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Allocator hands out unique logical CPU core indices to decode workers.
// It never hands out the first `reserved` cores; lifecycle.New reserves
// core 0 (the render thread and the OS scheduler's general-purpose work
// run there) so a decode worker is never pinned to the same core the
// display pipeline depends on.
type Allocator struct {
	mu        sync.Mutex
	next      int
	total     int
	reserved  int // number of low-indexed cores never handed out
}

// NewAllocator builds an Allocator over the process's available cores,
// reserving the first `reserved` of them (spec.md's example scenario E2
// reserves cores 0 and 1).
func NewAllocator(reserved int) *Allocator {
	total := runtime.NumCPU()
	if reserved > total {
		reserved = total
	}
	return &Allocator{next: reserved, total: total, reserved: reserved}
}

// Assign returns the next unclaimed logical core index. Assignment is
// guarded by a short mutex held only around the increment, never across
// pinning itself (per spec.md §5's shared-resource policy).
func (a *Allocator) Assign() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next >= a.total {
		return 0, fmt.Errorf("affinity: no unassigned core left (total=%d reserved=%d)", a.total, a.reserved)
	}
	core := a.next
	a.next++
	return core, nil
}

// PinCurrentThread pins the calling OS thread to the given logical core.
// The caller must have already called runtime.LockOSThread, since
// affinity is a per-OS-thread property and Go otherwise migrates
// goroutines freely between threads.
//
// Failure is non-fatal by contract (spec.md §4.3): callers log a warning
// and continue unpinned.
func PinCurrentThread(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: set affinity to core %d: %w", core, err)
	}
	return nil
}
