package decode

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/e7canasta/kmsplay/internal/affinity"
	"github.com/e7canasta/kmsplay/internal/framepool"
	"github.com/e7canasta/kmsplay/internal/metrics"
)

// workerState mirrors spec.md §4.3's four worker states.
type workerState int

const (
	workerIdle workerState = iota
	workerDecoding
	workerFrameReady
	workerExiting
)

// frameSource is the subset of *Stream a Worker drives. Expressed as an
// interface so tests can substitute a fake decoder without linking
// FFmpeg; *Stream satisfies it.
type frameSource interface {
	NextFrame(*framepool.Slot) (Result, error)

	// Dimensions returns the width/height of the most recently decoded
	// frame; before the first frame, *Stream reports the size it was
	// opened with.
	Dimensions() (width, height int)

	// UsingHardware reports whether the stream is currently decoding on
	// the hardware path; the worker polls it around each attempt to
	// detect a hardware->software fallback and record it.
	UsingHardware() bool
}

// Worker is C5: one async decode worker per stream, core-pinned, driving
// a Stream on demand from the render loop.
//
// The request/ready dual condition-variable protocol is a direct
// generalization of the teacher's single-condvar mailbox
// (modules/framesupplier/internal/worker_slot.go's WorkerSlot): where the
// teacher signals one cond on publish and blocks the consumer on the same
// cond, spec.md §4.3 asks for two named signals (request from the
// renderer, ready from the worker) so the renderer can distinguish
// "please decode" from "frame available" — this Worker keeps the
// teacher's single mutex but adds the second sync.Cond over the same
// lock, which is the idiomatic way to model two independent wait
// predicates guarded by one mutex in Go.
type Worker struct {
	mu      sync.Mutex
	request *sync.Cond
	ready   *sync.Cond

	stream frameSource
	pool   *framepool.Pool
	metric *metrics.StreamMetrics
	logger *slog.Logger

	state     workerState
	terminal  bool // set on eof/fatal; renderer observes via WaitReady
	requested bool

	exiting bool
}

// NewWorker constructs a Worker over an already-open Stream and its pool.
func NewWorker(stream frameSource, pool *framepool.Pool, metric *metrics.StreamMetrics, logger *slog.Logger) *Worker {
	w := &Worker{stream: stream, pool: pool, metric: metric, logger: logger, state: workerIdle}
	w.request = sync.NewCond(&w.mu)
	w.ready = sync.NewCond(&w.mu)
	return w
}

// Run is the worker's goroutine body. It pins the OS thread to a
// dedicated logical core (spec.md §4.3), then loops: wait for a request,
// decode one frame, publish it, signal ready.
//
// Because CPU affinity is a per-OS-thread property, Run locks the calling
// goroutine to its OS thread for its entire lifetime — the same
// runtime.LockOSThread discipline any Go program doing raw affinity work
// must use, since the Go scheduler otherwise migrates goroutines between
// threads freely.
func (w *Worker) Run(alloc *affinity.Allocator) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if core, err := alloc.Assign(); err != nil {
		w.logger.Warn("decode worker: no core available, running unpinned", "error", err)
	} else if err := affinity.PinCurrentThread(core); err != nil {
		w.logger.Warn("decode worker: pin failed, running unpinned", "core", core, "error", err)
	} else {
		w.logger.Info("decode worker: pinned", "core", core)
	}

	for {
		w.mu.Lock()
		for !w.requested && !w.exiting {
			w.request.Wait()
		}
		if w.exiting {
			w.mu.Unlock()
			return
		}
		w.requested = false
		w.state = workerDecoding
		w.mu.Unlock()

		w.decodeOnce()
	}
}

// decodeOnce acquires one free slot and calls Stream.NextFrame into it in
// a loop until it gets something other than ResultRetry, then publishes
// on success. The same slot is reused across retries — spec.md §4.3 asks
// the worker to "loop immediately without signalling" on retry, not to
// re-acquire; re-acquiring a fresh slot per retry would silently exhaust
// the pool.
func (w *Worker) decodeOnce() {
	slot := w.pool.AcquireFree()
	if slot == nil {
		// Renderer has not released a slot yet; back off to the wait loop
		// rather than busy-spin — the renderer will signal request again
		// once it releases one.
		w.finishAttempt(false, false)
		return
	}

	for {
		wasHardware := w.stream.UsingHardware()
		start := metrics.Now()
		result, err := w.stream.NextFrame(slot)
		w.metric.ObserveDecodeLatency(metrics.Now().Sub(start))
		if wasHardware && !w.stream.UsingHardware() {
			w.metric.IncHardwareFallback()
		}

		switch result {
		case ResultOK:
			w.pool.Publish(slot)
			w.finishAttempt(true, false)
			return
		case ResultRetry:
			// Loop immediately without signalling, per spec.md §4.3. The
			// one exception to reusing the same slot across retries: a
			// detected resolution change (spec.md §3/§4.1) must free and
			// reallocate the whole pool, so the stale slot cannot be
			// reused and a fresh one is acquired from the new generation.
			if fw, fh := w.stream.Dimensions(); w.pool.NeedsReallocation(fw, fh) {
				w.pool.Abandon(slot)
				w.pool.Reallocate(fw, fh)
				w.logger.Info("decode worker: pool reallocated for resolution change", "width", fw, "height", fh)
				slot = w.pool.AcquireFree()
				if slot == nil {
					w.finishAttempt(false, false)
					return
				}
			}
			continue
		case ResultEOF:
			w.pool.Abandon(slot)
			w.logger.Info("decode worker: end of stream")
			w.finishAttempt(false, true)
			return
		case ResultFatal:
			w.pool.Abandon(slot)
			w.logger.Error("decode worker: fatal decode error", "error", err)
			w.finishAttempt(false, true)
			return
		}
	}
}

// finishAttempt transitions back to idle/frame-ready and signals ready if
// the renderer needs to observe a terminal condition or a completed
// decode.
func (w *Worker) finishAttempt(published, terminal bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if terminal {
		w.terminal = true
		w.state = workerExiting
		w.ready.Signal()
		return
	}
	if published {
		w.state = workerFrameReady
		w.ready.Signal()
		return
	}
	w.state = workerIdle
}

// RequestNext signals the worker to begin decoding the next frame, per
// spec.md §4.5 step 1. It is a no-op if a request is already outstanding.
func (w *Worker) RequestNext() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.exiting {
		return
	}
	w.requested = true
	w.request.Signal()
}

// WaitReady blocks until the worker signals ready or the deadline
// elapses, returning whether the stream has reached a terminal state
// (eof/fatal). It is used by the render loop's brief wait when the next
// slot is not yet ready (spec.md §5's suspension-point list).
func (w *Worker) WaitReady(timeout time.Duration) (terminal bool) {
	deadline := metrics.Now().Add(timeout)

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.state != workerFrameReady && !w.terminal {
		remaining := deadline.Sub(metrics.Now())
		if remaining <= 0 {
			return w.terminal
		}
		waitWithTimeout(w.ready, &w.mu, remaining)
	}
	if w.state == workerFrameReady {
		w.state = workerIdle
	}
	return w.terminal
}

// Terminal reports whether the worker has reached eof or fatal.
func (w *Worker) Terminal() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminal
}

// Stop implements spec.md §4.3's cancellation contract: setting exiting
// and signalling request causes Run to return from any wait. A worker
// blocked inside the codec call observes this only at the next yield;
// Stop itself does not block waiting for that — the caller (the
// supervisor) applies its own bounded grace period, per spec.md §4.3 and
// §4.8.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.exiting = true
	w.mu.Unlock()
	w.request.Broadcast()
	w.ready.Broadcast()
}

// waitWithTimeout runs cond.Wait but gives up after timeout, by racing a
// timer goroutine that broadcasts the condition. The stdlib's sync.Cond
// has no native timeout support; a timer that calls Broadcast is the
// standard way to bound a Cond.Wait call. mu must already be held by the
// caller, matching Cond.Wait's own contract.
func waitWithTimeout(cond *sync.Cond, mu *sync.Mutex, timeout time.Duration) {
	timer := time.AfterFunc(timeout, cond.Broadcast)
	defer timer.Stop()
	cond.Wait()
}
