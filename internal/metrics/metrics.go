// Package metrics implements C1: monotonic timing capture and rolling
// render/decode statistics, exposed to external pollers via a snapshot
// method.
//
// Grounded on the teacher's operational-stats pattern: an atomic-counter
// hot path plus a mutex-guarded Stats() snapshot
// (modules/framesupplier/internal/types.go's SupplierStats/WorkerStats,
// modules/stream-capture/types.go's StreamStats), generalized from
// per-worker/per-stream drop counters to per-stream frame/render/decode
// counters and a fixed-capacity ring of recent frame intervals.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ringCapacity bounds the rolling window used for percentile timing.
// spec.md §8's 600-frame VSync-pacing property needs at least that many
// samples; a slightly larger ring keeps recent history without growing
// once steady state is reached (no allocation after the first fill).
const ringCapacity = 1024

// ring is a fixed-capacity circular buffer of time.Duration samples. It
// never allocates once its backing array is created.
type ring struct {
	mu     sync.Mutex
	buf    [ringCapacity]time.Duration
	filled int
	next   int
}

func (r *ring) add(d time.Duration) {
	r.mu.Lock()
	r.buf[r.next] = d
	r.next = (r.next + 1) % ringCapacity
	if r.filled < ringCapacity {
		r.filled++
	}
	r.mu.Unlock()
}

// snapshot copies the currently filled samples out for percentile
// computation. The copy itself allocates, so callers must only invoke it
// off the render hot path (e.g. from an external polling goroutine).
func (r *ring) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, r.filled)
	copy(out, r.buf[:r.filled])
	return out
}

// StreamMetrics tracks per-stream counters (frame count, drops, repeats,
// hardware-fallback events) plus a rolling window of decode latencies.
type StreamMetrics struct {
	framesPresented  atomic.Uint64
	framesRepeated   atomic.Uint64
	framesDropped    atomic.Uint64
	hwFallbacks      atomic.Uint64
	decodeLatencies  ring
}

// IncPresented records one frame that reached present().
func (m *StreamMetrics) IncPresented() { m.framesPresented.Add(1) }

// IncRepeated records a re-presented (not dropped) frame, per spec.md
// §4.5's borrow_latest() "none" case.
func (m *StreamMetrics) IncRepeated() { m.framesRepeated.Add(1) }

// IncDropped records a frame the render loop could not present at all.
func (m *StreamMetrics) IncDropped() { m.framesDropped.Add(1) }

// IncHardwareFallback records one hardware→software decoder transition.
func (m *StreamMetrics) IncHardwareFallback() { m.hwFallbacks.Add(1) }

// ObserveDecodeLatency adds one decode-call duration to the rolling
// window.
func (m *StreamMetrics) ObserveDecodeLatency(d time.Duration) { m.decodeLatencies.add(d) }

// StreamSnapshot is a point-in-time copy of StreamMetrics' counters.
type StreamSnapshot struct {
	FramesPresented uint64
	FramesRepeated  uint64
	FramesDropped   uint64
	HardwareFallbacks uint64
	DecodeMeanMS    float64
	DecodeP99MS     float64
}

// Snapshot returns the current counter values and rolling percentile.
func (m *StreamMetrics) Snapshot() StreamSnapshot {
	samples := m.decodeLatencies.snapshot()
	mean, p99 := meanAndP99(samples)
	return StreamSnapshot{
		FramesPresented:   m.framesPresented.Load(),
		FramesRepeated:    m.framesRepeated.Load(),
		FramesDropped:     m.framesDropped.Load(),
		HardwareFallbacks: m.hwFallbacks.Load(),
		DecodeMeanMS:      mean,
		DecodeP99MS:       p99,
	}
}

// RenderMetrics tracks the render loop's own timing, independent of any
// one stream: the inter-present interval used by spec.md §8's VSync
// pacing property, and a count of missed VSyncs.
type RenderMetrics struct {
	missedVsyncs   atomic.Uint64
	presentIntervals ring
}

// ObservePresentInterval records the wall-clock gap between two
// successive present() returns.
func (r *RenderMetrics) ObservePresentInterval(d time.Duration) { r.presentIntervals.add(d) }

// IncMissedVsync records one frame interval that overshot the display
// period (spec.md §4.5 pacing note).
func (r *RenderMetrics) IncMissedVsync() { r.missedVsyncs.Add(1) }

// RenderSnapshot is a point-in-time copy of RenderMetrics.
type RenderSnapshot struct {
	MissedVsyncs      uint64
	IntervalMeanMS    float64
	IntervalP99MS     float64
}

// Snapshot returns the current render timing snapshot.
func (r *RenderMetrics) Snapshot() RenderSnapshot {
	samples := r.presentIntervals.snapshot()
	mean, p99 := meanAndP99(samples)
	return RenderSnapshot{
		MissedVsyncs:   r.missedVsyncs.Load(),
		IntervalMeanMS: mean,
		IntervalP99MS:  p99,
	}
}

// meanAndP99 returns the mean and 99th-percentile of samples in
// milliseconds. It sorts a private copy; callers already hold one from
// ring.snapshot.
func meanAndP99(samples []time.Duration) (mean, p99 float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}
	mean = float64(sum) / float64(len(sorted)) / float64(time.Millisecond)

	idx := int(math.Ceil(0.99*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p99 = float64(sorted[idx]) / float64(time.Millisecond)
	return mean, p99
}

// Now returns a monotonic timestamp suitable for interval measurement
// (spec.md's "monotonic timestamps"). time.Now already draws from the
// runtime's monotonic clock reading on Linux; this wrapper exists only so
// call sites read as engine vocabulary rather than a bare stdlib call.
func Now() time.Time { return time.Now() }
