// Package render implements C6: the per-frame render loop that requests
// decodes, borrows frame slots, uploads textures, draws keystoned quads,
// and presents to VSync. It is grounded on the teacher's
// References/orion-prototipe/internal/core/orion.go Run(ctx) supervisory
// loop shape — a context-scoped loop with slog progress logging and a
// mutex-guarded running flag — generalized here from AI-worker frame
// fan-out to the borrow/upload/draw/present sequence of spec.md §4.5.
package render

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/kmsplay/internal/decode"
	"github.com/e7canasta/kmsplay/internal/framepool"
	"github.com/e7canasta/kmsplay/internal/gpu"
	"github.com/e7canasta/kmsplay/internal/input"
	"github.com/e7canasta/kmsplay/internal/metrics"
)

// ErrAllStreamsBroken is returned by Run when every stream's worker has
// reached a terminal decode state, per spec.md §7's "if all streams are
// broken, the process exits" contract.
var ErrAllStreamsBroken = errors.New("render: all streams broken")

// BrokenHook is invoked once per stream, the first time its worker is
// observed terminal, and reports whether every stream is now terminal.
// The lifecycle supervisor wires this to Engine.MarkBroken.
type BrokenHook func(streamID int) (allBroken bool)

// OverlayHook is the external post-video draw callback of spec.md §6.
// Errors are logged and skipped for that frame, never fatal, per §7's
// External error category.
type OverlayHook interface {
	Draw() error
}

// Presenter is the subset of internal/kms.Surface the loop drives,
// narrowed to an interface so it can be exercised with a fake in tests
// without a real DRM device.
type Presenter interface {
	Present() error
}

// GPUContext is the subset of internal/gpu.Context the loop drives.
type GPUContext interface {
	EnsureStream(streamID, width, height int)
	UploadPlanes(streamID int, slot *framepool.Slot)
	ClearFrame()
	DrawStream(streamID int, mat gpu.Mat3)
	SwapBuffers()
}

// StreamView bundles one stream's pool, worker, and keystone state — the
// per-stream inputs the render loop's iteration reads each frame.
type StreamView struct {
	ID       int
	Pool     *framepool.Pool
	Worker   *decode.Worker
	Keystone *gpu.Keystone
	Metric   *metrics.StreamMetrics

	held           bool // whether the previous iteration borrowed a slot at all
	reportedBroken bool // whether this stream's terminal state has been reported once
}

// Loop is the render thread's state, per spec.md §5: one render thread,
// unpinned, spending most of its time blocked on VSync.
type Loop struct {
	logger     *slog.Logger
	gpuCtx     GPUContext
	present    Presenter
	streams    []*StreamView
	overlay    OverlayHook
	input      input.Source
	metric     *metrics.RenderMetrics
	brokenHook BrokenHook

	mu               sync.RWMutex
	running          bool
	quit             bool
	allStreamsBroken bool

	waitReadyTimeout time.Duration
	vsyncPeriod      time.Duration
}

// New constructs a Loop over the given streams. overlay and inputSource
// may be nil (no post-video draw pass / no input polling). refreshHz is
// the display mode's vertical refresh rate (kms.Surface.RefreshHz); 0
// disables missed-VSync accounting (e.g. in tests with no real display).
func New(logger *slog.Logger, gpuCtx GPUContext, present Presenter, streams []*StreamView, overlay OverlayHook, inputSource input.Source, metric *metrics.RenderMetrics, refreshHz int) *Loop {
	var period time.Duration
	if refreshHz > 0 {
		period = time.Second / time.Duration(refreshHz)
	}
	return &Loop{
		logger:           logger,
		gpuCtx:           gpuCtx,
		present:          present,
		streams:          streams,
		overlay:          overlay,
		input:            inputSource,
		metric:           metric,
		waitReadyTimeout: 4 * time.Millisecond,
		vsyncPeriod:      period,
	}
}

// Run blocks, iterating frames until ctx is cancelled or Quit is called,
// matching the teacher's `<-ctx.Done()` exit shape generalized to a loop
// body that must itself run every iteration rather than idle.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	l.logger.Info("render loop starting", "streams", len(l.streams))

	for {
		if l.shouldQuit(ctx) {
			break
		}
		l.pollInput()
		l.iterate()
	}

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	if l.allStreamsBroken {
		l.logger.Error("render loop exiting: all streams broken")
		return ErrAllStreamsBroken
	}
	l.logger.Info("render loop exiting")
	return nil
}

func (l *Loop) shouldQuit(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quit
}

// SetBrokenHook installs the callback stepStream invokes the first time a
// stream's worker is observed terminal. Must be called before Run starts
// (the lifecycle supervisor calls it once, right after constructing the
// loop), since it is read without a lock on the render goroutine.
func (l *Loop) SetBrokenHook(hook BrokenHook) {
	l.brokenHook = hook
}

// Quit sets the atomic-like quit flag read between frames, per spec.md
// §4.8's "interrupt/terminate set a flag read by the render loop between
// frames" contract. Guarded by mu rather than a bare atomic.Bool because
// it shares the running flag's lock; the check happens only between
// frames, never inside a blocking call, so lock contention is not a
// pacing concern.
func (l *Loop) Quit() {
	l.mu.Lock()
	l.quit = true
	l.mu.Unlock()
}

func (l *Loop) pollInput() {
	if l.input == nil {
		return
	}
	ev, ok := l.input.Poll()
	if !ok {
		return
	}
	switch ev.Kind {
	case input.Quit:
		l.Quit()
	case input.ToggleOverlay:
		// Not acted on: the overlay hook, if set, is drawn every frame,
		// and the event is not passed to it. This core provides the draw
		// primitive and nothing more, per spec.md §9.
	case input.SelectCorner, input.NudgeCorner, input.ResetKeystone:
		l.applyKeystoneEvent(ev)
	}
}

func (l *Loop) applyKeystoneEvent(ev input.Event) {
	for _, s := range l.streams {
		if s.Keystone == nil {
			continue
		}
		switch ev.Kind {
		case input.NudgeCorner:
			s.Keystone.NudgeCorner(ev.Corner, ev.DX, ev.DY)
		case input.ResetKeystone:
			s.Keystone.Reset()
		}
	}
}

// iterate runs one full render pass over every stream, per spec.md §4.5:
// request/borrow/upload for each stream, then clear/draw/present once for
// the shared framebuffer.
func (l *Loop) iterate() {
	start := metrics.Now()

	for _, sv := range l.streams {
		l.stepStream(sv)
	}

	l.gpuCtx.ClearFrame()
	for _, sv := range l.streams {
		if sv.Keystone == nil {
			continue
		}
		l.gpuCtx.DrawStream(sv.ID, sv.Keystone.Matrix())
	}
	if l.overlay != nil {
		if err := l.overlay.Draw(); err != nil {
			l.logger.Warn("overlay hook failed, skipping this frame", "error", err)
		}
	}

	l.gpuCtx.SwapBuffers()
	if err := l.present.Present(); err != nil {
		l.logger.Error("present failed", "error", err)
	}

	elapsed := metrics.Now().Sub(start)
	l.metric.ObservePresentInterval(elapsed)
	if l.vsyncPeriod > 0 && elapsed > l.vsyncPeriod {
		l.metric.IncMissedVsync()
	}
	if l.logger.Enabled(context.Background(), slog.LevelDebug) {
		l.logger.Debug("frame presented", "elapsed_us", elapsed.Microseconds())
	}
}

// stepStream implements spec.md §4.5's three per-stream steps: signal the
// worker if it has a free slot to target, borrow the latest ready frame
// (or re-present the held one, counted as a repeat), and upload its
// planes.
func (l *Loop) stepStream(sv *StreamView) {
	if sv.Worker.Terminal() {
		if !sv.reportedBroken {
			sv.reportedBroken = true
			if l.brokenHook != nil && l.brokenHook(sv.ID) {
				l.allStreamsBroken = true
				l.Quit()
			}
		}
		return
	}
	if sv.Pool.HasFree() {
		sv.Worker.RequestNext()
	}

	slot := sv.Pool.BorrowLatest()
	if slot == nil {
		if !sv.held {
			// Nothing has ever been published yet; briefly wait for the
			// worker's first frame rather than drawing garbage.
			if terminal := sv.Worker.WaitReady(l.waitReadyTimeout); terminal {
				return
			}
			slot = sv.Pool.BorrowLatest()
			if slot == nil {
				return
			}
		} else {
			// Previous frame is still the most recent publish: re-present
			// it without a redundant texture upload, per spec.md §4.5 step
			// 2 ("counted as a repeat, not a drop").
			sv.Metric.IncRepeated()
			return
		}
	}

	sv.held = true
	sv.Metric.IncPresented()
	l.gpuCtx.EnsureStream(sv.ID, slot.Y.AllocWidth, slot.Y.AllocHeight)
	l.gpuCtx.UploadPlanes(sv.ID, slot)
}
