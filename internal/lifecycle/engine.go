// Package lifecycle implements C9: signal handling, ordered teardown, and
// crash-safe terminal/CRTC restoration. It is grounded on the teacher's
// Orion.Run/Shutdown ordering
// (References/orion-prototipe/internal/core/orion.go) — a numbered
// shutdown sequence logged step by step, waited on with a sync.WaitGroup —
// generalized from AI-worker teardown to spec.md §4.8's
// workers->decoders->pools->GPU->display->logs order, plus the
// reconnect/backoff atomic-counter idiom of
// modules/stream-capture/internal/rtsp/reconnect.go adapted to per-stream
// broken/ok tracking instead of network reconnection.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/e7canasta/kmsplay/internal/affinity"
	"github.com/e7canasta/kmsplay/internal/config"
	"github.com/e7canasta/kmsplay/internal/decode"
	"github.com/e7canasta/kmsplay/internal/errs"
	"github.com/e7canasta/kmsplay/internal/framepool"
	"github.com/e7canasta/kmsplay/internal/gpu"
	"github.com/e7canasta/kmsplay/internal/input"
	"github.com/e7canasta/kmsplay/internal/kms"
	"github.com/e7canasta/kmsplay/internal/metrics"
	"github.com/e7canasta/kmsplay/internal/render"
)

// workerGracePeriod bounds how long shutdown waits for a worker that may
// be blocked inside the codec library, per spec.md §4.3's cancellation
// contract: "the shutdown path therefore gives each worker a bounded
// grace period and then proceeds without it."
const workerGracePeriod = 500 * time.Millisecond

// waitForWorkersWithGracePeriod waits for all worker goroutines to return,
// or gives up after timeout — a worker still blocked in the underlying
// codec call at that point is leaked to the OS on process exit, per
// spec.md §4.3.
func (e *Engine) waitForWorkersWithGracePeriod(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		e.shutdownWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn("shutdown: worker grace period elapsed, proceeding without full drain")
	}
}

// StreamRuntime bundles one stream's live components — everything the
// teardown sequence must stop in order for that stream.
type StreamRuntime struct {
	ID       int
	Stream   *decode.Stream
	Pool     *framepool.Pool
	Worker   *decode.Worker
	Keystone *gpu.Keystone
	Metric   *metrics.StreamMetrics

	// Broken is set once a stream's worker reaches a terminal state (end
	// of stream or decode-fatal); once every stream is broken, the process
	// exits.
	Broken atomic.Bool
}

// Engine is the single top-level owner spec.md §9 calls for: the loaded
// configuration, the logger, the metrics registry, the core allocator,
// the display surface, the GPU context, and the set of streams. Nothing
// else in the process holds global mutable state — the quit flag remains
// an atomic because it is read from signal context, per spec.md §9.
type Engine struct {
	SessionID string

	cfg    *config.Config
	logger *slog.Logger

	allocator *affinity.Allocator
	renderMet *metrics.RenderMetrics

	surface *kms.Surface
	gpuCtx  *gpu.Context
	loop    *render.Loop

	streams []*StreamRuntime

	// memoryUsedBytes tracks the running sum of pool allocations across
	// every stream added so far, enforcing spec.md §6's memory_limit_mb
	// ceiling across the whole engine rather than per pool.
	memoryUsedBytes int

	quit atomic.Bool

	termState    *term.State
	restoreOnce  sync.Once
	signalCancel context.CancelFunc

	shutdownWG sync.WaitGroup
}

// New constructs an Engine from a validated configuration and logger.
// SessionID is a random correlation ID logged with every message this
// run produces, mirroring the teacher's instance_id/room_id log fields
// (References/orion-prototipe/internal/core/orion.go).
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		SessionID: uuid.NewString(),
		cfg:       cfg,
		logger:    logger,
		allocator: affinity.NewAllocator(1), // reserve core 0 for the render/main thread
		renderMet: &metrics.RenderMetrics{},
	}
}

// AcquireDisplay opens the KMS surface and GPU context. It does not depend
// on AddStream; cmd/kmsplayd calls it after every stream has opened. It
// must be called before Run.
func (e *Engine) AcquireDisplay(devicePath string) error {
	surface, err := kms.Open(e.logger, devicePath)
	if err != nil {
		return fmt.Errorf("lifecycle: display acquisition failed: %w", err)
	}
	e.surface = surface

	gpuCtx, err := gpu.New(e.logger, surface.NativeDisplay(), surface.NativeWindow())
	if err != nil {
		surface.Close()
		return fmt.Errorf("lifecycle: gpu context failed: %w", err)
	}
	e.gpuCtx = gpuCtx
	return nil
}

// AddStream opens a decoder for source and wires its pool/worker/keystone,
// per spec.md §3's per-stream ownership shape.
func (e *Engine) AddStream(id int, source string) (*StreamRuntime, error) {
	openCfg := decode.OpenConfig{
		PreferHardware:    e.cfg.PreferHardware,
		MaxDecodeAttempts: e.cfg.MaxDecodeAttempts,
		MaxWidth:          e.cfg.MaxVideoWidth,
		MaxHeight:         e.cfg.MaxVideoHeight,
		FirstFrameTimeout: e.cfg.DecodeTimeout(),
	}
	stream, err := decode.Open(source, openCfg)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open stream %d (%s): %w", id, source, err)
	}

	budgetBytes := e.cfg.MemoryLimitMB * 1024 * 1024
	remaining := budgetBytes - e.memoryUsedBytes
	if budgetBytes > 0 && remaining <= 0 {
		stream.Close()
		return nil, fmt.Errorf("lifecycle: allocate pool for stream %d: %w", id,
			errs.New(errs.CategoryResource, "memory_limit_mb budget of %d MB already exhausted", e.cfg.MemoryLimitMB))
	}
	pool, err := framepool.NewPool(framepool.MinSlots, stream.Width, stream.Height, remaining)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("lifecycle: allocate pool for stream %d: %w", id, err)
	}
	e.memoryUsedBytes += framepool.EstimatedBytes(framepool.MinSlots, stream.Width, stream.Height)

	metric := &metrics.StreamMetrics{}
	worker := decode.NewWorker(stream, pool, metric, e.logger)
	keystone := gpu.NewKeystone(e.cfg.KeystoneInitial)

	sr := &StreamRuntime{ID: id, Stream: stream, Pool: pool, Worker: worker, Keystone: keystone, Metric: metric}
	e.streams = append(e.streams, sr)

	e.shutdownWG.Add(1)
	go func() {
		defer e.shutdownWG.Done()
		worker.Run(e.allocator)
	}()

	return sr, nil
}

// Run installs signal handlers, builds the render loop, and blocks until
// quit — mirroring the teacher's Run(ctx)/`<-ctx.Done()` shape.
func (e *Engine) Run(ctx context.Context, overlay render.OverlayHook, inputSource input.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	e.signalCancel = cancel
	defer cancel()

	e.installSignalHandlers(cancel)
	e.captureTerminalState()

	views := make([]*render.StreamView, len(e.streams))
	for i, sr := range e.streams {
		views[i] = &render.StreamView{ID: sr.ID, Pool: sr.Pool, Worker: sr.Worker, Keystone: sr.Keystone, Metric: sr.Metric}
	}

	e.loop = render.New(e.logger, e.gpuCtx, e.surface, views, overlay, inputSource, e.renderMet, e.surface.RefreshHz())
	e.loop.SetBrokenHook(e.MarkBroken)

	e.logger.Info("engine running", "session_id", e.SessionID, "streams", len(e.streams))
	err := e.loop.Run(ctx)

	e.Shutdown()
	return err
}

// RequestQuit sets the atomic quit flag read by the render loop between
// frames, per spec.md §4.8. Safe to call from a signal handler.
func (e *Engine) RequestQuit() {
	e.quit.Store(true)
	if e.loop != nil {
		e.loop.Quit()
	}
	if e.signalCancel != nil {
		e.signalCancel()
	}
}

// installSignalHandlers wires SIGINT/SIGTERM to the ordinary quit path and
// SIGSEGV/SIGBUS/SIGABRT to the minimal crash-restore path, per spec.md
// §4.8. Catching synchronous fatal signals through signal.Notify is
// supported by the Go runtime specifically for this restore-then-reraise
// pattern (see os/signal's documented behavior for SIGSEGV/SIGBUS/SIGABRT
// arising outside the Go runtime itself).
func (e *Engine) installSignalHandlers(cancel context.CancelFunc) {
	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quitCh
		e.logger.Info("signal received, quitting", "signal", sig.String())
		e.RequestQuit()
	}()

	crashCh := make(chan os.Signal, 1)
	signal.Notify(crashCh, syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGABRT)
	go func() {
		sig := <-crashCh
		e.crashRestore(sig.(syscall.Signal))
	}()
}

// crashRestore implements spec.md §4.8's "minimal async-signal-safe
// handler": restore the terminal to cooked mode and issue a CRTC restore
// from the saved snapshot, then re-raise the default handler. It must not
// allocate on the hot path where avoidable (slog is skipped here in favor
// of a single write to stderr) and must run exactly once, guarded by
// restoreOnce.
func (e *Engine) crashRestore(sig syscall.Signal) {
	e.restoreOnce.Do(func() {
		os.Stderr.WriteString("kmsplay: fatal signal, restoring display and terminal\n")
		e.restoreTerminal()
		if e.surface != nil {
			e.surface.Restore()
		}
	})
	signal.Reset(sig)
	syscall.Kill(syscall.Getpid(), sig)
}

func (e *Engine) captureTerminalState() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	state, err := term.GetState(fd)
	if err != nil {
		e.logger.Warn("lifecycle: could not capture terminal state", "error", err)
		return
	}
	e.termState = state
}

func (e *Engine) restoreTerminal() {
	if e.termState == nil {
		return
	}
	term.Restore(int(os.Stdin.Fd()), e.termState)
}

// Shutdown performs the ordered teardown of spec.md §4.8: stop workers,
// close decoders, free pools (the pool has no explicit close — it is
// garbage once its worker stops referencing it), destroy the GPU context,
// release the display, then let the caller close logs. Idempotent via
// restoreOnce for the display-restore step.
func (e *Engine) Shutdown() {
	e.logger.Info("shutdown: stopping workers")
	for _, sr := range e.streams {
		sr.Worker.Stop()
	}
	e.waitForWorkersWithGracePeriod(workerGracePeriod)

	e.logger.Info("shutdown: closing decoders")
	for _, sr := range e.streams {
		sr.Stream.Close()
	}

	e.logger.Info("shutdown: destroying gpu context")
	if e.gpuCtx != nil {
		e.gpuCtx.Close()
	}

	e.logger.Info("shutdown: releasing display")
	e.restoreOnce.Do(func() {
		if e.surface != nil {
			e.surface.Restore()
			e.surface.Close()
		}
		e.restoreTerminal()
	})

	e.logger.Info("shutdown complete")
}

// MarkBroken records a stream's transition to a terminal state (end of
// stream or decode-fatal) and reports whether every stream is now broken, in
// which case the caller should quit the process.
func (e *Engine) MarkBroken(id int) (allBroken bool) {
	for _, sr := range e.streams {
		if sr.ID == id {
			sr.Broken.Store(true)
		}
	}
	for _, sr := range e.streams {
		if !sr.Broken.Load() {
			return false
		}
	}
	return true
}
