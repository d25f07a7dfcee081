package render

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/e7canasta/kmsplay/internal/affinity"
	"github.com/e7canasta/kmsplay/internal/decode"
	"github.com/e7canasta/kmsplay/internal/framepool"
	"github.com/e7canasta/kmsplay/internal/gpu"
	"github.com/e7canasta/kmsplay/internal/metrics"
)

type fakeAlwaysOKSource struct{}

func (fakeAlwaysOKSource) NextFrame(slot *framepool.Slot) (decode.Result, error) {
	slot.Y.ValidWidth, slot.Y.ValidHeight = 4, 4
	return decode.ResultOK, nil
}

func (fakeAlwaysOKSource) Dimensions() (int, int) { return 0, 0 }

func (fakeAlwaysOKSource) UsingHardware() bool { return false }

type fakeEOFSource struct{}

func (fakeEOFSource) NextFrame(slot *framepool.Slot) (decode.Result, error) {
	return decode.ResultEOF, nil
}

func (fakeEOFSource) Dimensions() (int, int) { return 0, 0 }

func (fakeEOFSource) UsingHardware() bool { return false }

type fakeGPU struct {
	uploads int
	draws   int
}

func (f *fakeGPU) EnsureStream(streamID, width, height int) {}
func (f *fakeGPU) UploadPlanes(streamID int, slot *framepool.Slot) { f.uploads++ }
func (f *fakeGPU) ClearFrame() {}
func (f *fakeGPU) DrawStream(streamID int, mat gpu.Mat3) { f.draws++ }
func (f *fakeGPU) SwapBuffers() {}

type fakePresenter struct{ presents int }

func (f *fakePresenter) Present() error {
	f.presents++
	return nil
}

type fakeSlowPresenter struct{ delay time.Duration }

func (f *fakeSlowPresenter) Present() error {
	time.Sleep(f.delay)
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestStreamView(t *testing.T, id int) *StreamView {
	t.Helper()
	pool, err := framepool.NewPool(2, 64, 64, 0)
	if err != nil {
		t.Fatal(err)
	}
	m := &metrics.StreamMetrics{}
	w := decode.NewWorker(fakeAlwaysOKSource{}, pool, m, testLogger())
	alloc := affinity.NewAllocator(0)
	go w.Run(alloc)
	t.Cleanup(w.Stop)

	return &StreamView{ID: id, Pool: pool, Worker: w, Metric: m}
}

func TestLoopPresentsFramesUntilQuit(t *testing.T) {
	sv := newTestStreamView(t, 0)
	fg := &fakeGPU{}
	fp := &fakePresenter{}
	rm := &metrics.RenderMetrics{}

	l := New(testLogger(), fg, fp, []*StreamView{sv}, nil, nil, rm, 0)
	l.waitReadyTimeout = 200 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	// Run for a short window then quit.
	time.Sleep(100 * time.Millisecond)
	l.Quit()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to exit after Quit")
	}

	if fp.presents == 0 {
		t.Fatal("expected at least one present() call")
	}
	snap := sv.Metric.Snapshot()
	if snap.FramesPresented == 0 {
		t.Fatal("expected at least one presented frame recorded")
	}
}

func TestLoopReportsAllStreamsBrokenAndExits(t *testing.T) {
	pool, err := framepool.NewPool(2, 64, 64, 0)
	if err != nil {
		t.Fatal(err)
	}
	m := &metrics.StreamMetrics{}
	w := decode.NewWorker(fakeEOFSource{}, pool, m, testLogger())
	alloc := affinity.NewAllocator(0)
	go w.Run(alloc)
	t.Cleanup(w.Stop)

	sv := &StreamView{ID: 7, Pool: pool, Worker: w, Metric: m}
	fg := &fakeGPU{}
	fp := &fakePresenter{}
	rm := &metrics.RenderMetrics{}

	l := New(testLogger(), fg, fp, []*StreamView{sv}, nil, nil, rm, 0)
	l.waitReadyTimeout = 50 * time.Millisecond

	var reportedID int
	var hookCalls int
	l.SetBrokenHook(func(streamID int) bool {
		hookCalls++
		reportedID = streamID
		return true
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != ErrAllStreamsBroken {
			t.Fatalf("expected ErrAllStreamsBroken, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to exit once the only stream goes terminal")
	}

	if hookCalls != 1 {
		t.Fatalf("expected the broken hook to fire exactly once, got %d", hookCalls)
	}
	if reportedID != 7 {
		t.Fatalf("expected broken hook to report stream 7, got %d", reportedID)
	}
}

func TestLoopRecordsMissedVsync(t *testing.T) {
	sv := newTestStreamView(t, 0)
	fg := &fakeGPU{}
	fp := &fakeSlowPresenter{delay: 20 * time.Millisecond}
	rm := &metrics.RenderMetrics{}

	// 1000Hz gives a ~1ms period, comfortably shorter than the
	// presenter's artificial 20ms delay, so every frame overshoots.
	l := New(testLogger(), fg, fp, []*StreamView{sv}, nil, nil, rm, 1000)
	l.waitReadyTimeout = 200 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	time.Sleep(60 * time.Millisecond)
	l.Quit()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to exit after Quit")
	}

	if rm.Snapshot().MissedVsyncs == 0 {
		t.Fatal("expected at least one missed vsync to be recorded")
	}
}

func TestLoopExitsOnContextCancel(t *testing.T) {
	sv := newTestStreamView(t, 0)
	fg := &fakeGPU{}
	fp := &fakePresenter{}
	rm := &metrics.RenderMetrics{}

	ctx, cancel := context.WithCancel(context.Background())
	l := New(testLogger(), fg, fp, []*StreamView{sv}, nil, nil, rm, 0)
	l.waitReadyTimeout = 200 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to exit after context cancellation")
	}
}
