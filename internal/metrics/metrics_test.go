package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamMetricsCounters(t *testing.T) {
	m := &StreamMetrics{}
	m.IncPresented()
	m.IncPresented()
	m.IncRepeated()
	m.IncDropped()
	m.IncHardwareFallback()

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.FramesPresented)
	require.Equal(t, uint64(1), snap.FramesRepeated)
	require.Equal(t, uint64(1), snap.FramesDropped)
	require.Equal(t, uint64(1), snap.HardwareFallbacks)
}

func TestStreamMetricsDecodeLatencyMeanAndP99(t *testing.T) {
	m := &StreamMetrics{}
	for i := 1; i <= 100; i++ {
		m.ObserveDecodeLatency(time.Duration(i) * time.Millisecond)
	}
	snap := m.Snapshot()
	require.InDelta(t, 50.5, snap.DecodeMeanMS, 0.01)
	require.InDelta(t, 99.0, snap.DecodeP99MS, 0.01)
}

func TestStreamMetricsSnapshotEmpty(t *testing.T) {
	m := &StreamMetrics{}
	snap := m.Snapshot()
	require.Zero(t, snap.FramesPresented)
	require.Zero(t, snap.DecodeMeanMS)
	require.Zero(t, snap.DecodeP99MS)
}

func TestRenderMetricsMissedVsync(t *testing.T) {
	r := &RenderMetrics{}
	r.ObservePresentInterval(16 * time.Millisecond)
	r.ObservePresentInterval(33 * time.Millisecond)
	r.IncMissedVsync()

	snap := r.Snapshot()
	require.Equal(t, uint64(1), snap.MissedVsyncs)
	require.InDelta(t, 24.5, snap.IntervalMeanMS, 0.01)
}

func TestRingWrapsWithoutGrowing(t *testing.T) {
	m := &StreamMetrics{}
	for i := 0; i < ringCapacity+10; i++ {
		m.ObserveDecodeLatency(time.Millisecond)
	}
	require.Equal(t, ringCapacity, m.decodeLatencies.filled)
}

func TestNowIsMonotonicBetweenCalls(t *testing.T) {
	a := Now()
	b := Now()
	require.False(t, b.Before(a))
}
