package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// recorded pairs a Metrics with the reader that sees what it recorded.
type recorded struct {
	*Metrics
	reader *sdkmetric.ManualReader
}

func newRecorded(t *testing.T) recorded {
	t.Helper()
	r := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(r))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return recorded{Metrics: m, reader: r}
}

func (r recorded) snapshot(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue sums the data points of an int64 sum whose attributes include
// every given key/value pair. A nil filter matches every point.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, filter ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want int64 sum", name, met.Data)
	}
	var total int64
points:
	for _, dp := range sum.DataPoints {
		for _, kv := range filter {
			if v, ok := dp.Attributes.Value(kv.Key); !ok || v != kv.Value {
				continue points
			}
		}
		total += dp.Value
	}
	return total
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	h, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s is %T, want float64 histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range h.DataPoints {
		n += dp.Count
	}
	return n
}

func TestMetrics_ExamLifecycle(t *testing.T) {
	t.Parallel()

	r := newRecorded(t)
	ctx := context.Background()

	r.SessionStarted(ctx)
	r.SessionStarted(ctx)
	r.ConnectDuration.Record(ctx, 0.4)
	for range 3 {
		r.RecordFrameSent(ctx)
	}
	r.RecordFrameDropped(ctx, "closing")
	r.RecordFrameDropped(ctx, "closing")
	r.RecordFrameDropped(ctx, "not_ready")
	r.RecordPlaybackFrame(ctx)
	r.RecordInterruption(ctx, 3)
	r.RecordInterruption(ctx, 0)
	r.RecordInterruption(ctx, 0)
	r.RecordTranscriptEntry(ctx, "student")
	r.RecordTranscriptEntry(ctx, "student")
	r.RecordTranscriptEntry(ctx, "agent")
	r.RecordAgentError(ctx, "gemini-live")
	r.RecordAnalysis(ctx, "gemini", "ok", 2.5)
	r.RecordSession(ctx, "completed", 185)
	r.RecordSession(ctx, "failed", 0)
	r.SessionEnded(ctx)

	rm := r.snapshot(t)
	counters := []struct {
		name   string
		filter []attribute.KeyValue
		want   int64
	}{
		{"oralexam.active_sessions", nil, 1},
		{"oralexam.capture.frames_sent", nil, 3},
		{"oralexam.capture.frames_dropped", []attribute.KeyValue{attribute.String("reason", "closing")}, 2},
		{"oralexam.capture.frames_dropped", []attribute.KeyValue{attribute.String("reason", "not_ready")}, 1},
		{"oralexam.playback.frames", nil, 1},
		{"oralexam.playback.interruptions", []attribute.KeyValue{attribute.String("outcome", "flushed")}, 1},
		{"oralexam.playback.interruptions", []attribute.KeyValue{attribute.String("outcome", "idle")}, 2},
		{"oralexam.transcript.entries", []attribute.KeyValue{attribute.String("role", "student")}, 2},
		{"oralexam.transcript.entries", nil, 3},
		{"oralexam.agent.errors", []attribute.KeyValue{attribute.String("provider", "gemini-live")}, 1},
		{"oralexam.sessions", []attribute.KeyValue{attribute.String("outcome", "completed")}, 1},
		{"oralexam.sessions", nil, 2},
	}
	for _, c := range counters {
		if got := counterValue(t, rm, c.name, c.filter...); got != c.want {
			t.Errorf("%s%v = %d, want %d", c.name, c.filter, got, c.want)
		}
	}

	histograms := map[string]uint64{
		"oralexam.connect.duration":  1,
		"oralexam.analysis.duration": 1,
		// A zero-length session is counted but not timed.
		"oralexam.session.duration": 1,
	}
	for name, want := range histograms {
		if got := histogramCount(t, rm, name); got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}
}

func TestMetrics_Nil(t *testing.T) {
	t.Parallel()

	var m *Metrics
	ctx := context.Background()
	m.SessionStarted(ctx)
	m.RecordFrameSent(ctx)
	m.RecordFrameDropped(ctx, "closing")
	m.RecordPlaybackFrame(ctx)
	m.RecordInterruption(ctx, 1)
	m.RecordTranscriptEntry(ctx, "agent")
	m.RecordAgentError(ctx, "mock")
	m.RecordAnalysis(ctx, "mock", "ok", 0.1)
	m.RecordSession(ctx, "completed", 1)
	m.SessionEnded(ctx)
}
