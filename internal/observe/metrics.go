// Package observe carries the runtime's telemetry: OpenTelemetry instruments
// for sessions, audio frames and grading, trace helpers that tie log lines to
// one exam, and the middleware for the operator listener. [InitProvider]
// exposes everything on a Prometheus /metrics handler. A nil [*Metrics]
// records nothing.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all oralexam metrics.
const meterName = "github.com/echolabs/oralexam"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// --- Latency histograms ---

	// AnalysisDuration tracks post-session transcript analysis latency. Use
	// with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	AnalysisDuration metric.Float64Histogram

	// ConnectDuration tracks the time from Start until the agent stream
	// reports open.
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks the active length of completed sessions.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// Sessions counts finished sessions. Use with attribute:
	//   attribute.String("outcome", ...)
	Sessions metric.Int64Counter

	// FramesSent counts microphone frames delivered to the agent.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames that were not sent. Use with
	// attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// PlaybackFrames counts agent audio frames scheduled for playback.
	PlaybackFrames metric.Int64Counter

	// Interruptions counts barge-in events. Use with attribute:
	//   attribute.String("outcome", ...) ("flushed" or "idle")
	Interruptions metric.Int64Counter

	// TranscriptEntries counts finalized transcript entries. Use with
	// attribute:
	//   attribute.String("role", ...)
	TranscriptEntries metric.Int64Counter

	// --- Error counters ---

	// AgentErrors counts non-fatal errors reported by the agent stream. Use
	// with attribute:
	//   attribute.String("provider", ...)
	AgentErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live exam sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request-scale latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// exam sessions.
var sessionBuckets = []float64{
	15, 30, 60, 120, 180, 300, 450, 600, 900, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnalysisDuration, err = m.Float64Histogram("oralexam.analysis.duration",
		metric.WithDescription("Latency of post-session transcript analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("oralexam.connect.duration",
		metric.WithDescription("Time from session start until the agent stream is open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("oralexam.session.duration",
		metric.WithDescription("Active length of completed exam sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Sessions, err = m.Int64Counter("oralexam.sessions",
		metric.WithDescription("Total finished exam sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("oralexam.capture.frames_sent",
		metric.WithDescription("Microphone frames delivered to the agent."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("oralexam.capture.frames_dropped",
		metric.WithDescription("Microphone frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFrames, err = m.Int64Counter("oralexam.playback.frames",
		metric.WithDescription("Agent audio frames scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("oralexam.playback.interruptions",
		metric.WithDescription("Barge-in events by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("oralexam.transcript.entries",
		metric.WithDescription("Finalized transcript entries by role."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.AgentErrors, err = m.Int64Counter("oralexam.agent.errors",
		metric.WithDescription("Non-fatal errors reported by the agent stream."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("oralexam.active_sessions",
		metric.WithDescription("Number of live exam sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("oralexam.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordSession records a finished session with its outcome and active
// length in seconds.
func (m *Metrics) RecordSession(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if seconds > 0 {
		m.SessionDuration.Record(ctx, seconds)
	}
}

// RecordFrameSent counts one microphone frame delivered to the agent.
func (m *Metrics) RecordFrameSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesSent.Add(ctx, 1)
}

// RecordFrameDropped counts one microphone frame that was not sent.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPlaybackFrame counts one agent audio frame scheduled for playback.
func (m *Metrics) RecordPlaybackFrame(ctx context.Context) {
	if m == nil {
		return
	}
	m.PlaybackFrames.Add(ctx, 1)
}

// RecordInterruption counts a barge-in. flushed is the number of scheduled
// frames that were cut off.
func (m *Metrics) RecordInterruption(ctx context.Context, flushed int) {
	if m == nil {
		return
	}
	outcome := "flushed"
	if flushed == 0 {
		outcome = "idle"
	}
	m.Interruptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTranscriptEntry counts one finalized transcript entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordAgentError counts a non-fatal agent stream error.
func (m *Metrics) RecordAgentError(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.AgentErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordAnalysis records one analysis call with its latency in seconds.
func (m *Metrics) RecordAnalysis(ctx context.Context, provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.AnalysisDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// SessionStarted increments the live session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the live session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
