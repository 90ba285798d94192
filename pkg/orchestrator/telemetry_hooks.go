package orchestrator

import (
	"context"
	"time"
)

// Tracer wraps turn-scoped spans so SessionRuntime never imports a concrete
// tracing SDK directly (pkg/telemetry supplies the OpenTelemetry-backed
// implementation; tests use NoOpTracer). Accepting an interface here keeps
// the core decoupled from any one observability backend.
type Tracer interface {
	// StartStageSpan starts a span for one pipeline stage (transcribe,
	// generate, synthesize, play) under turnID and returns a derived context
	// plus a function to call when the stage ends.
	StartStageSpan(ctx context.Context, sessionID string, turnID int64, stage string) (context.Context, func(err error))
}

// NoOpTracer discards every span; it is the default when no Tracer is supplied.
type NoOpTracer struct{}

func (NoOpTracer) StartStageSpan(ctx context.Context, sessionID string, turnID int64, stage string) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

// MetricsSink records the counters and histograms the runtime reports.
// pkg/telemetry supplies a prometheus-backed implementation.
type MetricsSink interface {
	TurnOpened()
	TurnInvalidated()
	TurnClosed()
	TTSRetry()
	CaptureQueueDepth(n int)
	StageLatency(stage string, d time.Duration)
	// StageFailure records a terminal failure of one pipeline stage
	// (transcribe, generate, synthesize, play), after retries are exhausted.
	StageFailure(stage string)
}

// NoOpMetrics discards every observation; it is the default when no
// MetricsSink is supplied.
type NoOpMetrics struct{}

func (NoOpMetrics) TurnOpened()                                {}
func (NoOpMetrics) TurnInvalidated()                           {}
func (NoOpMetrics) TurnClosed()                                {}
func (NoOpMetrics) TTSRetry()                                  {}
func (NoOpMetrics) CaptureQueueDepth(n int)                    {}
func (NoOpMetrics) StageLatency(stage string, d time.Duration) {}
func (NoOpMetrics) StageFailure(stage string)                  {}
