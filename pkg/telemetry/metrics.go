package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vocalrelay/turnloop/pkg/orchestrator"
)

// Metrics collects the turn-loop counters and histograms the runtime
// reports, registered under a single namespace the way the collector this
// is grounded on registers its own HTTP/LLM/agent metric families.
type Metrics struct {
	turnsOpened      prometheus.Counter
	turnsInvalidated prometheus.Counter
	turnsClosed      prometheus.Counter
	ttsRetries       prometheus.Counter
	queueDepth       prometheus.Gauge
	stageLatency     *prometheus.HistogramVec
	stageFailures    *prometheus.CounterVec
}

// NewMetrics registers every collector under namespace (e.g. "turnloop").
// Safe to call once per process; a second call with the same namespace will
// panic on duplicate registration, matching promauto's own behavior.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		turnsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_opened_total",
			Help:      "Total number of turns opened by the Turn Registry.",
		}),
		turnsInvalidated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_invalidated_total",
			Help:      "Total number of turns invalidated by a barge-in or text submission.",
		}),
		turnsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_closed_total",
			Help:      "Total number of turns that closed normally.",
		}),
		ttsRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_retries_total",
			Help:      "Total number of TTS synthesis retries issued by the Synthesizer Driver.",
		}),
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_queue_depth",
			Help:      "Current depth of the Capture Queue.",
		}),
		stageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Latency of one pipeline stage (transcribe, generate, synthesize, play).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		stageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Terminal failures of one pipeline stage after retries are exhausted.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) TurnOpened()      { m.turnsOpened.Inc() }
func (m *Metrics) TurnInvalidated() { m.turnsInvalidated.Inc() }
func (m *Metrics) TurnClosed()      { m.turnsClosed.Inc() }
func (m *Metrics) TTSRetry()        { m.ttsRetries.Inc() }

func (m *Metrics) CaptureQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

func (m *Metrics) StageLatency(stage string, d time.Duration) {
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) StageFailure(stage string) {
	m.stageFailures.WithLabelValues(stage).Inc()
}

var _ orchestrator.MetricsSink = (*Metrics)(nil)
