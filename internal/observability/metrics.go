package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	SynthInFlight      prometheus.Gauge
	SynthWaiting       prometheus.Gauge
	SynthRequests      *prometheus.CounterVec
	DaemonErrors       *prometheus.CounterVec
	SynthLatency       prometheus.Histogram
	DeadlineExceeded   prometheus.Counter
	VoiceDiscrepancies *prometheus.GaugeVec
	DaemonHealthy      prometheus.Gauge
	WSMessages         *prometheus.CounterVec
	WSWriteErrors      prometheus.Counter

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SynthInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synth_inflight",
			Help:      "Synthesis calls currently holding an admission permit.",
		}),
		SynthWaiting: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synth_waiting",
			Help:      "Synthesis calls blocked waiting for an admission permit.",
		}),
		SynthRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_requests_total",
			Help:      "Synthesis calls by outcome.",
		}, []string{"outcome"}),
		DaemonErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daemon_errors_total",
			Help:      "Daemon call failures by kind.",
		}, []string{"kind"}),
		SynthLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synth_latency_ms",
			Help:      "End-to-end synthesis latency in milliseconds, admission wait included.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 3000, 4000, 6000, 10000},
		}),
		DeadlineExceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_exceeded_total",
			Help:      "Synthesis calls that ran past the latency budget.",
		}),
		VoiceDiscrepancies: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_discrepancies",
			Help:      "Voice ids differing between the static catalog and the daemon at startup.",
		}, []string{"direction"}),
		DaemonHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daemon_healthy",
			Help:      "1 if the startup health probe succeeded.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "Websocket writes that failed and closed the connection.",
		}),
		latency: newLatencyWindow(256),
	}
}

// ObserveStage records a latency sample for the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, float64(d.Microseconds())/1000)
}

// ObserveIndicator counts a named event in the rolling window.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.latency.ObserveIndicator(name)
}

func (m *Metrics) ObserveSynthLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.SynthLatency.Observe(float64(d.Milliseconds()))
	m.latency.Observe(StageSynthesizeTotal, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveWSWriteError() {
	if m == nil {
		return
	}
	m.WSWriteErrors.Inc()
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
