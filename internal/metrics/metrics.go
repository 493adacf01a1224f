package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the streaming-client counters for one camera tile. Fields
// are plain atomics on the hot path; Prometheus reads them lazily through
// GaugeFunc collectors on a private registry.
type Metrics struct {
	// Session lifecycle
	SessionsStarted atomic.Uint64
	NaturalCycles   atomic.Uint64
	ErrorEnds       atomic.Uint64
	PrematureCloses atomic.Uint64
	Cancellations   atomic.Uint64

	// Frame pipeline
	FramesReceived    atomic.Uint64
	BytesRead         atomic.Uint64
	BufferTruncations atomic.Uint64

	// Recovery
	StallsDetected      atomic.Uint64
	ReconnectsScheduled atomic.Uint64
	GiveUps             atomic.Uint64

	// Current state
	ConnectionState   atomic.Uint64 // numeric types.ConnState
	ReconnectAttempts atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance whose collectors carry a camera label.
func New(camera string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.registerPrometheusMetrics(prometheus.Labels{"camera": camera})
	return m
}

func (m *Metrics) registerPrometheusMetrics(labels prometheus.Labels) {
	gauge := func(name, help string, value func() uint64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels},
			func() float64 { return float64(value()) },
		))
	}

	gauge("streamclient_sessions_started_total", "Total stream sessions started", m.SessionsStarted.Load)
	gauge("streamclient_natural_cycles_total", "Sessions ended by a natural camera cycle", m.NaturalCycles.Load)
	gauge("streamclient_error_ends_total", "Sessions ended by a transport or protocol error", m.ErrorEnds.Load)
	gauge("streamclient_premature_closes_total", "Clean closes classified as errors", m.PrematureCloses.Load)
	gauge("streamclient_cancellations_total", "Sessions cancelled by the caller", m.Cancellations.Load)

	gauge("streamclient_frames_received_total", "Complete JPEG frames handed to the sink", m.FramesReceived.Load)
	gauge("streamclient_bytes_read_total", "Raw bytes read from camera responses", m.BytesRead.Load)
	gauge("streamclient_buffer_truncations_total", "Byte buffer truncations under the size ceiling", m.BufferTruncations.Load)

	gauge("streamclient_stalls_detected_total", "Stalls detected by the stall monitor", m.StallsDetected.Load)
	gauge("streamclient_reconnects_scheduled_total", "Backoff reconnects scheduled", m.ReconnectsScheduled.Load)
	gauge("streamclient_give_ups_total", "Terminal failures after exhausting the retry budget", m.GiveUps.Load)

	gauge("streamclient_connection_state", "Current connection state (0=idle .. 5=failed)", m.ConnectionState.Load)
	gauge("streamclient_reconnect_attempts", "Current reconnect attempt counter", m.ReconnectAttempts.Load)
}

// Registry exposes the private registry for aggregation across tiles.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the combined metrics of all
// given tiles.
func Handler(tiles ...*Metrics) http.Handler {
	gatherers := make(prometheus.Gatherers, 0, len(tiles))
	for _, t := range tiles {
		gatherers = append(gatherers, t.registry)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
