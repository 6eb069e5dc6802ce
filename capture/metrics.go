package capture

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/snapflow/capture/internal/coordinator"
	"github.com/hazyhaar/snapflow/capture/shot"
)

// Metrics are the Prometheus collectors a Capturer feeds.
type Metrics struct {
	Sessions    *prometheus.CounterVec
	Tiles       prometheus.Counter
	Duration    *prometheus.HistogramVec
	Transitions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapflow",
			Name:      "sessions_total",
			Help:      "Capture sessions by mode and outcome kind (ok on success).",
		}, []string{"mode", "kind"}),
		Tiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snapflow",
			Name:      "tiles_total",
			Help:      "Viewport tiles captured.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "snapflow",
			Name:      "session_duration_seconds",
			Help:      "Capture session wall time.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"mode"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapflow",
			Name:      "state_transitions_total",
			Help:      "Coordinator state changes by target state.",
		}, []string{"to"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sessions, m.Tiles, m.Duration, m.Transitions)
	}
	return m
}

func (m *Metrics) observe(mode shot.Mode, err error, took time.Duration) {
	kind := "ok"
	if err != nil {
		kind = shot.KindOf(err)
	}
	m.Sessions.WithLabelValues(string(mode), kind).Inc()
	m.Duration.WithLabelValues(string(mode)).Observe(took.Seconds())
}

func (m *Metrics) transition(_ string, _, to coordinator.State) {
	m.Transitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) tile(string, shot.Tile, int) {
	m.Tiles.Inc()
}
