package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes connection health to Prometheus. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	state     prometheus.Gauge
	dials     *prometheus.CounterVec
	retries   prometheus.Counter
	exhausted prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prism_board",
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected, 1=connecting, 2=connected).",
		}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prism_board",
			Subsystem: "realtime",
			Name:      "dials_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prism_board",
			Subsystem: "realtime",
			Name:      "reconnects_scheduled_total",
			Help:      "Automatic reconnect attempts scheduled after a failure or drop.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prism_board",
			Subsystem: "realtime",
			Name:      "reconnects_exhausted_total",
			Help:      "Times the reconnect attempt cap was reached.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.dials, m.retries, m.exhausted)
	}
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) dial(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.dials.WithLabelValues(result).Inc()
}

func (m *Metrics) retryScheduled() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) retriesExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}
