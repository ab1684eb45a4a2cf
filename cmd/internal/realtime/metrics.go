package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the channel's observable behavior: the rest of the
// application never sees transport errors, so the gauge and counters are
// the only operational window into the connection lifecycle.
type Metrics struct {
	state      *prometheus.GaugeVec
	reconnects prometheus.Counter
	messages   prometheus.Counter
	dropped    prometheus.Counter
	pings      prometheus.Counter
}

// NewMetrics registers the channel metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulse_realtime_connection_state",
			Help: "Current connection state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_realtime_reconnects_total",
			Help: "Reconnect attempts scheduled after an unplanned close.",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_realtime_messages_total",
			Help: "Application messages delivered to subscribers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_realtime_dropped_frames_total",
			Help: "Inbound frames dropped because they failed to parse.",
		}),
		pings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_realtime_pings_total",
			Help: "Keep-alive pings answered with a pong.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.reconnects, m.messages, m.dropped, m.pings)
	}
	return m
}

func (m *Metrics) observeState(s ConnectionState) {
	if m == nil {
		return
	}
	for _, candidate := range []ConnectionState{Closed, Connecting, Open, Reconnecting} {
		v := 0.0
		if candidate == s {
			v = 1.0
		}
		m.state.WithLabelValues(candidate.String()).Set(v)
	}
}

func (m *Metrics) incReconnects() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) incMessages() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) incPings() {
	if m != nil {
		m.pings.Inc()
	}
}
