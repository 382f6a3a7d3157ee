package router

import (
	"github.com/ggoodman/wamp-go/wamp"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	sessions *prometheus.GaugeVec
	messages *prometheus.CounterVec
	errors   *prometheus.CounterVec
	relayed  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wamp",
				Subsystem: "router",
				Name:      "sessions",
				Help:      "Established sessions per realm.",
			},
			[]string{"realm"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wamp",
				Subsystem: "router",
				Name:      "messages_total",
				Help:      "Messages received from peers.",
			},
			[]string{"realm", "type"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wamp",
				Subsystem: "router",
				Name:      "errors_total",
				Help:      "ERROR and ABORT replies sent to peers.",
			},
			[]string{"realm", "uri"},
		),
		relayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wamp",
				Subsystem: "router",
				Name:      "relayed_events_total",
				Help:      "Publications exchanged with other routers.",
			},
			[]string{"realm", "direction"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.messages, m.errors, m.relayed)
	}
	return m
}

func (m *metrics) sessionJoined(realm wamp.URI) { m.sessions.WithLabelValues(string(realm)).Inc() }
func (m *metrics) sessionLeft(realm wamp.URI)   { m.sessions.WithLabelValues(string(realm)).Dec() }

func (m *metrics) message(realm wamp.URI, t wamp.MessageType) {
	m.messages.WithLabelValues(string(realm), t.String()).Inc()
}

func (m *metrics) error(realm, uri wamp.URI) {
	m.errors.WithLabelValues(string(realm), string(uri)).Inc()
}

func (m *metrics) relay(realm wamp.URI, direction string) {
	m.relayed.WithLabelValues(string(realm), direction).Inc()
}
