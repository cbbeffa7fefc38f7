package ws

import (
	"github.com/prometheus/client_golang/prometheus"
)

type hubMetrics struct {
	activeConns  prometheus.Gauge
	connsTotal   prometheus.Counter
	superseded   prometheus.Counter
	eventsIn     *prometheus.CounterVec
	persisted    *prometheus.CounterVec
	delivered    prometheus.Counter
	dropped      *prometheus.CounterVec
	rateLimited  prometheus.Counter
	authFailures prometheus.Counter
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &hubMetrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletchat_ws_connections_active",
			Help: "Current number of bound websocket connections.",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletchat_ws_connections_total",
			Help: "Total websocket connections accepted since start.",
		}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletchat_ws_connections_superseded_total",
			Help: "Connections superseded by a newer bind for the same address.",
		}),
		eventsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletchat_ws_events_total",
			Help: "Inbound websocket events by type.",
		}, []string{"type"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletchat_messages_persisted_total",
			Help: "Messages persisted and handed to fan-out, by scope.",
		}, []string{"scope"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletchat_ws_fanout_delivered_total",
			Help: "Outbound payloads successfully written.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletchat_ws_fanout_dropped_total",
			Help: "Outbound payloads dropped, by reason.",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletchat_ws_rate_limited_total",
			Help: "Inbound events rejected by the per-connection rate limiter.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletchat_ws_auth_failures_total",
			Help: "Websocket upgrade attempts rejected for bad credentials.",
		}),
	}

	reg.MustRegister(
		m.activeConns,
		m.connsTotal,
		m.superseded,
		m.eventsIn,
		m.persisted,
		m.delivered,
		m.dropped,
		m.rateLimited,
		m.authFailures,
	)
	return m
}

func (m *hubMetrics) connOpened() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
	m.connsTotal.Inc()
}

func (m *hubMetrics) connClosed() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

func (m *hubMetrics) recordSupersede() {
	if m == nil {
		return
	}
	m.superseded.Inc()
}

func (m *hubMetrics) recordEvent(typ string) {
	if m == nil {
		return
	}
	if typ == "" {
		typ = "unknown"
	}
	m.eventsIn.WithLabelValues(typ).Inc()
}

func (m *hubMetrics) recordPersisted(scope string) {
	if m == nil {
		return
	}
	m.persisted.WithLabelValues(scope).Inc()
}

func (m *hubMetrics) recordDelivery() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *hubMetrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *hubMetrics) recordRateLimit() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *hubMetrics) recordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}
