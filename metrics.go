package objectplugin

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects object-plugin server metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetches        *prometheus.CounterVec
	exports        *prometheus.CounterVec
	streamsOpen    *prometheus.GaugeVec
	streamMessages *prometheus.CounterVec
	sessions       prometheus.Gauge
	rejected       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a private
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objectplugin",
			Name:      "fetch_total",
			Help:      "Fetch requests by object type and result code.",
		}, []string{"type", "code"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objectplugin",
			Name:      "references_total",
			Help:      "References shipped to clients, by context.",
		}, []string{"context"}),
		streamsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "objectplugin",
			Name:      "streams_open",
			Help:      "Open message streams by object type.",
		}, []string{"type"}),
		streamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objectplugin",
			Name:      "stream_messages_total",
			Help:      "Stream messages by direction.",
		}, []string{"direction"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "objectplugin",
			Name:      "sessions",
			Help:      "Live client sessions.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objectplugin",
			Name:      "rate_limited_total",
			Help:      "Calls rejected by the rate limiter, by procedure.",
		}, []string{"procedure"}),
	}
	m.registry.MustRegister(
		m.fetches,
		m.exports,
		m.streamsOpen,
		m.streamMessages,
		m.sessions,
		m.rejected,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) fetched(typeName string, err error) {
	if m == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = connect.CodeOf(err).String()
	}
	m.fetches.WithLabelValues(typeName, code).Inc()
}

func (m *Metrics) exported(context string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.exports.WithLabelValues(context).Add(float64(n))
}

func (m *Metrics) streamOpened(typeName string) {
	if m == nil {
		return
	}
	m.streamsOpen.WithLabelValues(typeName).Inc()
}

func (m *Metrics) streamClosed(typeName string) {
	if m == nil {
		return
	}
	m.streamsOpen.WithLabelValues(typeName).Dec()
}

func (m *Metrics) streamMessage(direction string) {
	if m == nil {
		return
	}
	m.streamMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *Metrics) rateLimited(procedure string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(procedure).Inc()
}
