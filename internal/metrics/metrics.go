// Package metrics holds the prometheus collectors kickbox exports on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kickbox"

// Metrics groups the collectors on a private registry so tests and multiple
// servers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	BackendRequests *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	IdentifyQueries *prometheus.CounterVec
	ClusterRebuilds prometheus.Counter
	ClusterQueries  prometheus.Counter
	WMSRedraws      *prometheus.CounterVec
}

// New registers all collectors, plus Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Analytics backend requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Analytics backend request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		IdentifyQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identify",
			Name:      "queries_total",
			Help:      "Identify queries by kind (radius, page, filter) and outcome.",
		}, []string{"kind", "outcome"}),
		ClusterRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "index_builds_total",
			Help:      "Cluster index builds.",
		}),
		ClusterQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "queries_total",
			Help:      "Viewport cluster queries.",
		}),
		WMSRedraws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wms",
			Name:      "redraws_total",
			Help:      "WMS image source rebuilds by style.",
		}, []string{"style"}),
	}
	m.registry.MustRegister(
		m.BackendRequests,
		m.BackendDuration,
		m.IdentifyQueries,
		m.ClusterRebuilds,
		m.ClusterQueries,
		m.WMSRedraws,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveBackend records one backend round trip.
func (m *Metrics) ObserveBackend(endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BackendRequests.WithLabelValues(endpoint, outcome).Inc()
	m.BackendDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// ObserveIdentify records one identify query.
func (m *Metrics) ObserveIdentify(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.IdentifyQueries.WithLabelValues(kind, outcome).Inc()
}

// IncClusterBuild counts an index build.
func (m *Metrics) IncClusterBuild() {
	if m == nil {
		return
	}
	m.ClusterRebuilds.Inc()
}

// IncClusterQuery counts a viewport query.
func (m *Metrics) IncClusterQuery() {
	if m == nil {
		return
	}
	m.ClusterQueries.Inc()
}

// IncWMSRedraw counts a WMS source rebuild for style.
func (m *Metrics) IncWMSRedraw(style string) {
	if m == nil {
		return
	}
	m.WMSRedraws.WithLabelValues(style).Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
