// Package metrics exposes worker and dispatcher counters for Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/taskworker/shared/dbsession"
)

const namespace = "taskworker"

// Metrics holds the collectors registered for one process
type Metrics struct {
	registry *prometheus.Registry

	published *prometheus.CounterVec
	processed *prometheus.CounterVec
	retries   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

// New registers the task collectors plus the Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_published_total",
			Help:      "Invocations published to the broker.",
		}, []string{"task", "queue"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Invocations that reached a final status.",
		}, []string{"task", "queue", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Invocations re-published after a transient failure.",
		}, []string{"task", "queue"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Handler execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task", "queue"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Invocations currently executing in a worker slot.",
		}),
	}

	reg.MustRegister(
		m.published,
		m.processed,
		m.retries,
		m.duration,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Published(task, queue string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(task, queue).Inc()
}

func (m *Metrics) Processed(task, queue, status string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(task, queue, status).Inc()
}

func (m *Metrics) Retried(task, queue string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(task, queue).Inc()
}

// Started marks a slot busy and returns a func recording the duration
func (m *Metrics) Started(task, queue string) func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	start := time.Now()
	return func() {
		m.inFlight.Dec()
		m.duration.WithLabelValues(task, queue).Observe(time.Since(start).Seconds())
	}
}

// RegisterSessions exports connection pool statistics per database id
func (m *Metrics) RegisterSessions(h *dbsession.ConnectionHandler) error {
	if m == nil || h == nil {
		return nil
	}
	return m.registry.Register(newSessionCollector(h))
}

type sessionCollector struct {
	handler *dbsession.ConnectionHandler

	open   *prometheus.Desc
	inUse  *prometheus.Desc
	idle   *prometheus.Desc
	waits  *prometheus.Desc
	scopes *prometheus.Desc
}

func newSessionCollector(h *dbsession.ConnectionHandler) *sessionCollector {
	labels := []string{"db"}
	return &sessionCollector{
		handler: h,
		open:    prometheus.NewDesc(namespace+"_db_connections_open", "Open connections per database.", labels, nil),
		inUse:   prometheus.NewDesc(namespace+"_db_connections_in_use", "Connections checked out per database.", labels, nil),
		idle:    prometheus.NewDesc(namespace+"_db_connections_idle", "Idle connections per database.", labels, nil),
		waits:   prometheus.NewDesc(namespace+"_db_wait_total", "Times a session waited for a connection.", labels, nil),
		scopes:  prometheus.NewDesc(namespace+"_db_active_scopes", "Open session scopes per database.", labels, nil),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waits
	ch <- c.scopes
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	for _, db := range c.handler.Databases() {
		stats, err := c.handler.Stats(db)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(stats.OpenConnections), db)
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(stats.InUse), db)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stats.Idle), db)
		ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(stats.WaitCount), db)
		ch <- prometheus.MustNewConstMetric(c.scopes, prometheus.GaugeValue, float64(c.handler.ActiveScopes(db)), db)
	}
}
