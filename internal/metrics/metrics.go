// Package metrics owns the Prometheus registry and the counters Piko exports.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "piko"

// Collector holds the application metrics on a private registry, so several
// collectors can coexist in one test binary. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	authzDecisions *prometheus.CounterVec
	syncAttempts   *prometheus.CounterVec
	graphSaves     *prometheus.CounterVec
	graphNodes     prometheus.Histogram
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	sseClients     prometheus.Gauge
}

// New creates a collector with Go runtime and process collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Access gate decisions by capability and outcome",
		}, []string{"capability", "decision"}),
		syncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Debounced persist attempts by channel and result",
		}, []string{"channel", "result"}),
		graphSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_saves_total",
			Help:      "Server-side graph writes by result",
		}, []string{"result"}),
		graphNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Node count of saved graphs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_clients",
			Help:      "Connected event-stream clients",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.authzDecisions,
		c.syncAttempts,
		c.graphSaves,
		c.graphNodes,
		c.httpRequests,
		c.httpDuration,
		c.sseClients,
	)
	return c
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// AuthzDecision counts one access gate decision.
func (c *Collector) AuthzDecision(capability, decision string) {
	if c == nil {
		return
	}
	c.authzDecisions.WithLabelValues(capability, decision).Inc()
}

// SyncAttempt counts one persist attempt of a sync channel.
func (c *Collector) SyncAttempt(channel, result string) {
	if c == nil {
		return
	}
	c.syncAttempts.WithLabelValues(channel, result).Inc()
}

// GraphSaved records a server-side graph write.
func (c *Collector) GraphSaved(nodes int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.graphSaves.WithLabelValues("error").Inc()
		return
	}
	c.graphSaves.WithLabelValues("ok").Inc()
	c.graphNodes.Observe(float64(nodes))
}

// HTTPRequest records one finished request.
func (c *Collector) HTTPRequest(method, route string, status int, took time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// SSEClients sets the connected event-stream client count.
func (c *Collector) SSEClients(n int) {
	if c == nil {
		return
	}
	c.sseClients.Set(float64(n))
}
