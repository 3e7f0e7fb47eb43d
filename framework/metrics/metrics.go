// Package metrics holds the Prometheus collectors of the embedded server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "dsi"

// Collector holds all Prometheus metrics on a private registry, so several
// contexts (and tests) can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SessionsActive *prometheus.GaugeVec
	SessionsSwept  *prometheus.CounterVec

	WebsocketConnections *prometheus.GaugeVec
	WebsocketMessages    *prometheus.CounterVec
	WebsocketDropped     *prometheus.CounterVec
}

// NewCollector creates and registers every metric.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of dispatched API requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions per store",
		}, []string{"store"}),
		SessionsSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed after their timeout",
		}, []string{"store"}),
		WebsocketConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections per endpoint",
		}, []string{"endpoint"}),
		WebsocketMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "websocket_messages_sent_total",
			Help:      "Messages delivered to websocket connections",
		}, []string{"endpoint"}),
		WebsocketDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "websocket_messages_dropped_total",
			Help:      "Messages dropped because the endpoint had no connections",
		}, []string{"endpoint"}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.SessionsActive,
		c.SessionsSwept,
		c.WebsocketConnections,
		c.WebsocketMessages,
		c.WebsocketDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// BeanName registers the collector as "metrics".
func (c *Collector) BeanName() string { return "metrics" }

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveSessions records the live session count of a store and how many
// sessions a sweep removed.
func (c *Collector) ObserveSessions(store string, active, swept int) {
	if c == nil {
		return
	}
	c.SessionsActive.WithLabelValues(store).Set(float64(active))
	if swept > 0 {
		c.SessionsSwept.WithLabelValues(store).Add(float64(swept))
	}
}

// ObserveRequest records one dispatched request.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveConnections records the open connections of a websocket endpoint.
func (c *Collector) ObserveConnections(endpoint string, open int) {
	if c == nil {
		return
	}
	c.WebsocketConnections.WithLabelValues(endpoint).Set(float64(open))
}

// ObserveDelivery counts messages sent to, or dropped for, an endpoint.
func (c *Collector) ObserveDelivery(endpoint string, sent, dropped int) {
	if c == nil {
		return
	}
	if sent > 0 {
		c.WebsocketMessages.WithLabelValues(endpoint).Add(float64(sent))
	}
	if dropped > 0 {
		c.WebsocketDropped.WithLabelValues(endpoint).Add(float64(dropped))
	}
}
