// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the gateway's metric families.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	backendCalls    *prometheus.CounterVec
	eventsEmitted   prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swiftgate",
			Name:      "requests_total",
			Help:      "S3 API requests handled, by verb and status.",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swiftgate",
			Name:      "request_duration_seconds",
			Help:      "S3 API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		backendCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swiftgate",
			Name:      "backend_calls_total",
			Help:      "Backend round trips, by verb.",
		}, []string{"method"}),
		eventsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swiftgate",
			Name:      "events_emitted_total",
			Help:      "Event notifications enqueued.",
		}),
	}
}

func (c *Collector) ObserveRequest(method string, status int, d time.Duration) {
	c.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (c *Collector) ObserveBackendCall(method string) {
	c.backendCalls.WithLabelValues(method).Inc()
}

func (c *Collector) ObserveEvent() {
	c.eventsEmitted.Inc()
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
