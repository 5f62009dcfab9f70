// Package metrics exposes the Prometheus collectors of the stream registry and the
// session authority.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fundstream"

// Subscription kinds
const (
	KindTopic  = "topic"
	KindGlobal = "global"
)

// Outcomes of an auth operation
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Collector holds the service metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry      *prometheus.Registry
	subscriptions *prometheus.GaugeVec
	frames        *prometheus.CounterVec
	authOps       *prometheus.CounterVec
}

// NewCollector define a Collector on its own Prometheus registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_subscriptions",
			Help:      "Number of live event stream subscriptions",
		}, []string{"kind"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Event stream frames by event name and write result",
		}, []string{"event", "result"}),
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session operations by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(
		c.subscriptions,
		c.frames,
		c.authOps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler the HTTP handler serving the metrics
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SubscriptionOpened record a new subscription of a kind
func (c *Collector) SubscriptionOpened(kind string) {
	if c == nil {
		return
	}
	c.subscriptions.WithLabelValues(kind).Inc()
}

// SubscriptionClosed record the end of a subscription of a kind
func (c *Collector) SubscriptionClosed(kind string) {
	if c == nil {
		return
	}
	c.subscriptions.WithLabelValues(kind).Dec()
}

// FrameWritten record the result of writing one event frame
func (c *Collector) FrameWritten(event string, delivered bool) {
	if c == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	c.frames.WithLabelValues(event, result).Inc()
}

// AuthOperation record the outcome of a session operation
func (c *Collector) AuthOperation(operation, outcome string) {
	if c == nil {
		return
	}
	c.authOps.WithLabelValues(operation, outcome).Inc()
}
