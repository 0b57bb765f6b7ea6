package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "im_forum_delivery"

// Collector is a prometheus.Collector that collects metrics about the
// fan-out core.
type Collector struct {
	localSessions     prometheus.Gauge
	sessionsClosed    *prometheus.CounterVec
	sessionDuration   prometheus.Histogram
	framesEnqueued    *prometheus.CounterVec
	framesDelivered   prometheus.Counter
	connectionsHealed prometheus.Counter
	deliveryFailures  *prometheus.CounterVec
	broadcastDuration *prometheus.HistogramVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		localSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "local_sessions",
				Help:      "The number of sessions streaming from this process.",
			},
		),
		sessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_closed_total",
				Help:      "The number of closed sessions by close reason.",
			}, []string{"reason"},
		),
		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "session_seconds",
				Help:      "How long a session stayed open.",
				Buckets:   []float64{1, 10, 60, 300, 600, 900},
			},
		),
		framesEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "frames_enqueued_total",
				Help:      "The number of frames pushed to connection queues.",
			}, []string{"type"},
		),
		framesDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "frames_delivered_total",
				Help:      "The number of frames written to clients.",
			},
		),
		connectionsHealed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "connections_healed_total",
				Help:      "The number of stale connections deregistered by self-healing.",
			},
		),
		deliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "delivery_failures_total",
				Help:      "The number of per-connection enqueue failures.",
			}, []string{"scope"},
		),
		broadcastDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "broadcast_seconds",
				Help:      "The time taken to fan one event out.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"scope"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.localSessions.Describe(ch)
	c.sessionsClosed.Describe(ch)
	c.sessionDuration.Describe(ch)
	c.framesEnqueued.Describe(ch)
	c.framesDelivered.Describe(ch)
	c.connectionsHealed.Describe(ch)
	c.deliveryFailures.Describe(ch)
	c.broadcastDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.localSessions.Collect(ch)
	c.sessionsClosed.Collect(ch)
	c.sessionDuration.Collect(ch)
	c.framesEnqueued.Collect(ch)
	c.framesDelivered.Collect(ch)
	c.connectionsHealed.Collect(ch)
	c.deliveryFailures.Collect(ch)
	c.broadcastDuration.Collect(ch)
}
