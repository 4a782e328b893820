package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qmiloc"

// Metrics holds the core Location Service client metrics.
type Metrics struct {
	FramesSent          *prometheus.CounterVec
	FramesReceived      *prometheus.CounterVec
	DecodeFailures      *prometheus.CounterVec
	IndicationsDropped  *prometheus.CounterVec
	IndicationsHandled  *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ProtocolFailures    *prometheus.CounterVec
	SessionTransitions  *prometheus.CounterVec
	NATSConnected       prometheus.Gauge
	NATSReconnects      prometheus.Counter
	PendingTransactions prometheus.Gauge
}

// NewMetrics creates the core metrics. They are not registered.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frames",
				Name:      "sent_total",
				Help:      "Frames written to the transport",
			},
			[]string{"kind", "message"},
		),
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Frames read from the transport",
			},
			[]string{"kind", "message"},
		),
		DecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "decode_failures_total",
				Help:      "Frames dropped because the body did not decode",
			},
			[]string{"message", "reason"},
		),
		IndicationsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "dropped_total",
				Help:      "Indications not delivered (unknown, unregistered event, queue full, stale)",
			},
			[]string{"lane", "reason"},
		),
		IndicationsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "delivered_total",
				Help:      "Indications delivered to subscribers",
			},
			[]string{"lane", "message"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Time from request to final response or status indication",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"message"},
		),
		ProtocolFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "protocol_failures_total",
				Help:      "Requests answered with a failure status",
			},
			[]string{"message", "status"},
		),
		SessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Lifecycle transitions of fix, geofence, batching and NI state machines",
			},
			[]string{"machine", "to"},
		),
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "NATS reconnections",
			},
		),
		PendingTransactions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "pending_transactions",
				Help:      "Requests awaiting a response",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.FramesSent,
		c.FramesReceived,
		c.DecodeFailures,
		c.IndicationsDropped,
		c.IndicationsHandled,
		c.RequestDuration,
		c.ProtocolFailures,
		c.SessionTransitions,
		c.NATSConnected,
		c.NATSReconnects,
		c.PendingTransactions,
	}
}

// RecordFrameSent counts an outbound frame.
func (c *Metrics) RecordFrameSent(kind, message string) {
	if c == nil {
		return
	}
	c.FramesSent.WithLabelValues(kind, message).Inc()
}

// RecordFrameReceived counts an inbound frame.
func (c *Metrics) RecordFrameReceived(kind, message string) {
	if c == nil {
		return
	}
	c.FramesReceived.WithLabelValues(kind, message).Inc()
}

// RecordDecodeFailure counts a frame whose body failed to decode.
func (c *Metrics) RecordDecodeFailure(message, reason string) {
	if c == nil {
		return
	}
	c.DecodeFailures.WithLabelValues(message, reason).Inc()
}

// RecordDropped counts an indication that was not delivered.
func (c *Metrics) RecordDropped(lane, reason string) {
	if c == nil {
		return
	}
	c.IndicationsDropped.WithLabelValues(lane, reason).Inc()
}

// RecordDelivered counts an indication handed to a subscriber.
func (c *Metrics) RecordDelivered(lane, message string) {
	if c == nil {
		return
	}
	c.IndicationsHandled.WithLabelValues(lane, message).Inc()
}

// RecordRequest observes the latency of one request.
func (c *Metrics) RecordRequest(message string, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestDuration.WithLabelValues(message).Observe(d.Seconds())
}

// RecordProtocolFailure counts a failure status returned for a request.
func (c *Metrics) RecordProtocolFailure(message, status string) {
	if c == nil {
		return
	}
	c.ProtocolFailures.WithLabelValues(message, status).Inc()
}

// RecordTransition counts a state machine transition.
func (c *Metrics) RecordTransition(machine, to string) {
	if c == nil {
		return
	}
	c.SessionTransitions.WithLabelValues(machine, to).Inc()
}

// RecordNATSStatus updates the NATS connection gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect counts a NATS reconnection.
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// SetPending sets the number of requests awaiting a response.
func (c *Metrics) SetPending(n int) {
	if c == nil {
		return
	}
	c.PendingTransactions.Set(float64(n))
}
