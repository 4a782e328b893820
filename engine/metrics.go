package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/qmiloc/metric"
)

// simMetrics holds Prometheus metrics for the simulator.
type simMetrics struct {
	requests    *prometheus.CounterVec // By message and result (success/failure)
	indications *prometheus.CounterVec // By message
	suppressed  *prometheus.CounterVec // By message; event bit not registered
	batched     prometheus.Gauge       // Fixes held in the batch buffer
	geofences   prometheus.Gauge       // Programmed geofences
}

// newSimMetrics creates and registers simulator metrics with the provided
// registrar. A nil registrar disables metrics.
func newSimMetrics(registrar metric.MetricsRegistrar) (*simMetrics, error) {
	if registrar == nil {
		return nil, nil
	}

	m := &simMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qmiloc",
			Subsystem: "simulator",
			Name:      "requests_total",
			Help:      "Requests answered by the simulator",
		}, []string{"message", "result"}),

		indications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qmiloc",
			Subsystem: "simulator",
			Name:      "indications_total",
			Help:      "Indications sent by the simulator",
		}, []string{"message"}),

		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qmiloc",
			Subsystem: "simulator",
			Name:      "suppressed_total",
			Help:      "Indications withheld because the client did not register the event",
		}, []string{"message"}),

		batched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qmiloc",
			Subsystem: "simulator",
			Name:      "batched_fixes",
			Help:      "Fixes currently held in the batch buffer",
		}),

		geofences: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qmiloc",
			Subsystem: "simulator",
			Name:      "geofences",
			Help:      "Geofences currently programmed",
		}),
	}

	if err := registrar.RegisterCounterVec("simulator", "requests", m.requests); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounterVec("simulator", "indications", m.indications); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounterVec("simulator", "suppressed", m.suppressed); err != nil {
		return nil, err
	}
	if err := registrar.RegisterGauge("simulator", "batched_fixes", m.batched); err != nil {
		return nil, err
	}
	if err := registrar.RegisterGauge("simulator", "geofences", m.geofences); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *simMetrics) recordRequest(name string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.requests.WithLabelValues(name, result).Inc()
}

func (m *simMetrics) recordIndication(name string) {
	if m != nil {
		m.indications.WithLabelValues(name).Inc()
	}
}

func (m *simMetrics) recordSuppressed(name string) {
	if m != nil {
		m.suppressed.WithLabelValues(name).Inc()
	}
}

func (m *simMetrics) setBatched(n int) {
	if m != nil {
		m.batched.Set(float64(n))
	}
}

func (m *simMetrics) setGeofences(n int) {
	if m != nil {
		m.geofences.Set(float64(n))
	}
}
