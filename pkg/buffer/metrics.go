package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/qmiloc/metric"
)

type bufferMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	overflows   prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registrar metric.MetricsRegistrar, prefix string) (*bufferMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "qmiloc",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "qmiloc",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &bufferMetrics{
		writes:      counter("writes_total", "Buffer write operations"),
		reads:       counter("reads_total", "Items read from the buffer"),
		overflows:   counter("overflows_total", "Writes to a full buffer"),
		drops:       counter("drops_total", "Items dropped by the overflow policy"),
		size:        gauge("size", "Items currently buffered"),
		utilization: gauge("utilization", "Buffer utilization (0.0 to 1.0)"),
	}

	for name, c := range map[string]prometheus.Counter{
		"buffer_writes":    m.writes,
		"buffer_reads":     m.reads,
		"buffer_overflows": m.overflows,
		"buffer_drops":     m.drops,
	} {
		if err := registrar.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registrar.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registrar.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

// The record methods are no-ops on a nil receiver so the buffer can call
// them unconditionally.

func (m *bufferMetrics) recordWrite(size, capacity int) {
	if m == nil {
		return
	}
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(n, size, capacity int) {
	if m == nil {
		return
	}
	m.reads.Add(float64(n))
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordOverflow() {
	if m == nil {
		return
	}
	m.overflows.Inc()
}

func (m *bufferMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	if m == nil {
		return
	}
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
