package metric

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/errors"
)

func gathered(t *testing.T, r *MetricsRegistry, name string) bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return true
		}
	}
	return false
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})

	require.NoError(t, registry.RegisterCounter("svc", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_histogram", histogram))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(0.5)

	assert.True(t, gathered(t, registry, "test_counter"))
	assert.True(t, gathered(t, registry, "test_gauge"))
	assert.True(t, gathered(t, registry, "test_histogram"))
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("service1", "dup_counter", c1))

	err := registry.RegisterCounter("service1", "dup_counter", c2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.True(t, errors.IsInvalid(err))

	err = registry.RegisterCounter("service2", "dup_counter", c2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_counter", Help: "c"})
	require.NoError(t, registry.RegisterCounter("svc", "gone_counter", counter))
	assert.True(t, gathered(t, registry, "gone_counter"))

	assert.True(t, registry.Unregister("svc", "gone_counter"))
	assert.False(t, gathered(t, registry, "gone_counter"))
	assert.False(t, registry.Unregister("svc", "gone_counter"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	const n = 10
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			assert.NoError(t, registry.RegisterCounter("svc", name, c))
		}(i)
	}
	wg.Wait()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	count := 0
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, n, count)
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var registrar MetricsRegistrar = NewMetricsRegistry()
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "iface_gauge", Help: "g"}, []string{"lane"})
	require.NoError(t, registrar.RegisterGaugeVec("svc", "iface_gauge", vec))
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordFrameSent("request", "Start")
	m.RecordFrameReceived("indication", "PositionReport")
	m.RecordFrameReceived("indication", "PositionReport")
	m.RecordDecodeFailure("PositionReport", "truncated")
	m.RecordDropped("fix", "stale")
	m.RecordDelivered("fix", "PositionReport")
	m.RecordRequest("Start", 20*time.Millisecond)
	m.RecordProtocolFailure("AddCircularGeofence", "MAX_GEOFENCE_PROGRAMMED")
	m.RecordTransition("batching", "stopped")
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.SetPending(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("indication", "PositionReport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeFailures.WithLabelValues("PositionReport", "truncated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndicationsDropped.WithLabelValues("fix", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingTransactions))

	assert.True(t, gathered(t, registry, "qmiloc_frames_sent_total"))
	assert.True(t, gathered(t, registry, "qmiloc_client_request_duration_seconds"))
	assert.True(t, gathered(t, registry, "go_goroutines"))
}

func TestCoreMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFrameSent("request", "Start")
		m.RecordDropped("general", "unknown")
		m.RecordNATSStatus(false)
		m.SetPending(0)
	})
	var r *MetricsRegistry
	assert.Nil(t, r.CoreMetrics())
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordFrameSent("request", "RegEvents")

	srv := httptest.NewServer(NewServer(0, "", registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_Defaults(t *testing.T) {
	s := NewServer(0, "", NewMetricsRegistry())
	assert.Equal(t, "http://localhost:9090/metrics", s.Address())
	assert.NoError(t, s.Stop(), "stop before start is a no-op")
}
