package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/metric"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	c, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, int32(5), c.Failures())

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, c.Status())

	c.resetCircuit()
	assert.Equal(t, int32(0), c.Failures())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithMaxBackoff(4*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	assert.Equal(t, 2*time.Second, c.Backoff())

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	assert.Equal(t, 4*time.Second, c.Backoff())

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	assert.Equal(t, 4*time.Second, c.Backoff(), "backoff is capped")
}

func TestCircuitBreaker_HalfOpens(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	c.backoff.Store(10 * time.Millisecond)
	c.recordFailure()
	require.Equal(t, StatusCircuitOpen, c.Status())

	require.Eventually(t, func() bool { return c.Status() == StatusDisconnected },
		time.Second, 5*time.Millisecond)
}

func TestCircuitBreaker_ConcurrentFailures(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.recordFailure()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(30), c.Failures())
	assert.Equal(t, StatusCircuitOpen, c.Status())
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.PublishMsg(context.Background(), EncodeFrame("x", testFrame(), "")), ErrNotConnected)
	assert.ErrorIs(t, c.SubscribeMsg("x", nil), ErrNotConnected)

	_, err = NewFrameTransport(c, TransportConfig{Prefix: "qmiloc", Channel: "modem0"})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()), "close is idempotent")
}

func TestClient_ConnectFailureIsTransient(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(50*time.Millisecond), WithMaxReconnects(0), WithHealthInterval(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = c.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(1), c.Failures())
}

func TestClient_StatusMetrics(t *testing.T) {
	m := metric.NewMetrics()
	c, err := NewClient("nats://localhost:4222", WithMetrics(m))
	require.NoError(t, err)

	c.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	c.handleReconnect(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))
	assert.Equal(t, int32(1), c.GetStatus().Reconnects)
	c.setStatus(StatusReconnecting)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NATSConnected))
}

func TestClient_ConnectionOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithCredentials("u", "p"), WithToken("t"), WithName("qmiloc-test"),
		WithPingInterval(7*time.Second), WithDrainTimeout(3*time.Second))
	require.NoError(t, err)
	require.Len(t, c.ConnectionOptions(), 12)

	var o nats.Options
	for _, opt := range c.ConnectionOptions() {
		require.NoError(t, opt(&o))
	}
	assert.Equal(t, 7*time.Second, o.PingInterval)
	assert.Equal(t, 3*time.Second, o.DrainTimeout)
	assert.Equal(t, "qmiloc-test", o.Name)
	assert.NotNil(t, o.ClosedCB)
}

func TestClient_ConnectionCallbacks(t *testing.T) {
	disconnected := make(chan error, 1)
	reconnected := make(chan struct{}, 1)
	c, err := NewClient("nats://localhost:4222",
		WithDisconnectCallback(func(err error) { disconnected <- err }),
		WithReconnectCallback(func() { reconnected <- struct{}{} }))
	require.NoError(t, err)

	closed := make(chan struct{}, 2)
	c.onConnClosed(func() { closed <- struct{}{} })
	c.onConnClosed(func() { closed <- struct{}{} })

	c.handleDisconnect(nil, nats.ErrConnectionClosed)
	select {
	case err := <-disconnected:
		assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not called")
	}
	assert.Equal(t, StatusReconnecting, c.Status())

	c.handleReconnect(nil)
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}
	assert.Equal(t, StatusConnected, c.Status())

	c.handleClosed(nil)
	for i := 0; i < 2; i++ {
		select {
		case <-closed:
		case <-time.After(time.Second):
			t.Fatal("closed handler not called")
		}
	}
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}
