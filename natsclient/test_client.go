//go:build integration

package natsclient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EnvNATSURL names a running server to use instead of starting a container.
const EnvNATSURL = "QMILOC_TEST_NATS_URL"

// TestClient is a connected Client backed by a NATS server for tests.
type TestClient struct {
	Client *Client
	URL    string

	container testcontainers.Container
}

type testConfig struct {
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures NewTestClient.
type TestOption func(*testConfig)

// WithNATSVersion selects the nats image tag.
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithTestTimeout sets the connect timeout.
func WithTestTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = timeout
	}
}

// WithStartTimeout sets how long the container may take to start.
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

// NewTestClient starts a NATS container, or uses the server named by
// QMILOC_TEST_NATS_URL, and returns a connected client. Cleanup is
// registered on t.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	cfg := &testConfig{
		natsVersion:  "2.10-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()
	tc := &TestClient{URL: os.Getenv(EnvNATSURL)}
	if tc.URL == "" {
		container, url, err := startContainer(ctx, cfg)
		if err != nil {
			t.Fatalf("Failed to start NATS container: %v", err)
		}
		tc.container = container
		tc.URL = url
		t.Cleanup(func() {
			_ = container.Terminate(context.Background()) // Best effort test cleanup
		})
	}

	tc.Client = tc.Connect(t, cfg.timeout)
	return tc
}

// Connect opens another connection to the test server. Each connection
// behaves like a separate process.
func (tc *TestClient) Connect(t testing.TB, timeout time.Duration, opts ...ClientOption) *Client {
	t.Helper()

	opts = append([]ClientOption{
		WithTimeout(timeout),
		WithMaxReconnects(0),  // No reconnects in tests
		WithHealthInterval(0), // Disable health monitoring
	}, opts...)
	client, err := NewClient(tc.URL, opts...)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect to NATS at %s: %v", tc.URL, err)
	}
	if err := client.WaitForConnection(ctx); err != nil {
		_ = client.Close(ctx)
		t.Fatalf("NATS connection not ready: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close(context.Background()) // Best effort test cleanup
	})
	return client
}

func startContainer(ctx context.Context, cfg *testConfig) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.natsVersion,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", err
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("mapped port: %w", err)
	}
	return container, fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}
