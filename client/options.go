package client

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/metric"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics. Lane depth gauges are registered
// with registrar when it is not nil.
func WithMetrics(m *metric.Metrics, registrar metric.MetricsRegistrar) Option {
	return func(c *Client) {
		c.metrics = m
		c.registrar = registrar
	}
}

// WithRequestTimeout bounds each request from send to its status
// indication.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClientRevision sets the revision sent by InformClientRevision. It
// defaults to the catalog revision.
func WithClientRevision(rev uint32) Option {
	return func(c *Client) { c.revision = rev }
}

// WithRegistry replaces the default message catalog.
func WithRegistry(reg *catalog.Registry) Option {
	return func(c *Client) {
		if reg != nil {
			c.reg = reg
		}
	}
}

// WithQueueSize sets the per-lane indication queue length.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithNITimeout sets how long an NI verification waits for the user when
// the request carries no timer of its own.
func WithNITimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.niTimeout = d
		}
	}
}

// WithInstanceID fixes the client instance ID, which otherwise is random.
func WithInstanceID(id uuid.UUID) Option {
	return func(c *Client) { c.id = id }
}
