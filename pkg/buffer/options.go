package buffer

import (
	"github.com/c360/qmiloc/metric"
)

// Option configures a buffer.
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
	registrar      metric.MetricsRegistrar
	metricsPrefix  string
}

// WithOverflowPolicy sets the overflow behaviour. The default is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics exports buffer statistics under the component label prefix.
// A nil registrar or empty prefix leaves metrics off.
func WithMetrics[T any](registrar metric.MetricsRegistrar, prefix string) Option[T] {
	return func(opts *bufferOptions[T]) {
		if registrar != nil && prefix != "" {
			opts.registrar = registrar
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback sets the callback for evicted items.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{overflowPolicy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
