// Package worker provides a generic bounded worker pool.
//
// A pool runs a fixed number of goroutines that drain a bounded queue.
// Submit never blocks: when the queue is full the item is dropped and
// ErrQueueFull returned, so a slow consumer shows up as drops in Stats and
// metrics instead of stalling the producer. A pool with one worker processes
// items strictly in submission order, which is how dispatch lanes use it.
//
//	pool := worker.NewPool(1, 256, func(ctx context.Context, m *message.Message) error {
//	    return handle(ctx, m)
//	})
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(time.Second)
//
// Statistics are always tracked with atomics; Prometheus metrics are opt-in
// through WithMetricsRegistry.
package worker
