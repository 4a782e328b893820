// Package natsclient carries Location Service frames over NATS.
//
// Client wraps a nats.go connection with a circuit breaker around connection
// attempts, reconnect callbacks and periodic health checks. FrameTransport
// layers the transport.Transport contract on top: each frame becomes one
// NATS message whose headers carry the message ID, kind and transaction and
// whose payload is the TLV body.
//
// A channel is a pair of subjects:
//
//	<prefix>.<channel>.up    client -> service (requests)
//	<prefix>.<channel>.down  service -> client (responses, indications)
//
// Usage:
//
//	nc, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("qmiloc-"+id),
//	    natsclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := nc.Connect(ctx); err != nil {
//	    return err
//	}
//	defer nc.Close(ctx)
//
//	tr, err := natsclient.NewFrameTransport(nc, natsclient.TransportConfig{
//	    Prefix:  "qmiloc",
//	    Channel: "modem0",
//	    Role:    natsclient.RoleClient,
//	})
//
// The circuit opens after WithCircuitBreakerThreshold consecutive failed
// connection attempts (default 5). While open, Connect fails fast with
// ErrCircuitOpen; after the backoff the circuit half-opens and the next
// Connect tries again. The backoff doubles on every round up to
// WithMaxBackoff.
package natsclient
