// Package transport is the boundary to the channel that carries frames
// between a Location Service client and the service.
//
// Framing, addressing and delivery belong to the implementation; the rest of
// the module only sees whole frames. NewPipe connects two in-process ends,
// natsclient carries frames over NATS.
package transport

import (
	"context"
	"sync"

	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/message"
)

// Transport carries frames in both directions.
type Transport interface {
	// Send queues a frame for the peer.
	Send(ctx context.Context, f message.Frame) error
	// Recv blocks until a frame arrives, ctx is done or the transport is
	// closed, in which case the error wraps errors.ErrClosed.
	Recv(ctx context.Context) (message.Frame, error)
	// Close releases the transport. Blocked Send and Recv calls return.
	Close() error
}

type pipe struct {
	done *closer
	in   <-chan message.Frame
	out  chan<- message.Frame
}

type closer struct {
	once sync.Once
	ch   chan struct{}
}

func (c *closer) close() { c.once.Do(func() { close(c.ch) }) }

// NewPipe returns two connected in-memory transports. Each direction buffers
// up to size frames; closing either end closes both.
func NewPipe(size int) (Transport, Transport) {
	if size < 0 {
		size = 0
	}
	done := &closer{ch: make(chan struct{})}
	ab := make(chan message.Frame, size)
	ba := make(chan message.Frame, size)
	return &pipe{done: done, in: ba, out: ab}, &pipe{done: done, in: ab, out: ba}
}

func (p *pipe) Send(ctx context.Context, f message.Frame) error {
	f.Body = append([]byte(nil), f.Body...)
	select {
	case <-p.done.ch:
		return qerrors.WrapTransient(qerrors.ErrClosed, "Pipe", "Send", "send frame")
	default:
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done.ch:
		return qerrors.WrapTransient(qerrors.ErrClosed, "Pipe", "Send", "send frame")
	case <-ctx.Done():
		return qerrors.WrapTransient(ctx.Err(), "Pipe", "Send", "send frame")
	}
}

func (p *pipe) Recv(ctx context.Context) (message.Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.done.ch:
		return message.Frame{}, qerrors.WrapTransient(qerrors.ErrClosed, "Pipe", "Recv", "receive frame")
	case <-ctx.Done():
		return message.Frame{}, ctx.Err()
	}
}

func (p *pipe) Close() error {
	p.done.close()
	return nil
}
