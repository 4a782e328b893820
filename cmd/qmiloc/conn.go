package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/qmiloc/loc"
)

// registrar is the part of client.Client the connection hooks drive.
type registrar interface {
	Events() loc.EventMask
	RegisterEvents(ctx context.Context, mask loc.EventMask) error
}

// connHooks reacts to NATS connection changes. The NATS client exists
// before the Location Service client, so the latter is attached later.
type connHooks struct {
	logger *slog.Logger

	mu sync.Mutex
	c  registrar
}

func (h *connHooks) attach(c registrar) {
	h.mu.Lock()
	h.c = c
	h.mu.Unlock()
}

func (h *connHooks) disconnected(err error) {
	h.logger.Warn("Modem channel unreachable, requests fail until NATS reconnects", "error", err)
}

// reconnected registers the current event mask again. A service that
// restarted while the link was down has forgotten it.
func (h *connHooks) reconnected() {
	h.mu.Lock()
	c := h.c
	h.mu.Unlock()
	if c == nil {
		return
	}
	mask := c.Events()
	if mask == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.RegisterEvents(ctx, mask); err != nil {
		h.logger.Warn("Failed to restore event registration", "events", mask.String(), "error", err)
		return
	}
	h.logger.Info("Restored event registration after reconnect", "events", mask.String())
}
