// Package dispatch turns inbound frames into decoded messages and delivers
// indications to subscribers.
//
// Each catalog lane (general, fix, geofence, batching, ni) is served by its
// own single-worker queue: indications on one lane are delivered in arrival
// order, and a slow subscriber on one lane never delays another lane.
// Indications gated by an event bit are dropped unless that bit is set in
// the EventRegistry at the moment of dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/qmiloc/catalog"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/metric"
	"github.com/c360/qmiloc/pkg/worker"
	"github.com/c360/qmiloc/tlv"
)

var (
	// ErrUnknownMessage is returned for frames whose (ID, kind) is not in
	// the catalog.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrEventNotRegistered is returned for indications whose event bit the
	// client has not registered.
	ErrEventNotRegistered = errors.New("event not registered")

	// ErrNotIndication is returned by Dispatch for requests and responses.
	ErrNotIndication = errors.New("frame is not an indication")
)

// Handler receives a decoded indication on its lane's goroutine.
type Handler func(ctx context.Context, m *message.Message)

type subscription struct {
	key uint64
	h   Handler
}

// Dispatcher decodes frames and fans indications out to subscribers.
type Dispatcher struct {
	catalog   *catalog.Registry
	events    *EventRegistry
	logger    *slog.Logger
	metrics   *metric.Metrics
	registrar metric.MetricsRegistrar
	queueSize int

	mu     sync.RWMutex
	subs   map[message.ID][]subscription
	nextID uint64

	lifecycleMu sync.Mutex
	lanes       map[catalog.Lane]*worker.Pool[*message.Message]
	cancel      context.CancelFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records delivery and drop counts in m and registers the lane
// queue metrics with registrar. Either may be nil.
func WithMetrics(m *metric.Metrics, registrar metric.MetricsRegistrar) Option {
	return func(d *Dispatcher) {
		d.metrics = m
		d.registrar = registrar
	}
}

// WithQueueSize sets the per-lane queue capacity. The default is 256.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// New creates a dispatcher reading schemas from reg and gating indications
// on events.
func New(reg *catalog.Registry, events *EventRegistry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:   reg,
		events:    events,
		logger:    slog.Default(),
		queueSize: 256,
		subs:      make(map[message.ID][]subscription),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d
}

// Decode looks the frame up in the catalog and decodes its body. Unknown
// TLVs are skipped.
func (d *Dispatcher) Decode(f message.Frame) (*message.Message, error) {
	entry, err := d.catalog.Entry(f.ID, f.Kind)
	if err != nil {
		return nil, qerrors.WrapInvalid(fmt.Errorf("%w: %s %s", ErrUnknownMessage, f.Kind, f.ID),
			"Dispatcher", "Decode", "catalog lookup")
	}

	values, present, err := tlv.Decode(entry.Schema, f.Body, tlv.OnUnknownTag(func(tag uint8, value []byte) {
		d.logger.Debug("Skipped unknown TLV",
			"message", entry.Name, "kind", f.Kind.String(), "tag", tag, "length", len(value))
	}))
	if err != nil {
		d.metrics.RecordDecodeFailure(entry.Name, decodeReason(err))
		return nil, qerrors.WrapInvalid(err, "Dispatcher", "Decode", "decode "+entry.Schema.Name())
	}

	return &message.Message{
		ID:      f.ID,
		Kind:    f.Kind,
		Txn:     f.Txn,
		Name:    entry.Name,
		Values:  values,
		Present: present,
	}, nil
}

// Dispatch decodes an indication and queues it on its lane. Frames that
// cannot be delivered are logged and dropped; the returned error says why.
func (d *Dispatcher) Dispatch(f message.Frame) error {
	if f.Kind != message.Indication {
		return fmt.Errorf("%w: %s", ErrNotIndication, f)
	}

	entry, err := d.catalog.Entry(f.ID, message.Indication)
	if err != nil {
		d.logger.Warn("Dropped unknown indication", "id", f.ID.String(), "length", len(f.Body))
		d.metrics.RecordDropped(string(catalog.LaneGeneral), "unknown_message")
		return fmt.Errorf("%w: %s", ErrUnknownMessage, f)
	}

	lane := string(entry.Lane)
	if entry.Event != 0 && !d.events.Has(entry.Event) {
		d.logger.Warn("Dropped indication for unregistered event",
			"message", entry.Name, "event", entry.Event.String())
		d.metrics.RecordDropped(lane, "event_not_registered")
		return fmt.Errorf("%w: %s (%s)", ErrEventNotRegistered, entry.Name, entry.Event)
	}

	m, err := d.Decode(f)
	if err != nil {
		d.logger.Warn("Dropped malformed indication", "message", entry.Name, "error", err)
		d.metrics.RecordDropped(lane, "malformed")
		return err
	}

	d.lifecycleMu.Lock()
	pool := d.lanes[entry.Lane]
	d.lifecycleMu.Unlock()
	if pool == nil {
		return qerrors.WrapTransient(qerrors.ErrNotStarted, "Dispatcher", "Dispatch", "lane lookup")
	}

	if err := pool.Submit(m); err != nil {
		d.logger.Warn("Dropped indication, lane queue full", "message", entry.Name, "lane", lane)
		d.metrics.RecordDropped(lane, "queue_full")
		return qerrors.WrapTransient(err, "Dispatcher", "Dispatch", "queue on lane "+lane)
	}
	return nil
}

// Subscribe registers h for indications with the given ID and returns a
// function removing it. Handlers of one ID run in subscription order.
func (d *Dispatcher) Subscribe(id message.ID, h Handler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	key := d.nextID
	d.subs[id] = append(d.subs[id], subscription{key: key, h: h})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.subs[id]
		for i, s := range subs {
			if s.key == key {
				d.subs[id] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(d.subs[id]) == 0 {
			delete(d.subs, id)
		}
	}
}

// Start launches one worker per lane.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.lanes != nil {
		return qerrors.WrapInvalid(qerrors.ErrAlreadyStarted, "Dispatcher", "Start", "lane startup")
	}

	ctx, cancel := context.WithCancel(ctx)
	lanes := make(map[catalog.Lane]*worker.Pool[*message.Message], len(catalog.Lanes()))
	for _, lane := range catalog.Lanes() {
		lane := lane
		opts := []worker.Option[*message.Message]{
			worker.WithErrorHandler(func(m *message.Message, err error) {
				d.logger.Error("Indication handler failed", "message", m.Name, "lane", string(lane), "error", err)
			}),
		}
		if d.registrar != nil {
			opts = append(opts, worker.WithMetricsRegistry[*message.Message](d.registrar, "qmiloc_lane_"+string(lane)))
		}
		pool := worker.NewPool(1, d.queueSize, func(ctx context.Context, m *message.Message) error {
			return d.deliver(ctx, lane, m)
		}, opts...)
		if err := pool.Start(ctx); err != nil {
			cancel()
			return qerrors.WrapFatal(err, "Dispatcher", "Start", "start lane "+string(lane))
		}
		lanes[lane] = pool
	}

	d.lanes = lanes
	d.cancel = cancel
	d.logger.Debug("Dispatcher started", "lanes", len(lanes), "queue_size", d.queueSize)
	return nil
}

// Stop drains every lane, waiting at most timeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.lifecycleMu.Lock()
	lanes, cancel := d.lanes, d.cancel
	d.lanes, d.cancel = nil, nil
	d.lifecycleMu.Unlock()

	if lanes == nil {
		return nil
	}
	defer cancel()

	var g errgroup.Group
	for lane, pool := range lanes {
		lane, pool := lane, pool
		g.Go(func() error {
			if err := pool.Stop(timeout); err != nil {
				return fmt.Errorf("lane %s: %w", lane, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return qerrors.WrapTransient(err, "Dispatcher", "Stop", "drain lanes")
	}
	d.logger.Debug("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, lane catalog.Lane, m *message.Message) (err error) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.subs[m.ID]))
	for _, s := range d.subs[m.ID] {
		handlers = append(handlers, s.h)
	}
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.logger.Debug("No subscriber for indication", "message", m.Name, "lane", string(lane))
		d.metrics.RecordDropped(string(lane), "no_subscriber")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	for _, h := range handlers {
		h(ctx, m)
	}
	d.metrics.RecordDelivered(string(lane), m.Name)
	return nil
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, tlv.ErrTruncated):
		return "truncated"
	case errors.Is(err, tlv.ErrArrayTooLong):
		return "array_too_long"
	case errors.Is(err, tlv.ErrMissingMandatory):
		return "missing_mandatory"
	case errors.Is(err, tlv.ErrInvalidEnum):
		return "invalid_enum"
	case errors.Is(err, tlv.ErrDuplicateTag):
		return "duplicate_tag"
	case errors.Is(err, tlv.ErrUnknownTag):
		return "unknown_tag"
	}
	return "malformed"
}
