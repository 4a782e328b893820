package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/qmiloc/batching"
	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/dispatch"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/geofence"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/metric"
	"github.com/c360/qmiloc/ni"
	"github.com/c360/qmiloc/session"
	"github.com/c360/qmiloc/tlv"
	"github.com/c360/qmiloc/transport"
)

// Defaults applied by New.
const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultStopTimeout    = 2 * time.Second
)

type waiter struct {
	match func(*message.Message) bool
	ch    chan *message.Message
}

// reply is what the receive loop hands a request waiting for its response.
// A closed channel means the connection was lost.
type reply struct {
	m   *message.Message
	err error
}

// Client speaks the Location Service protocol over a transport.
type Client struct {
	id        uuid.UUID
	tr        transport.Transport
	reg       *catalog.Registry
	events    *dispatch.EventRegistry
	disp      *dispatch.Dispatcher
	logger    *slog.Logger
	metrics   *metric.Metrics
	registrar metric.MetricsRegistrar

	timeout   time.Duration
	limiter   *rate.Limiter
	revision  uint32
	queueSize int
	niTimeout time.Duration

	sessions  *session.Tracker
	geofences *geofence.Manager
	batching  *batching.Manager
	ni        *ni.Manager

	wireTxn atomic.Uint32
	txn     atomic.Uint32
	regMu   sync.Mutex

	mu        sync.Mutex
	responses map[uint16]chan reply
	waiters   map[message.ID][]*waiter
	// status holds the indications that answer a request. They are
	// resolved on the receive loop, never on a lane.
	status    map[message.ID]bool
	supported []uint8
	started   bool
	closed    bool
	lost      bool

	cbMu sync.RWMutex
	cb   callbacks

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client on tr. Call Start before issuing requests.
func New(tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		id:        uuid.New(),
		tr:        tr,
		reg:       catalog.Default(),
		events:    dispatch.NewEventRegistry(),
		logger:    slog.Default(),
		timeout:   DefaultRequestTimeout,
		queueSize: 256,
		niTimeout: ni.DefaultTimeout,
		responses: make(map[uint16]chan reply),
		waiters:   make(map[message.ID][]*waiter),
		status:    make(map[message.ID]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.revision == 0 {
		c.revision = c.reg.Revision()
	}
	c.logger = c.logger.With("component", "client", "client_id", c.id.String())

	c.disp = dispatch.New(c.reg, c.events,
		dispatch.WithLogger(c.logger),
		dispatch.WithMetrics(c.metrics, c.registrar),
		dispatch.WithQueueSize(c.queueSize))
	c.sessions = session.NewTracker(session.WithLogger(c.logger), session.WithMetrics(c.metrics))
	c.geofences = geofence.NewManager(geofence.WithLogger(c.logger), geofence.WithMetrics(c.metrics))
	c.batching = batching.NewManager(batching.WithLogger(c.logger), batching.WithMetrics(c.metrics))
	c.ni = ni.NewManager(
		ni.WithLogger(c.logger),
		ni.WithMetrics(c.metrics),
		ni.WithDefaultTimeout(c.niTimeout),
		ni.WithExpireHandler(c.niExpired))

	c.subscribe()
	return c
}

// ID returns the client's instance ID.
func (c *Client) ID() uuid.UUID { return c.id }

// Registry returns the message catalog the client encodes with.
func (c *Client) Registry() *catalog.Registry { return c.reg }

// Start launches the dispatcher lanes and the receive loop. The client runs
// until Close or until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return qerrors.WrapInvalid(qerrors.ErrClosed, "Client", "Start", "start client")
	}
	if c.started {
		return qerrors.WrapInvalid(qerrors.ErrAlreadyStarted, "Client", "Start", "start client")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.disp.Start(c.ctx); err != nil {
		c.cancel()
		return err
	}
	c.done = make(chan struct{})
	c.started = true
	go c.receive()

	c.logger.Info("Client started", "revision", c.revision, "request_timeout", c.timeout)
	return nil
}

// Close stops the receive loop and the dispatcher, cancels NI timers and
// closes the transport. Pending requests fail with errors.ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	c.ni.Close()
	var errs []error
	if err := c.tr.Close(); err != nil {
		errs = append(errs, err)
	}
	if started {
		c.cancel()
		<-c.done
		if err := c.disp.Stop(DefaultStopTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	c.events.Reset()
	c.logger.Info("Client closed")
	return errors.Join(errs...)
}

func (c *Client) receive() {
	defer close(c.done)
	for {
		f, err := c.tr.Recv(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, qerrors.ErrClosed) {
				c.logger.Error("Receive failed", "error", err)
			}
			c.failPending()
			return
		}
		c.route(f)
	}
}

func (c *Client) route(f message.Frame) {
	name := f.ID.String()
	if entry, err := c.reg.Entry(f.ID, f.Kind); err == nil {
		name = entry.Name
	}
	c.metrics.RecordFrameReceived(f.Kind.String(), name)

	switch f.Kind {
	case message.Response:
		c.mu.Lock()
		ch, ok := c.responses[f.Txn]
		delete(c.responses, f.Txn)
		c.metrics.SetPending(len(c.responses))
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("Dropped uncorrelated response", "message", name, "txn", f.Txn)
			return
		}
		m, err := c.disp.Decode(f)
		if err != nil {
			c.logger.Warn("Dropped malformed response", "message", name, "txn", f.Txn, "error", err)
			ch <- reply{err: err}
			return
		}
		ch <- reply{m: m}

	case message.Indication:
		if c.status[f.ID] {
			c.resolveFrame(f, name)
			return
		}
		// Dispatch logs and counts every drop itself.
		_ = c.disp.Dispatch(f)

	default:
		c.logger.Warn("Dropped request frame from service", "message", name)
	}
}

// failPending unblocks requests waiting for a response or a status
// indication after the receive loop ended. The service forgets a lost
// client's registrations, so the event mask is cleared too.
func (c *Client) failPending() {
	c.events.Reset()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = true
	for txn, ch := range c.responses {
		close(ch)
		delete(c.responses, txn)
	}
	for id, list := range c.waiters {
		for _, w := range list {
			close(w.ch)
		}
		delete(c.waiters, id)
	}
	c.metrics.SetPending(0)
}

// nextWireTxn returns the next non-zero frame transaction number.
func (c *Client) nextWireTxn() uint16 {
	for {
		if t := uint16(c.wireTxn.Add(1)); t != 0 {
			return t
		}
	}
}

// nextTransaction returns the next transactionId for geofence and
// batching requests.
func (c *Client) nextTransaction() uint32 {
	return c.txn.Add(1)
}

// matchField accepts indications whose field equals want, and indications
// that omit the field.
func matchField[T comparable](field string, want T) func(*message.Message) bool {
	return func(m *message.Message) bool {
		if !m.Has(field) {
			return true
		}
		v, ok := message.Get[T](m, field)
		return ok && v == want
	}
}

type call struct {
	id     message.ID
	values tlv.Values
	// match selects the status indication answering this call. Nil takes
	// the first one.
	match func(*message.Message) bool
}

// do sends a request, waits for its response and, when the message has a
// status indication, for that indication. A failed response yields a
// *ResponseError. The status indication is returned as is; callers turn
// its status into an error.
func (c *Client) do(ctx context.Context, rq call) (resp, ind *message.Message, err error) {
	entry, err := c.reg.Entry(rq.id, message.Request)
	if err != nil {
		return nil, nil, qerrors.WrapInvalid(err, "Client", "do", "catalog lookup")
	}
	name := entry.Name

	c.mu.Lock()
	if !c.started || c.closed {
		c.mu.Unlock()
		return nil, nil, qerrors.WrapTransient(qerrors.ErrNotStarted, "Client", name, "send request")
	}
	c.mu.Unlock()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, qerrors.WrapTransient(fmt.Errorf("%w: %v", qerrors.ErrRateLimited, err), "Client", name, "rate limit")
		}
	}

	body, err := tlv.Encode(entry.Schema, rq.values)
	if err != nil {
		return nil, nil, qerrors.WrapInvalid(err, "Client", name, "encode request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()

	txn := c.nextWireTxn()
	respCh := make(chan reply, 1)
	var w *waiter
	_, hasInd := c.indication(rq.id)

	c.mu.Lock()
	if c.lost {
		c.mu.Unlock()
		return nil, nil, qerrors.WrapTransient(qerrors.ErrConnectionLost, "Client", name, "send request")
	}
	c.responses[txn] = respCh
	if hasInd {
		w = &waiter{match: rq.match, ch: make(chan *message.Message, 1)}
		c.waiters[rq.id] = append(c.waiters[rq.id], w)
	}
	c.metrics.SetPending(len(c.responses))
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.responses, txn)
		if w != nil {
			c.dropWaiter(rq.id, w)
		}
		c.metrics.SetPending(len(c.responses))
		c.mu.Unlock()
	}

	f := message.Frame{ID: rq.id, Kind: message.Request, Txn: txn, Body: body}
	if err := c.tr.Send(ctx, f); err != nil {
		cleanup()
		return nil, nil, qerrors.WrapTransient(err, "Client", name, "send request")
	}
	c.metrics.RecordFrameSent(message.Request.String(), name)
	c.logger.Debug("Request sent", "message", name, "txn", txn, "length", len(body))

	var r reply
	var ok bool
	select {
	case r, ok = <-respCh:
	case <-ctx.Done():
		cleanup()
		return nil, nil, c.waitError(ctx, name, "response")
	}
	if !ok {
		cleanup()
		return nil, nil, qerrors.WrapTransient(qerrors.ErrConnectionLost, "Client", name, "await response")
	}
	if r.err != nil {
		cleanup()
		return nil, nil, qerrors.WrapInvalid(r.err, "Client", name, "decode response")
	}
	resp = r.m

	result, code, _ := resp.Resp()
	if result != loc.ResultSuccess {
		cleanup()
		rerr := &ResponseError{Message: name, Result: result, Code: code}
		c.metrics.RecordProtocolFailure(name, rerr.Status().String())
		return resp, nil, rerr
	}
	if w == nil {
		c.metrics.RecordRequest(name, time.Since(start))
		return resp, nil, nil
	}

	select {
	case ind = <-w.ch:
	case <-ctx.Done():
		cleanup()
		return resp, nil, c.waitError(ctx, name, "status indication")
	}
	if ind == nil {
		return resp, nil, qerrors.WrapTransient(qerrors.ErrConnectionLost, "Client", name, "await status indication")
	}
	c.metrics.RecordRequest(name, time.Since(start))
	if st, ok := ind.Status(); ok && !st.OK() {
		c.metrics.RecordProtocolFailure(name, st.String())
	}
	return resp, ind, nil
}

func (c *Client) waitError(ctx context.Context, name, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return qerrors.WrapTransient(fmt.Errorf("%w: no %s", qerrors.ErrRequestTimeout, what), "Client", name, "await "+what)
	}
	return qerrors.WrapTransient(ctx.Err(), "Client", name, "await "+what)
}

// expect runs a request and converts a failure status in its indication
// into a *loc.StatusError.
func (c *Client) expect(ctx context.Context, rq call) (*message.Message, error) {
	_, ind, err := c.do(ctx, rq)
	if err != nil {
		return nil, err
	}
	if ind == nil {
		return nil, nil
	}
	st, _ := ind.Status()
	if err := st.Err(ind.Name); err != nil {
		return ind, err
	}
	return ind, nil
}

// indication reports whether id has a status indication answering its
// request, as opposed to an event indication.
func (c *Client) indication(id message.ID) (catalog.Entry, bool) {
	entry, err := c.reg.Entry(id, message.Indication)
	if err != nil || entry.Event != 0 {
		return catalog.Entry{}, false
	}
	return entry, true
}

// dropWaiter removes w; c.mu must be held.
func (c *Client) dropWaiter(id message.ID, w *waiter) {
	list := c.waiters[id]
	for i, x := range list {
		if x == w {
			c.waiters[id] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(c.waiters[id]) == 0 {
		delete(c.waiters, id)
	}
}

// resolveFrame decodes a status indication and hands it to its waiter.
// It runs on the receive loop so that a request issued from an indication
// callback is answered while that callback still occupies its lane.
func (c *Client) resolveFrame(f message.Frame, name string) {
	lane := string(catalog.LaneGeneral)
	if entry, err := c.reg.Entry(f.ID, message.Indication); err == nil {
		lane = string(entry.Lane)
	}
	m, err := c.disp.Decode(f)
	if err != nil {
		c.logger.Warn("Dropped malformed status indication", "message", name, "error", err)
		c.metrics.RecordDropped(lane, "malformed")
		return
	}
	c.resolve(m, lane)
}

// resolve hands a status indication to the oldest waiter it matches.
// Waiter channels are buffered and receive once, so this never blocks.
func (c *Client) resolve(m *message.Message, lane string) {
	c.mu.Lock()
	for _, w := range c.waiters[m.ID] {
		if w.match == nil || w.match(m) {
			c.dropWaiter(m.ID, w)
			c.mu.Unlock()
			w.ch <- m
			return
		}
	}
	c.mu.Unlock()

	c.metrics.RecordDropped(lane, "uncorrelated")
	c.logger.Warn("Dropped uncorrelated status indication", "message", m.Name)
}

// subscribe wires the dispatcher to the state machines and records which
// indications answer synchronous requests.
func (c *Client) subscribe() {
	for _, e := range c.reg.Entries() {
		if e.Kind != message.Indication || e.Event != 0 {
			continue
		}
		if _, err := c.reg.Entry(e.ID, message.Request); err != nil {
			continue
		}
		c.status[e.ID] = true
	}

	c.disp.Subscribe(catalog.IDPositionReport, c.onPositionReport)
	c.disp.Subscribe(catalog.IDFixSessionState, c.onFixSessionState)
	c.disp.Subscribe(catalog.IDNMEA, c.onNMEA)
	c.disp.Subscribe(catalog.IDGeofenceBreach, c.onBreach)
	c.disp.Subscribe(catalog.IDGeofenceBatchedBreach, c.onBatchedBreach)
	c.disp.Subscribe(catalog.IDGeofenceProximity, c.onProximity)
	c.disp.Subscribe(catalog.IDBatchFull, c.onBatchFull)
	c.disp.Subscribe(catalog.IDLiveBatchedPositionReport, c.onLiveBatched)
	c.disp.Subscribe(catalog.IDNiNotifyVerifyReq, c.onNINotify)
}

// Subscribe registers h for every delivered indication with the given ID,
// in addition to the client's own handling. Status indications answering
// requests go to the waiting request and are not delivered here.
func (c *Client) Subscribe(id message.ID, h dispatch.Handler) (unsubscribe func()) {
	return c.disp.Subscribe(id, h)
}

// Events returns the event mask the client currently accepts.
func (c *Client) Events() loc.EventMask {
	return c.events.Load()
}
