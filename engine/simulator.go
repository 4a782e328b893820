package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/dispatch"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/geofence"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/metric"
	"github.com/c360/qmiloc/pkg/buffer"
	"github.com/c360/qmiloc/tlv"
	"github.com/c360/qmiloc/transport"
)

var (
	// ErrNotRegistered is returned by the Emit methods when the client has
	// not registered the indication's event bit. Nothing is sent.
	ErrNotRegistered = errors.New("event not registered by client")

	// ErrNotBatching is returned by PushFix outside an active batching
	// session.
	ErrNotBatching = errors.New("batching not active")
)

// Config tunes the simulated engine.
type Config struct {
	// ServiceRevision is reported by GetServiceRevision. Zero reports the
	// catalog revision.
	ServiceRevision uint32
	// Version is reported as gnssSWVerString when set.
	Version string
	// MaxGeofences caps programmed geofences. Default 64.
	MaxGeofences int
	// MaxBatchSize caps the batch size granted by GetBatchSize. Default 100.
	MaxBatchSize uint32
	// FixInterval enables periodic reports for every active session, and
	// a batched fix per tick while batching. Zero disables them.
	FixInterval time.Duration
	// Origin is the position reported by periodic fixes.
	Origin loc.Position
}

func (c Config) withDefaults(reg *catalog.Registry) Config {
	if c.ServiceRevision == 0 {
		c.ServiceRevision = reg.Revision()
	}
	if c.MaxGeofences <= 0 {
		c.MaxGeofences = 64
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 100
	}
	return c
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// WithMetrics registers simulator metrics with registrar.
func WithMetrics(registrar metric.MetricsRegistrar) Option {
	return func(s *Simulator) { s.registrar = registrar }
}

// NIResponse is a NiUserResponse received from the client.
type NIResponse struct {
	Response   loc.UserResponse
	NotifyType loc.NotifyType
	Payload    tlv.Values
}

// AssistDeletion is a DeleteAssistData request received from the client.
type AssistDeletion struct {
	All  bool
	Mask loc.AssistDataMask
}

type fence struct {
	circle         geofence.Circle
	mask           loc.BreachMask
	state          loc.GeofenceState
	responsiveness loc.Responsiveness
	contexts       []uint32
}

type batchState int

const (
	batchNone batchState = iota
	batchActive
	batchStopped
)

type orbitUpload struct {
	totalSize  uint32
	totalParts uint16
	next       uint16
	data       []byte
}

// reply is what a request handler decided. A non-zero qmiErr fails the
// response and suppresses the indication.
type reply struct {
	qmiErr uint16
	resp   tlv.Values
	ind    tlv.Values
	after  []outbound
}

type outbound struct {
	id     message.ID
	values tlv.Values
}

// Simulator is the service side of the Location Service.
type Simulator struct {
	cfg       Config
	tr        transport.Transport
	reg       *catalog.Registry
	decoder   *dispatch.Dispatcher
	logger    *slog.Logger
	registrar metric.MetricsRegistrar
	metrics   *simMetrics

	sendMu sync.Mutex

	mu             sync.Mutex
	events         loc.EventMask
	clientRevision uint32
	sessions       map[uint8]loc.Recurrence
	criteria       tlv.Values
	fences         map[uint32]*fence
	nextFenceID    uint32
	nextContextID  uint32
	batch          buffer.Buffer[loc.Position]
	batchState     batchState
	batchSize      uint32
	batchParams    tlv.Values
	fullReported   bool
	nextFixID      uint32
	orbits         orbitUpload
	orbitsInjected []byte
	utcTime        time.Time
	injected       *loc.Position
	deletions      []AssistDeletion
	niResponses    []NIResponse
	failNext       map[message.ID]loc.Status
	rejectNext     map[message.ID]uint16
}

// NewSimulator creates a simulator answering requests read from tr.
func NewSimulator(tr transport.Transport, reg *catalog.Registry, cfg Config, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:        cfg.withDefaults(reg),
		tr:         tr,
		reg:        reg,
		logger:     slog.Default(),
		sessions:   make(map[uint8]loc.Recurrence),
		criteria:   tlv.Values{},
		fences:     make(map[uint32]*fence),
		failNext:   make(map[message.ID]loc.Status),
		rejectNext: make(map[message.ID]uint16),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "simulator")
	s.decoder = dispatch.New(reg, dispatch.NewEventRegistry(), dispatch.WithLogger(s.logger))

	metrics, err := newSimMetrics(s.registrar)
	if err != nil {
		s.logger.Error("Failed to initialize simulator metrics", "error", err)
	}
	s.metrics = metrics
	return s
}

// Run serves requests until ctx is cancelled or the transport closes.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("Simulator started",
		"revision", s.cfg.ServiceRevision, "fix_interval", s.cfg.FixInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.serve(ctx)
	})
	if s.cfg.FixInterval > 0 {
		g.Go(func() error { return s.autoFix(ctx) })
	}
	err := g.Wait()
	s.logger.Info("Simulator stopped")
	return err
}

func (s *Simulator) serve(ctx context.Context) error {
	for {
		f, err := s.tr.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, qerrors.ErrClosed) {
				return nil
			}
			return qerrors.Wrap(err, "Simulator", "Run", "receive frame")
		}
		if f.Kind != message.Request {
			s.logger.Warn("Ignored non-request frame", "frame", f.String())
			continue
		}
		if err := s.handle(ctx, f); err != nil {
			if ctx.Err() != nil || errors.Is(err, qerrors.ErrClosed) {
				return nil
			}
			s.logger.Error("Failed to answer request", "frame", f.String(), "error", err)
		}
	}
}

func (s *Simulator) handle(ctx context.Context, f message.Frame) error {
	h, supported := handlers[f.ID]
	if _, err := s.reg.Entry(f.ID, message.Request); err != nil || !supported {
		s.metrics.recordRequest(f.ID.String(), false)
		s.logger.Debug("Unsupported request", "msg_id", f.ID.String())
		return s.sendRaw(ctx, message.Frame{
			ID: f.ID, Kind: message.Response, Txn: f.Txn,
			Body: failureResp(loc.QMIErrNotSupported),
		})
	}

	entry, _ := s.reg.Entry(f.ID, message.Request)
	m, err := s.decoder.Decode(f)
	if err != nil {
		s.metrics.recordRequest(entry.Name, false)
		s.logger.Warn("Malformed request", "message", entry.Name, "error", err)
		return s.respond(ctx, f, reply{qmiErr: loc.QMIErrMalformedMsg})
	}

	s.mu.Lock()
	var r reply
	if code, ok := s.rejectNext[f.ID]; ok {
		delete(s.rejectNext, f.ID)
		r = reply{qmiErr: code}
	} else if st, ok := s.failNext[f.ID]; ok {
		delete(s.failNext, f.ID)
		r = s.failure(m, st)
	} else {
		r = h(s, m)
	}
	s.mu.Unlock()

	s.metrics.recordRequest(entry.Name, r.qmiErr == loc.QMIErrNone)
	s.logger.Debug("Answered request", "message", entry.Name, "txn", f.Txn, "qmi_error", r.qmiErr)

	if err := s.respond(ctx, f, r); err != nil {
		return err
	}
	for _, o := range r.after {
		if err := s.emit(ctx, o.id, o.values); err != nil && !errors.Is(err, ErrNotRegistered) {
			return err
		}
	}
	return nil
}

// failure builds the status indication of a scripted failure. Correlation
// fields are echoed from the request.
func (s *Simulator) failure(m *message.Message, st loc.Status) reply {
	schema, err := s.reg.Lookup(m.ID, message.Indication)
	if err != nil {
		return reply{}
	}
	ind := status(st)
	for _, f := range schema.Fields() {
		switch f.Name {
		case "transactionId", "geofenceId":
			if v, ok := m.Values[f.Name]; ok {
				ind[f.Name] = v
			}
		case "revision":
			ind[f.Name] = s.cfg.ServiceRevision
		case "batchSize":
			ind[f.Name] = uint32(0)
		}
	}
	return reply{ind: ind}
}

func (s *Simulator) respond(ctx context.Context, f message.Frame, r reply) error {
	result := loc.ResultSuccess
	if r.qmiErr != loc.QMIErrNone {
		result = loc.ResultFailure
	}
	values := tlv.Values{"resp": tlv.Values{"result": result, "error": r.qmiErr}}
	for k, v := range r.resp {
		values[k] = v
	}
	if err := s.send(ctx, f.ID, message.Response, f.Txn, values); err != nil {
		return err
	}
	if r.qmiErr != loc.QMIErrNone || r.ind == nil {
		return nil
	}
	if _, err := s.reg.Lookup(f.ID, message.Indication); err != nil {
		return nil
	}
	return s.send(ctx, f.ID, message.Indication, 0, r.ind)
}

// emit sends an indication if its event bit is registered.
func (s *Simulator) emit(ctx context.Context, id message.ID, values tlv.Values) error {
	entry, err := s.reg.Entry(id, message.Indication)
	if err != nil {
		return err
	}
	if entry.Event != 0 && !s.Registered(entry.Event) {
		s.metrics.recordSuppressed(entry.Name)
		return fmt.Errorf("%w: %s", ErrNotRegistered, entry.Name)
	}
	return s.send(ctx, id, message.Indication, 0, values)
}

func (s *Simulator) send(ctx context.Context, id message.ID, kind message.Kind, txn uint16, values tlv.Values) error {
	entry, err := s.reg.Entry(id, kind)
	if err != nil {
		return err
	}
	body, err := tlv.Encode(entry.Schema, values)
	if err != nil {
		return qerrors.WrapInvalid(err, "Simulator", "send", "encode "+entry.Name)
	}
	if kind == message.Indication {
		s.metrics.recordIndication(entry.Name)
	}
	return s.sendRaw(ctx, message.Frame{ID: id, Kind: kind, Txn: txn, Body: body})
}

func (s *Simulator) sendRaw(ctx context.Context, f message.Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.tr.Send(ctx, f)
}

// SendFrame writes f as is, bypassing the codec and event gating.
func (s *Simulator) SendFrame(ctx context.Context, f message.Frame) error {
	return s.sendRaw(ctx, f)
}

// FailNext makes the next request of id succeed at the QMI level but carry
// st in its status indication.
func (s *Simulator) FailNext(id message.ID, st loc.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[id] = st
}

// RejectNext makes the next request of id fail its response with qmiErr.
func (s *Simulator) RejectNext(id message.ID, qmiErr uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext[id] = qmiErr
}

// Registered reports whether every bit of m is registered by the client.
func (s *Simulator) Registered(m loc.EventMask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Has(m)
}

// Events returns the client's registered event mask.
func (s *Simulator) Events() loc.EventMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// ClientRevision returns the revision the client announced.
func (s *Simulator) ClientRevision() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientRevision
}

// Sessions returns the active fix session IDs in ascending order.
func (s *Simulator) Sessions() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint8, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Geofences returns the programmed geofence IDs in ascending order.
func (s *Simulator) Geofences() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint32, 0, len(s.fences))
	for id := range s.fences {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Batched returns the number of fixes held in the batch buffer.
func (s *Simulator) Batched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return 0
	}
	return s.batch.Size()
}

// NIResponses returns the NI user responses received so far.
func (s *Simulator) NIResponses() []NIResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]NIResponse(nil), s.niResponses...)
}

// AssistDeletions returns the DeleteAssistData requests received so far.
func (s *Simulator) AssistDeletions() []AssistDeletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AssistDeletion(nil), s.deletions...)
}

// InjectedTime returns the last UTC time injected by the client.
func (s *Simulator) InjectedTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utcTime
}

// InjectedPosition returns the last position injected by the client.
func (s *Simulator) InjectedPosition() (loc.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injected == nil {
		return loc.Position{}, false
	}
	return *s.injected, true
}

// PredictedOrbits returns the last completely uploaded predicted orbits
// file.
func (s *Simulator) PredictedOrbits() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.orbitsInjected...)
}

func status(st loc.Status) tlv.Values {
	return tlv.Values{"status": int32(st)}
}

var respOnly = tlv.MustSchema("resp", tlv.Required(catalog.RespTag, "resp", tlv.StructOf(
	tlv.Mem("result", tlv.Scalar(tlv.Uint16)),
	tlv.Mem("error", tlv.Scalar(tlv.Uint16)),
)))

func failureResp(qmiErr uint16) []byte {
	body, _ := tlv.Encode(respOnly, tlv.Values{
		"resp": tlv.Values{"result": loc.ResultFailure, "error": qmiErr},
	})
	return body
}
