package geofence

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/metric"
	"github.com/c360/qmiloc/tlv"
)

// Result is the content of a geofence result indication that the manager
// acts on.
type Result struct {
	Op     Op
	Status loc.Status

	TransactionID    uint32
	HasTransactionID bool
	GeofenceID       uint32
	HasGeofenceID    bool
	ContextID        uint32
	HasContextID     bool

	// Query results.
	State    loc.GeofenceState
	HasState bool
	Circle   *Circle

	// Edit results: bits of the edit fields the engine rejected.
	FailedParams uint32
}

// ResultFrom extracts the Result of op from a decoded indication.
func ResultFrom(op Op, m *message.Message) Result {
	r := Result{Op: op}
	r.Status, _ = m.Status()
	r.TransactionID, r.HasTransactionID = message.Get[uint32](m, "transactionId")
	r.GeofenceID, r.HasGeofenceID = message.Get[uint32](m, "geofenceId")
	r.ContextID, r.HasContextID = message.Get[uint32](m, "contextId")
	r.State, r.HasState = message.Enum[loc.GeofenceState](m, "geofenceState")
	r.FailedParams, _ = message.Get[uint32](m, "failedParams")
	if args, ok := message.Get[tlv.Values](m, "circularGeofenceArgs"); ok {
		c := CircleFrom(args)
		r.Circle = &c
	}
	return r
}

// CircleFrom reads a circularGeofenceArgs record.
func CircleFrom(v tlv.Values) Circle {
	var c Circle
	c.Latitude, _ = v["latitude"].(float64)
	c.Longitude, _ = v["longitude"].(float64)
	c.Radius, _ = v["radius"].(uint32)
	return c
}

// Values renders c as a circularGeofenceArgs record.
func (c Circle) Values() tlv.Values {
	return tlv.Values{"latitude": c.Latitude, "longitude": c.Longitude, "radius": c.Radius}
}

type pendingKey struct {
	op  Op
	txn uint32
}

type pending struct {
	geofenceID    uint32
	hasGeofenceID bool
	circle        Circle
	mask          loc.BreachMask
	edit          Edit
}

// Manager holds the geofences of one client and its in-flight geofence
// requests.
type Manager struct {
	mu      sync.Mutex
	fences  map[uint32]*Geofence
	pending map[pendingKey]pending

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records state transitions.
func WithMetrics(mt *metric.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		fences:  make(map[uint32]*Geofence),
		pending: make(map[pendingKey]pending),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "geofence")
	return m
}

func (m *Manager) begin(op Op, txn uint32, p pending) error {
	k := pendingKey{op: op, txn: txn}
	if _, ok := m.pending[k]; ok {
		return fmt.Errorf("%w: %s transaction %d", ErrTransactionInFlight, op, txn)
	}
	m.pending[k] = p
	return nil
}

func (m *Manager) known(id uint32) error {
	if _, ok := m.fences[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownGeofence, id)
	}
	return nil
}

// BeginAdd records an AddCircularGeofence request about to be sent.
func (m *Manager) BeginAdd(txn uint32, c Circle, mask loc.BreachMask) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := mask.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(OpAdd, txn, pending{circle: c, mask: mask})
}

// BeginDelete records a DeleteGeofence request about to be sent.
func (m *Manager) BeginDelete(txn, id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.known(id); err != nil {
		return err
	}
	return m.begin(OpDelete, txn, pending{geofenceID: id, hasGeofenceID: true})
}

// BeginEdit records an EditGeofence request about to be sent.
func (m *Manager) BeginEdit(txn, id uint32, e Edit) error {
	if err := e.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.known(id); err != nil {
		return err
	}
	return m.begin(OpEdit, txn, pending{geofenceID: id, hasGeofenceID: true, edit: e})
}

// BeginQuery records a QueryGeofence request about to be sent. Geofences
// this client did not add may be queried.
func (m *Manager) BeginQuery(txn, id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(OpQuery, txn, pending{geofenceID: id, hasGeofenceID: true})
}

// BeginAddContext records an AddGeofenceContext request about to be sent.
// Without a geofence ID the engine creates a new geofence for the context.
func (m *Manager) BeginAddContext(txn uint32, id uint32, hasID bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hasID {
		if err := m.known(id); err != nil {
			return err
		}
	}
	return m.begin(OpAddContext, txn, pending{geofenceID: id, hasGeofenceID: hasID})
}

// Abandon forgets a pending operation whose request could not be sent or
// whose result never arrived.
func (m *Manager) Abandon(op Op, txn uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, pendingKey{op: op, txn: txn})
}

// match finds the pending operation a result belongs to. Results normally
// echo the transaction ID; without it the geofence ID is used, and failing
// that a lone pending operation of the same kind.
func (m *Manager) match(r Result) (pendingKey, pending, bool) {
	if r.HasTransactionID {
		k := pendingKey{op: r.Op, txn: r.TransactionID}
		p, ok := m.pending[k]
		return k, p, ok
	}

	var (
		lone  pendingKey
		count int
	)
	for k, p := range m.pending {
		if k.op != r.Op {
			continue
		}
		if r.HasGeofenceID && p.hasGeofenceID && p.geofenceID == r.GeofenceID {
			return k, p, true
		}
		lone = k
		count++
	}
	if count == 1 {
		return lone, m.pending[lone], true
	}
	return pendingKey{}, pending{}, false
}

// HandleResult applies the result indication of a pending operation and
// returns the affected geofence. A failure status is returned as a
// *loc.StatusError and leaves every geofence unchanged.
func (m *Manager) HandleResult(r Result) (Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, p, ok := m.match(r)
	if !ok {
		m.logger.Warn("Uncorrelated geofence result",
			"op", r.Op.String(), "transaction_id", r.TransactionID, "geofence_id", r.GeofenceID)
		return Geofence{}, fmt.Errorf("%w: %s transaction %d", ErrUncorrelated, r.Op, r.TransactionID)
	}
	delete(m.pending, k)

	if !r.Status.OK() {
		m.logger.Debug("Geofence request failed",
			"op", r.Op.String(), "transaction_id", k.txn, "status", r.Status.String())
		return Geofence{}, r.Status.Err("geofence " + r.Op.String())
	}

	id := p.geofenceID
	if r.HasGeofenceID {
		id = r.GeofenceID
	} else if !p.hasGeofenceID {
		return Geofence{}, fmt.Errorf("%w: %s transaction %d", ErrMissingGeofenceID, r.Op, k.txn)
	}

	switch r.Op {
	case OpAdd:
		g := &Geofence{
			ID:            id,
			TransactionID: k.txn,
			State:         Active,
			Circle:        p.circle,
			BreachMask:    p.mask,
		}
		if old, ok := m.fences[id]; ok {
			m.logger.Warn("Engine reassigned a live geofence id", "geofence_id", id, "previous_transaction_id", old.TransactionID)
		}
		m.fences[id] = g
		m.transition(Active)
		return g.clone(), nil

	case OpDelete:
		g, ok := m.fences[id]
		if !ok {
			return Geofence{ID: id, TransactionID: k.txn, State: Removed}, nil
		}
		delete(m.fences, id)
		g.State = Removed
		m.transition(Removed)
		return g.clone(), nil

	case OpEdit:
		g, ok := m.fences[id]
		if !ok {
			return Geofence{}, fmt.Errorf("%w: %d", ErrUnknownGeofence, id)
		}
		if r.FailedParams != 0 {
			m.logger.Warn("Geofence edit partially rejected", "geofence_id", id, "failed_params", r.FailedParams)
		}
		if p.edit.State != nil {
			g.State = stateOf(*p.edit.State)
			m.transition(g.State)
		}
		if p.edit.BreachMask != nil {
			g.BreachMask = *p.edit.BreachMask
		}
		if p.edit.Responsiveness != nil {
			g.Responsiveness = *p.edit.Responsiveness
		}
		return g.clone(), nil

	case OpQuery:
		g, ok := m.fences[id]
		if !ok {
			out := Geofence{ID: id, TransactionID: k.txn, State: Removed}
			if r.HasState {
				out.State = stateOf(r.State)
			}
			if r.Circle != nil {
				out.Circle = *r.Circle
			}
			return out, nil
		}
		if r.HasState {
			g.State = stateOf(r.State)
		}
		if r.Circle != nil {
			g.Circle = *r.Circle
		}
		return g.clone(), nil

	case OpAddContext:
		g, ok := m.fences[id]
		if !ok {
			// Engine-created geofences report both crossings.
			g = &Geofence{ID: id, TransactionID: k.txn, State: Active,
				BreachMask: loc.BreachMaskEntering | loc.BreachMaskLeaving}
			m.fences[id] = g
			m.transition(Active)
		}
		if r.HasContextID && !g.hasContext(r.ContextID) {
			g.Contexts = append(g.Contexts, r.ContextID)
		}
		return g.clone(), nil
	}
	return Geofence{}, fmt.Errorf("unknown geofence op %d", int(r.Op))
}

func (m *Manager) transition(to State) {
	m.metrics.RecordTransition("geofence", to.String())
}

// HandleBreach reports whether a breach notification should be delivered:
// the geofence must be active here and its mask must select the crossing.
func (m *Manager) HandleBreach(id uint32, breach loc.BreachType) (Geofence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.fences[id]
	if !ok {
		m.logger.Debug("Ignored breach for unknown geofence", "geofence_id", id, "breach", breach.String())
		return Geofence{}, false
	}
	if g.State != Active || !g.BreachMask.Reports(breach) {
		m.logger.Debug("Ignored unselected breach",
			"geofence_id", id, "breach", breach.String(), "state", g.State.String())
		return Geofence{}, false
	}
	return g.clone(), true
}

// HandleBatchedBreach filters a batched breach down to the geofences that
// would accept the crossing individually. The result is ordered by ID.
func (m *Manager) HandleBatchedBreach(breach loc.BreachType, ranges []Range, ids []uint32) []Geofence {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[uint32]bool)
	var out []Geofence
	accept := func(g *Geofence) {
		if seen[g.ID] || g.State != Active || !g.BreachMask.Reports(breach) {
			return
		}
		seen[g.ID] = true
		out = append(out, g.clone())
	}

	for _, id := range ids {
		if g, ok := m.fences[id]; ok {
			accept(g)
		}
	}
	if len(ranges) > 0 {
		for id, g := range m.fences {
			for _, r := range ranges {
				if r.contains(id) {
					accept(g)
					break
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HandleProximity reports whether a proximity notification should be
// delivered. A context ID the geofence does not carry is still delivered;
// the engine is the authority on contexts.
func (m *Manager) HandleProximity(id uint32, contextID uint32, hasContext bool) (Geofence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.fences[id]
	if !ok || g.State != Active {
		m.logger.Debug("Ignored proximity for inactive geofence", "geofence_id", id)
		return Geofence{}, false
	}
	if hasContext && !g.hasContext(contextID) {
		m.logger.Debug("Proximity carries unregistered context", "geofence_id", id, "context_id", contextID)
	}
	return g.clone(), true
}

// Get returns the geofence with the given ID.
func (m *Manager) Get(id uint32) (Geofence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.fences[id]
	if !ok {
		return Geofence{}, false
	}
	return g.clone(), true
}

// List returns every held geofence ordered by ID.
func (m *Manager) List() []Geofence {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Geofence, 0, len(m.fences))
	for _, g := range m.fences {
		out = append(out, g.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingCount returns the number of operations awaiting a result.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Reset drops all geofences and pending operations.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.fences)
	clear(m.pending)
}
