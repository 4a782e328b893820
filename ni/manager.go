// Package ni tracks network initiated location requests awaiting a user
// response.
//
// Each NiNotifyVerifyReq indication becomes a Request. Requests whose
// notification type asks for verification stay Indicated until the user
// answers or the response timer fires, at which point the request is
// resolved as ImplicitNoResp and the expire handler is told so the client
// can send a NoResp answer. Exactly one response per request is accepted.
package ni

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/metric"
)

// DefaultTimeout applies when the payload carries no response timer.
const DefaultTimeout = 20 * time.Second

// Resolved requests kept for Get after they leave the pending set.
const historySize = 32

var (
	// ErrUnknownRequest is returned for request IDs never indicated or
	// already forgotten.
	ErrUnknownRequest = errors.New("unknown NI request")

	// ErrAlreadyResolved is returned for a second response to a request.
	ErrAlreadyResolved = errors.New("NI request already resolved")

	// ErrNoResponseRequired is returned when answering a notification that
	// does not ask for verification.
	ErrNoResponseRequired = errors.New("NI notification requires no response")

	// ErrInvalidResponse is returned for undefined user responses.
	ErrInvalidResponse = errors.New("invalid NI user response")
)

// State of an NI request.
type State int

// Request states.
const (
	Indicated State = iota
	Resolved
	ImplicitNoResp
	// Informational requests only notify the user and never need an answer.
	Informational
)

func (s State) String() string {
	switch s {
	case Indicated:
		return "indicated"
	case Resolved:
		return "resolved"
	case ImplicitNoResp:
		return "implicit_no_resp"
	case Informational:
		return "informational"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Request is a snapshot of one network initiated request.
type Request struct {
	ID          uint64
	NotifyType  loc.NotifyType
	Payload     Payload
	State       State
	Response    loc.UserResponse
	IndicatedAt time.Time
	Deadline    time.Time
}

type entry struct {
	req   Request
	timer *time.Timer
}

// Manager holds outstanding NI requests and their response timers.
type Manager struct {
	mu       sync.Mutex
	requests map[uint64]*entry
	nextID   uint64
	closed   bool

	defaultTimeout time.Duration
	onExpire       func(Request)
	logger         *slog.Logger
	metrics        *metric.Metrics
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

// WithDefaultTimeout replaces DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// WithExpireHandler is called, outside the manager lock, for every request
// that timed out without a response.
func WithExpireHandler(fn func(Request)) Option {
	return func(m *Manager) { m.onExpire = fn }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		requests:       make(map[uint64]*entry),
		defaultTimeout: DefaultTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "ni")
	return m
}

// Indicate records a new request and starts its response timer when the
// notification type asks for an answer.
func (m *Manager) Indicate(nt loc.NotifyType, p Payload) Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now()
	e := &entry{req: Request{
		ID:          m.nextID,
		NotifyType:  nt,
		Payload:     p,
		IndicatedAt: now,
	}}
	m.requests[e.req.ID] = e

	if !nt.RequiresResponse() {
		e.req.State = Informational
		m.metrics.RecordTransition("ni", Informational.String())
		m.prune()
		return e.req
	}

	timeout, ok := p.ResponseTimer()
	if !ok {
		timeout = m.defaultTimeout
	}
	e.req.State = Indicated
	e.req.Deadline = now.Add(timeout)
	if !m.closed {
		id := e.req.ID
		e.timer = time.AfterFunc(timeout, func() { m.expire(id) })
	}
	m.metrics.RecordTransition("ni", Indicated.String())
	m.logger.Debug("NI request indicated",
		"request_id", e.req.ID, "notify_type", nt.String(), "payload", p.Kind.String(), "timeout", timeout)
	return e.req
}

// Respond resolves an indicated request with the user's answer.
func (m *Manager) Respond(id uint64, resp loc.UserResponse) (Request, error) {
	if !resp.Valid() {
		return Request{}, fmt.Errorf("%w: %d", ErrInvalidResponse, int32(resp))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}
	switch e.req.State {
	case Informational:
		return e.req, fmt.Errorf("%w: %s", ErrNoResponseRequired, e.req.NotifyType)
	case Resolved, ImplicitNoResp:
		m.logger.Warn("Duplicate NI response dropped", "request_id", id, "state", e.req.State.String())
		return e.req, fmt.Errorf("%w: request %d is %s", ErrAlreadyResolved, id, e.req.State)
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.req.State = Resolved
	e.req.Response = resp
	m.metrics.RecordTransition("ni", Resolved.String())
	m.prune()
	return e.req, nil
}

// Revert returns a resolved request to Indicated when its response could not
// be delivered. The timer restarts with the time left before the deadline.
func (m *Manager) Revert(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.requests[id]
	if !ok || e.req.State != Resolved {
		return
	}
	e.req.State = Indicated
	e.req.Response = 0
	if m.closed {
		return
	}
	left := time.Until(e.req.Deadline)
	if left < 0 {
		left = 0
	}
	e.timer = time.AfterFunc(left, func() { m.expire(id) })
}

func (m *Manager) expire(id uint64) {
	m.mu.Lock()
	e, ok := m.requests[id]
	if !ok || e.req.State != Indicated || m.closed {
		m.mu.Unlock()
		return
	}
	e.timer = nil
	e.req.State = ImplicitNoResp
	e.req.Response = loc.UserNoResp
	req := e.req
	onExpire := m.onExpire
	m.metrics.RecordTransition("ni", ImplicitNoResp.String())
	m.prune()
	m.mu.Unlock()

	m.logger.Info("NI request timed out without a user response",
		"request_id", id, "notify_type", req.NotifyType.String())
	if onExpire != nil {
		onExpire(req)
	}
}

// prune forgets the oldest settled requests beyond historySize.
func (m *Manager) prune() {
	var settled []uint64
	for id, e := range m.requests {
		if e.req.State != Indicated {
			settled = append(settled, id)
		}
	}
	if len(settled) <= historySize {
		return
	}
	sort.Slice(settled, func(i, j int) bool { return settled[i] < settled[j] })
	for _, id := range settled[:len(settled)-historySize] {
		delete(m.requests, id)
	}
}

// Get returns the request with the given ID.
func (m *Manager) Get(id uint64) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.requests[id]
	if !ok {
		return Request{}, false
	}
	return e.req, true
}

// Pending lists the requests awaiting a response, oldest first.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, e := range m.requests {
		if e.req.State == Indicated {
			out = append(out, e.req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops every response timer. Pending requests stay Indicated and
// never expire.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, e := range m.requests {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
}
