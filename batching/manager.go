// Package batching tracks the single position batching session of a client:
// NoSession -> Batching -> Stopped -> NoSession.
//
// StartBatching is only valid without a session; ReleaseBatch must follow
// StopBatching exactly once before batching can start again.
package batching

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/metric"
)

var (
	// ErrAlreadyBatching is returned by BeginStart while a session is
	// starting or batching.
	ErrAlreadyBatching = errors.New("batching session already active")

	// ErrReleaseRequired is returned by BeginStart after StopBatching and
	// before ReleaseBatch.
	ErrReleaseRequired = errors.New("batch not released")

	// ErrNotBatching is returned for reads and stops outside a session.
	ErrNotBatching = errors.New("no batching session")

	// ErrNotStopped is returned by Release unless the session is stopped.
	ErrNotStopped = errors.New("batching session not stopped")
)

// State of the batching session.
type State int

// Batching states.
const (
	NoSession State = iota
	Starting
	Batching
	Stopped
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case Starting:
		return "starting"
	case Batching:
		return "batching"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Params are the StartBatching parameters. Zero fields are not sent.
type Params struct {
	MinInterval uint32
	Accuracy    loc.Accuracy
	// Timeout is the fix session timeout in milliseconds.
	Timeout uint32
}

// Session is a snapshot of the batching session.
type Session struct {
	State  State
	Params Params
	// BatchSize is the size negotiated with GetBatchSize, zero if unknown.
	BatchSize uint32
	// Read counts entries returned by ReadFromBatch in this session.
	Read int
	// LastBatchFull is the fix count of the latest BatchFull notification.
	LastBatchFull uint32
	BatchFulls    int
}

// Manager holds the batching session.
type Manager struct {
	mu      sync.Mutex
	session Session

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

// NewManager creates a manager with no session.
func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "batching")
	return m
}

func (m *Manager) setState(s State) {
	if m.session.State == s {
		return
	}
	m.logger.Debug("Batching state changed", "from", m.session.State.String(), "to", s.String())
	m.session.State = s
	m.metrics.RecordTransition("batching", s.String())
}

// SetBatchSize records the size granted by GetBatchSize.
func (m *Manager) SetBatchSize(n uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.BatchSize = n
}

// BeginStart reserves the session for a StartBatching request.
func (m *Manager) BeginStart(p Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.session.State {
	case Starting, Batching:
		return ErrAlreadyBatching
	case Stopped:
		return ErrReleaseRequired
	}
	size := m.session.BatchSize
	m.session = Session{Params: p, BatchSize: size}
	m.setState(Starting)
	return nil
}

// Started completes BeginStart with the status of the StartBatching
// indication. A failure returns the session to NoSession.
func (m *Manager) Started(status loc.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.State != Starting {
		return fmt.Errorf("%w: start completed in state %s", ErrNotBatching, m.session.State)
	}
	if !status.OK() {
		m.setState(NoSession)
		return status.Err("start batching")
	}
	m.setState(Batching)
	return nil
}

// CanStop reports ErrNotBatching unless a StopBatching request is valid.
func (m *Manager) CanStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != Batching {
		return fmt.Errorf("%w: state %s", ErrNotBatching, m.session.State)
	}
	return nil
}

// Stop moves a batching session to Stopped after a successful StopBatching.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != Batching {
		return fmt.Errorf("%w: state %s", ErrNotBatching, m.session.State)
	}
	m.setState(Stopped)
	return nil
}

// CanRelease reports ErrNotStopped unless a ReleaseBatch request is valid.
func (m *Manager) CanRelease() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != Stopped {
		return fmt.Errorf("%w: state %s", ErrNotStopped, m.session.State)
	}
	return nil
}

// Release ends a stopped session after a successful ReleaseBatch.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != Stopped {
		return fmt.Errorf("%w: state %s", ErrNotStopped, m.session.State)
	}
	size := m.session.BatchSize
	m.session = Session{BatchSize: size}
	m.metrics.RecordTransition("batching", NoSession.String())
	m.logger.Debug("Batching state changed", "from", Stopped.String(), "to", NoSession.String())
	return nil
}

// CanRead reports ErrNotBatching unless the engine holds a batch.
func (m *Manager) CanRead() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != Batching && m.session.State != Stopped {
		return fmt.Errorf("%w: state %s", ErrNotBatching, m.session.State)
	}
	return nil
}

// RecordRead accounts for one ReadFromBatch result and reports whether the
// batch is drained, which is when fewer entries came back than requested.
func (m *Manager) RecordRead(requested, returned int) (drained bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Read += returned
	return returned < requested
}

// HandleBatchFull records a BatchFull notification and reports whether it
// belongs to a live session.
func (m *Manager) HandleBatchFull(count uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.State != Batching && m.session.State != Stopped {
		m.logger.Debug("Ignored batch full outside a session", "count", count)
		return false
	}
	m.session.LastBatchFull = count
	m.session.BatchFulls++
	return true
}

// Live reports whether a live batched position report should be delivered.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State == Batching
}

// State returns the session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

// Session returns a snapshot of the session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Reset forgets the session, as on disconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = Session{}
}
