// Package session tracks fix sessions started with the Start request.
//
// A session is keyed by its client-chosen 1-byte session ID. Single sessions
// end with their first final position report; periodic sessions stay active
// until Stop. Reports that arrive for a session that is not active are stale
// and must be discarded by the caller.
package session

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

var (
	// ErrNotActive is returned by Stop for a session ID with no active session.
	ErrNotActive = errors.New("fix session not active")

	// ErrInvalidRecurrence is returned by Start for undefined recurrences.
	ErrInvalidRecurrence = errors.New("invalid fix recurrence")
)

// State of a fix session.
type State int

// Session states. A session that completed is Idle again.
const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Session is a snapshot of one active fix session.
type Session struct {
	ID         uint8
	Generation uint64
	Recurrence loc.Recurrence
	State      State
	Reports    int
	LastStatus loc.SessionStatus
	StartedAt  time.Time
}

// Report is the outcome of handing a position report to the tracker.
type Report struct {
	Session Session
	// Final is set when the report ended one fix attempt.
	Final bool
	// Ended is set when the report returned the session to Idle.
	Ended bool
}

// Tracker holds the active fix sessions of one client.
type Tracker struct {
	mu         sync.Mutex
	sessions   map[uint8]*Session
	generation uint64

	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithMetrics records state transitions.
func WithMetrics(m *metric.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		sessions: make(map[uint8]*Session),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "fix_session")
	return t
}

// Start marks id active. Reusing the ID of a session that is still active
// is a caller error: the old session is replaced by a new generation and
// reports are attributed to the new one from then on.
func (t *Tracker) Start(id uint8, recurrence loc.Recurrence) (Session, error) {
	if !recurrence.Valid() {
		return Session{}, fmt.Errorf("%w: %d", ErrInvalidRecurrence, int32(recurrence))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.sessions[id]; ok {
		t.logger.Warn("Fix session restarted while active",
			"session_id", id, "generation", old.Generation, "reports", old.Reports)
	}

	t.generation++
	s := &Session{
		ID:         id,
		Generation: t.generation,
		Recurrence: recurrence,
		State:      Active,
		StartedAt:  t.now(),
	}
	t.sessions[id] = s
	t.metrics.RecordTransition("fix", Active.String())
	t.logger.Debug("Fix session started", "session_id", id, "recurrence", recurrence.String())
	return *s, nil
}

// Stop returns id to Idle immediately. Reports arriving afterwards are stale.
func (t *Tracker) Stop(id uint8) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: session %d", ErrNotActive, id)
	}
	delete(t.sessions, id)
	s.State = Idle
	t.metrics.RecordTransition("fix", Idle.String())
	t.logger.Debug("Fix session stopped", "session_id", id, "reports", s.Reports)
	return *s, nil
}

// HandleReport applies a position report. It reports false when no session
// with that ID is active, in which case the report must be dropped.
func (t *Tracker) HandleReport(id uint8, status loc.SessionStatus) (Report, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		t.logger.Debug("Discarded stale position report", "session_id", id, "status", status.String())
		return Report{}, false
	}

	s.Reports++
	s.LastStatus = status
	r := Report{Final: status.Final()}
	if r.Final && s.Recurrence == loc.RecurrenceSingle {
		delete(t.sessions, id)
		s.State = Idle
		r.Ended = true
		t.metrics.RecordTransition("fix", Idle.String())
		t.logger.Debug("Fix session completed", "session_id", id, "status", status.String())
	}
	r.Session = *s
	return r, true
}

// State returns the state of id.
func (t *Tracker) State(id uint8) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; ok {
		return Active
	}
	return Idle
}

// Active lists the active sessions ordered by ID.
func (t *Tracker) Active() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset drops every session, as on disconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.sessions)
}
