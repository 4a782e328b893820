package session

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/metric"
)

func TestTracker_SingleSessionScenario(t *testing.T) {
	tr := NewTracker()

	s, err := tr.Start(5, loc.RecurrenceSingle)
	require.NoError(t, err)
	assert.Equal(t, Active, s.State)
	assert.Equal(t, Active, tr.State(5))

	r, ok := tr.HandleReport(5, loc.SessionInProgress)
	require.True(t, ok)
	assert.False(t, r.Final)
	assert.False(t, r.Ended)
	assert.Equal(t, Active, tr.State(5))

	r, ok = tr.HandleReport(5, loc.SessionSuccess)
	require.True(t, ok)
	assert.True(t, r.Final)
	assert.True(t, r.Ended)
	assert.Equal(t, Idle, r.Session.State)
	assert.Equal(t, 2, r.Session.Reports)
	assert.Equal(t, Idle, tr.State(5))

	_, ok = tr.HandleReport(5, loc.SessionSuccess)
	assert.False(t, ok, "report after completion is stale")
}

func TestTracker_StopDiscardsLateReports(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Start(5, loc.RecurrenceSingle)
	require.NoError(t, err)

	_, ok := tr.HandleReport(5, loc.SessionInProgress)
	require.True(t, ok)

	s, err := tr.Stop(5)
	require.NoError(t, err)
	assert.Equal(t, Idle, s.State)
	assert.Equal(t, Idle, tr.State(5))

	_, ok = tr.HandleReport(5, loc.SessionSuccess)
	assert.False(t, ok)
}

func TestTracker_PeriodicStaysActive(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Start(1, loc.RecurrencePeriodic)
	require.NoError(t, err)

	for _, st := range []loc.SessionStatus{loc.SessionSuccess, loc.SessionTimeout, loc.SessionSuccess} {
		r, ok := tr.HandleReport(1, st)
		require.True(t, ok)
		assert.True(t, r.Final)
		assert.False(t, r.Ended)
	}
	assert.Equal(t, Active, tr.State(1))

	_, err = tr.Stop(1)
	require.NoError(t, err)
	assert.Equal(t, Idle, tr.State(1))
}

func TestTracker_StopIdle(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Stop(9)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestTracker_InvalidRecurrence(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Start(1, loc.Recurrence(7))
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
	assert.Equal(t, Idle, tr.State(1))
}

func TestTracker_RestartStartsNewGeneration(t *testing.T) {
	tr := NewTracker()
	first, err := tr.Start(3, loc.RecurrencePeriodic)
	require.NoError(t, err)
	_, ok := tr.HandleReport(3, loc.SessionInProgress)
	require.True(t, ok)

	second, err := tr.Start(3, loc.RecurrenceSingle)
	require.NoError(t, err)
	assert.Greater(t, second.Generation, first.Generation)

	r, ok := tr.HandleReport(3, loc.SessionSuccess)
	require.True(t, ok)
	assert.Equal(t, second.Generation, r.Session.Generation)
	assert.Equal(t, 1, r.Session.Reports)
	assert.True(t, r.Ended)
}

func TestTracker_ConcurrentSessions(t *testing.T) {
	tr := NewTracker()
	for _, id := range []uint8{7, 2, 4} {
		_, err := tr.Start(id, loc.RecurrenceSingle)
		require.NoError(t, err)
	}

	_, ok := tr.HandleReport(2, loc.SessionSuccess)
	require.True(t, ok)

	active := tr.Active()
	require.Len(t, active, 2)
	assert.Equal(t, uint8(4), active[0].ID)
	assert.Equal(t, uint8(7), active[1].ID)

	tr.Reset()
	assert.Empty(t, tr.Active())
}

func TestTracker_RecordsTransitions(t *testing.T) {
	m := metric.NewMetrics()
	tr := NewTracker(WithMetrics(m))

	_, err := tr.Start(1, loc.RecurrenceSingle)
	require.NoError(t, err)
	_, ok := tr.HandleReport(1, loc.SessionGeneralFailure)
	require.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("fix", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("fix", "idle")))
}
