package batching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/loc"
)

func started(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	require.NoError(t, m.BeginStart(Params{MinInterval: 1000, Accuracy: loc.AccuracyHigh}))
	assert.Equal(t, Starting, m.State())
	require.NoError(t, m.Started(loc.StatusSuccess))
	require.Equal(t, Batching, m.State())
	return m
}

func TestManager_Lifecycle(t *testing.T) {
	m := started(t)

	require.NoError(t, m.CanRead())
	assert.False(t, m.RecordRead(5, 5))
	assert.False(t, m.RecordRead(5, 5))
	assert.True(t, m.RecordRead(5, 2))
	assert.Equal(t, 12, m.Session().Read)

	require.NoError(t, m.CanStop())
	require.NoError(t, m.Stop())
	assert.Equal(t, Stopped, m.State())
	require.NoError(t, m.CanRead(), "a stopped batch can still be read")

	require.NoError(t, m.CanRelease())
	require.NoError(t, m.Release())
	assert.Equal(t, NoSession, m.State())
	assert.Zero(t, m.Session().Read)
}

func TestManager_StartGuards(t *testing.T) {
	m := started(t)
	assert.ErrorIs(t, m.BeginStart(Params{}), ErrAlreadyBatching)

	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.BeginStart(Params{}), ErrReleaseRequired)

	require.NoError(t, m.Release())
	require.NoError(t, m.BeginStart(Params{}))
	assert.ErrorIs(t, m.BeginStart(Params{}), ErrAlreadyBatching, "a start in flight holds the session")
}

func TestManager_StartFailure(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.BeginStart(Params{}))

	err := m.Started(loc.StatusEngineBusy)
	assert.ErrorIs(t, err, loc.StatusEngineBusy)
	assert.Equal(t, NoSession, m.State())

	assert.ErrorIs(t, m.Started(loc.StatusSuccess), ErrNotBatching)
}

func TestManager_InvalidTransitions(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.CanStop(), ErrNotBatching)
	assert.ErrorIs(t, m.Stop(), ErrNotBatching)
	assert.ErrorIs(t, m.CanRelease(), ErrNotStopped)
	assert.ErrorIs(t, m.Release(), ErrNotStopped)
	assert.ErrorIs(t, m.CanRead(), ErrNotBatching)

	m = started(t)
	assert.ErrorIs(t, m.Release(), ErrNotStopped, "release requires stop first")
	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), ErrNotBatching)
	require.NoError(t, m.Release())
	assert.ErrorIs(t, m.Release(), ErrNotStopped, "release happens exactly once")
}

func TestManager_BatchFullAndLive(t *testing.T) {
	m := NewManager()
	assert.False(t, m.HandleBatchFull(10))
	assert.False(t, m.Live())

	m = started(t)
	assert.True(t, m.Live())
	assert.True(t, m.HandleBatchFull(12))
	s := m.Session()
	assert.Equal(t, uint32(12), s.LastBatchFull)
	assert.Equal(t, 1, s.BatchFulls)

	require.NoError(t, m.Stop())
	assert.False(t, m.Live())
	assert.True(t, m.HandleBatchFull(12), "a stopped batch still holds fixes")
}

func TestManager_BatchSurvivesRelease(t *testing.T) {
	m := NewManager()
	m.SetBatchSize(30)
	require.NoError(t, m.BeginStart(Params{}))
	require.NoError(t, m.Started(loc.StatusSuccess))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Release())
	assert.Equal(t, uint32(30), m.Session().BatchSize)

	m.Reset()
	assert.Zero(t, m.Session().BatchSize)
}
