package geofence

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/tlv"
)

var bayArea = Circle{Latitude: 37.0, Longitude: -122.0, Radius: 100}

const both = loc.BreachMaskEntering | loc.BreachMaskLeaving

func added(t *testing.T, m *Manager, txn, id uint32, mask loc.BreachMask) Geofence {
	t.Helper()
	require.NoError(t, m.BeginAdd(txn, bayArea, mask))
	g, err := m.HandleResult(Result{
		Op: OpAdd, Status: loc.StatusSuccess,
		TransactionID: txn, HasTransactionID: true,
		GeofenceID: id, HasGeofenceID: true,
	})
	require.NoError(t, err)
	return g
}

func TestManager_AddDeleteScenario(t *testing.T) {
	m := NewManager()

	g := added(t, m, 1, 42, both)
	assert.Equal(t, uint32(42), g.ID)
	assert.Equal(t, Active, g.State)
	assert.Equal(t, bayArea, g.Circle)

	_, ok := m.HandleBreach(42, loc.BreachEntering)
	assert.True(t, ok)

	require.NoError(t, m.BeginDelete(2, 42))
	g, err := m.HandleResult(Result{
		Op: OpDelete, Status: loc.StatusSuccess,
		TransactionID: 2, HasTransactionID: true,
		GeofenceID: 42, HasGeofenceID: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Removed, g.State)

	_, ok = m.HandleBreach(42, loc.BreachLeaving)
	assert.False(t, ok, "breach for deleted geofence is ignored")
	_, ok = m.Get(42)
	assert.False(t, ok)
}

func TestManager_OutOfOrderResults(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.BeginAdd(10, bayArea, loc.BreachMaskEntering))
	require.NoError(t, m.BeginAdd(11, Circle{Latitude: 1, Longitude: 2, Radius: 5}, loc.BreachMaskLeaving))

	g11, err := m.HandleResult(Result{Op: OpAdd, TransactionID: 11, HasTransactionID: true, GeofenceID: 2, HasGeofenceID: true})
	require.NoError(t, err)
	g10, err := m.HandleResult(Result{Op: OpAdd, TransactionID: 10, HasTransactionID: true, GeofenceID: 1, HasGeofenceID: true})
	require.NoError(t, err)

	assert.Equal(t, bayArea, g10.Circle)
	assert.Equal(t, loc.BreachMaskLeaving, g11.BreachMask)
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_TransactionReuse(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.BeginAdd(1, bayArea, both))
	assert.ErrorIs(t, m.BeginAdd(1, bayArea, both), ErrTransactionInFlight)

	added(t, m, 5, 9, both)
	require.NoError(t, m.BeginQuery(1, 9), "the same id under another op is independent")

	m.Abandon(OpAdd, 1)
	require.NoError(t, m.BeginAdd(1, bayArea, both))
}

func TestManager_CapacityFailureAppliesNothing(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.BeginAdd(3, bayArea, both))

	_, err := m.HandleResult(Result{Op: OpAdd, Status: loc.StatusMaxGeofenceProgrammed, TransactionID: 3, HasTransactionID: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, loc.StatusMaxGeofenceProgrammed)
	assert.Empty(t, m.List())
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_AddWithoutGeofenceID(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.BeginAdd(3, bayArea, both))
	_, err := m.HandleResult(Result{Op: OpAdd, TransactionID: 3, HasTransactionID: true})
	assert.ErrorIs(t, err, ErrMissingGeofenceID)
	assert.Empty(t, m.List())
}

func TestManager_Uncorrelated(t *testing.T) {
	m := NewManager()
	_, err := m.HandleResult(Result{Op: OpAdd, TransactionID: 8, HasTransactionID: true})
	assert.ErrorIs(t, err, ErrUncorrelated)
}

func TestManager_ResultWithoutTransactionID(t *testing.T) {
	m := NewManager()
	added(t, m, 1, 100, both)
	added(t, m, 2, 200, both)
	require.NoError(t, m.BeginDelete(3, 100))
	require.NoError(t, m.BeginDelete(4, 200))

	g, err := m.HandleResult(Result{Op: OpDelete, GeofenceID: 200, HasGeofenceID: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(200), g.ID)

	g, err = m.HandleResult(Result{Op: OpDelete})
	require.NoError(t, err, "a lone pending delete matches")
	assert.Equal(t, uint32(100), g.ID)
}

func TestManager_BeginValidation(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.BeginAdd(1, Circle{Latitude: 91, Radius: 1}, both), ErrInvalidShape)
	assert.ErrorIs(t, m.BeginAdd(1, Circle{Longitude: -181, Radius: 1}, both), ErrInvalidShape)
	assert.ErrorIs(t, m.BeginAdd(1, Circle{}, both), ErrInvalidShape)
	assert.Error(t, m.BeginAdd(1, bayArea, loc.BreachMask(0x04)))
	assert.ErrorIs(t, m.BeginDelete(1, 77), ErrUnknownGeofence)
	assert.ErrorIs(t, m.BeginEdit(1, 77, Edit{}), ErrEmptyEdit)

	s := loc.GeofenceSuspended
	assert.ErrorIs(t, m.BeginEdit(1, 77, Edit{State: &s}), ErrUnknownGeofence)
	assert.ErrorIs(t, m.BeginAddContext(1, 77, true), ErrUnknownGeofence)
}

func TestManager_EditSuspendsBreaches(t *testing.T) {
	m := NewManager()
	added(t, m, 1, 5, both)

	suspended := loc.GeofenceSuspended
	mask := loc.BreachMaskLeaving
	require.NoError(t, m.BeginEdit(2, 5, Edit{State: &suspended, BreachMask: &mask}))
	g, err := m.HandleResult(Result{Op: OpEdit, TransactionID: 2, HasTransactionID: true})
	require.NoError(t, err)
	assert.Equal(t, Suspended, g.State)
	assert.Equal(t, loc.BreachMaskLeaving, g.BreachMask)

	_, ok := m.HandleBreach(5, loc.BreachLeaving)
	assert.False(t, ok)

	active := loc.GeofenceActive
	require.NoError(t, m.BeginEdit(3, 5, Edit{State: &active}))
	_, err = m.HandleResult(Result{Op: OpEdit, TransactionID: 3, HasTransactionID: true})
	require.NoError(t, err)

	_, ok = m.HandleBreach(5, loc.BreachEntering)
	assert.False(t, ok, "entering is no longer selected")
	_, ok = m.HandleBreach(5, loc.BreachLeaving)
	assert.True(t, ok)
}

func TestManager_QueryUpdatesState(t *testing.T) {
	m := NewManager()
	added(t, m, 1, 5, both)

	require.NoError(t, m.BeginQuery(2, 5))
	moved := Circle{Latitude: 10, Longitude: 20, Radius: 30}
	g, err := m.HandleResult(Result{
		Op: OpQuery, TransactionID: 2, HasTransactionID: true,
		State: loc.GeofenceSuspended, HasState: true, Circle: &moved,
	})
	require.NoError(t, err)
	assert.Equal(t, Suspended, g.State)
	assert.Equal(t, moved, g.Circle)
}

func TestManager_BatchedBreach(t *testing.T) {
	m := NewManager()
	added(t, m, 1, 1, both)
	added(t, m, 2, 2, loc.BreachMaskLeaving)
	added(t, m, 3, 7, both)
	added(t, m, 4, 20, both)

	got := m.HandleBatchedBreach(loc.BreachEntering, []Range{{Low: 1, High: 8}}, []uint32{20, 99, 7})
	ids := make([]uint32, 0, len(got))
	for _, g := range got {
		ids = append(ids, g.ID)
	}
	if diff := cmp.Diff([]uint32{1, 7, 20}, ids); diff != "" {
		t.Errorf("batched breach ids (-want +got):\n%s", diff)
	}
}

func TestManager_Proximity(t *testing.T) {
	m := NewManager()
	added(t, m, 1, 4, both)

	require.NoError(t, m.BeginAddContext(2, 4, true))
	g, err := m.HandleResult(Result{Op: OpAddContext, TransactionID: 2, HasTransactionID: true, ContextID: 900, HasContextID: true})
	require.NoError(t, err)
	assert.Equal(t, []uint32{900}, g.Contexts)

	_, ok := m.HandleProximity(4, 900, true)
	assert.True(t, ok)
	_, ok = m.HandleProximity(5, 900, true)
	assert.False(t, ok)

	require.NoError(t, m.BeginAddContext(3, 0, false))
	g, err = m.HandleResult(Result{
		Op: OpAddContext, TransactionID: 3, HasTransactionID: true,
		GeofenceID: 12, HasGeofenceID: true, ContextID: 901, HasContextID: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(12), g.ID)
	_, ok = m.HandleProximity(12, 901, true)
	assert.True(t, ok)
	assert.Len(t, m.List(), 2)
}

func TestResultFrom(t *testing.T) {
	reg := catalog.Default()
	s, err := reg.Lookup(catalog.IDQueryGeofence, message.Indication)
	require.NoError(t, err)

	body, err := tlv.Encode(s, tlv.Values{
		"status":               int32(loc.StatusSuccess),
		"geofenceId":           uint32(5),
		"transactionId":        uint32(2),
		"circularGeofenceArgs": bayArea.Values(),
		"geofenceState":        int32(loc.GeofenceActive),
	})
	require.NoError(t, err)
	values, present, err := tlv.Decode(s, body)
	require.NoError(t, err)

	r := ResultFrom(OpQuery, &message.Message{Values: values, Present: present})
	assert.Equal(t, loc.StatusSuccess, r.Status)
	assert.True(t, r.HasTransactionID)
	assert.Equal(t, uint32(2), r.TransactionID)
	assert.Equal(t, uint32(5), r.GeofenceID)
	assert.True(t, r.HasState)
	assert.Equal(t, loc.GeofenceActive, r.State)
	require.NotNil(t, r.Circle)
	assert.Equal(t, bayArea, *r.Circle)
	assert.False(t, r.HasContextID)
}
