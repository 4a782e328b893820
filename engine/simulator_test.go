package engine

import (
	"context"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/dispatch"
	"github.com/c360/qmiloc/geofence"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/metric"
	"github.com/c360/qmiloc/ni"
	"github.com/c360/qmiloc/tlv"
	"github.com/c360/qmiloc/transport"
)

type peer struct {
	t   *testing.T
	tr  transport.Transport
	reg *catalog.Registry
	dec *dispatch.Dispatcher
	sim *Simulator
	txn uint16
}

func newPeer(t *testing.T, cfg Config, opts ...Option) *peer {
	t.Helper()
	svc, cli := transport.NewPipe(64)
	reg := catalog.Default()
	sim := NewSimulator(svc, reg, cfg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = cli.Close()
		assert.NoError(t, <-done)
	})

	return &peer{
		t:   t,
		tr:  cli,
		reg: reg,
		dec: dispatch.New(reg, dispatch.NewEventRegistry()),
		sim: sim,
	}
}

func (p *peer) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	p.t.Cleanup(cancel)
	return ctx
}

func (p *peer) send(id message.ID, values tlv.Values) uint16 {
	p.t.Helper()
	schema, err := p.reg.Lookup(id, message.Request)
	require.NoError(p.t, err)
	body, err := tlv.Encode(schema, values)
	require.NoError(p.t, err)
	p.txn++
	require.NoError(p.t, p.tr.Send(p.ctx(), message.Frame{ID: id, Kind: message.Request, Txn: p.txn, Body: body}))
	return p.txn
}

func (p *peer) recvFrame() message.Frame {
	p.t.Helper()
	f, err := p.tr.Recv(p.ctx())
	require.NoError(p.t, err)
	return f
}

func (p *peer) recv() *message.Message {
	p.t.Helper()
	m, err := p.dec.Decode(p.recvFrame())
	require.NoError(p.t, err)
	return m
}

// call sends a request and returns its response and, on success, the
// status indication when the message has one.
func (p *peer) call(id message.ID, values tlv.Values) (resp, ind *message.Message) {
	p.t.Helper()
	txn := p.send(id, values)
	resp = p.recv()
	require.Equal(p.t, message.Response, resp.Kind)
	require.Equal(p.t, txn, resp.Txn)
	result, _, ok := resp.Resp()
	require.True(p.t, ok)
	if result != loc.ResultSuccess {
		return resp, nil
	}
	if _, err := p.reg.Lookup(id, message.Indication); err != nil {
		return resp, nil
	}
	ind = p.recv()
	require.Equal(p.t, message.Indication, ind.Kind)
	require.Equal(p.t, id, ind.ID)
	return resp, ind
}

func (p *peer) register(mask loc.EventMask) {
	p.t.Helper()
	p.call(catalog.IDRegEvents, tlv.Values{"eventRegMask": uint64(mask)})
}

func statusOf(t *testing.T, m *message.Message) loc.Status {
	t.Helper()
	st, ok := m.Status()
	require.True(t, ok)
	return st
}

func TestSimulator_RegisterEvents(t *testing.T) {
	p := newPeer(t, Config{})
	mask := loc.EventPositionReport | loc.EventGeofenceBreach
	p.register(mask)

	_, ind := p.call(catalog.IDGetRegisteredEvents, nil)
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	got, _ := message.Get[uint64](ind, "eventRegMask")
	assert.Equal(t, uint64(mask), got)
	assert.Equal(t, mask, p.sim.Events())
}

func TestSimulator_ServiceRevision(t *testing.T) {
	p := newPeer(t, Config{ServiceRevision: 42, Version: "sim-1.0"})
	p.call(catalog.IDInformClientRevision, tlv.Values{"revision": uint32(37)})
	assert.Equal(t, uint32(37), p.sim.ClientRevision())

	_, ind := p.call(catalog.IDGetServiceRevision, nil)
	rev, _ := message.Get[uint32](ind, "revision")
	ver, _ := message.Get[string](ind, "gnssSWVerString")
	assert.Equal(t, uint32(42), rev)
	assert.Equal(t, "sim-1.0", ver)
}

func TestSimulator_UnsupportedRequests(t *testing.T) {
	p := newPeer(t, Config{})

	require.NoError(t, p.tr.Send(p.ctx(), message.Frame{ID: 0x0500, Kind: message.Request, Txn: 9}))
	f := p.recvFrame()
	assert.Equal(t, message.Response, f.Kind)
	assert.Equal(t, uint16(9), f.Txn)
	values, _, err := tlv.Decode(respOnly, f.Body)
	require.NoError(t, err)
	assert.Equal(t, tlv.Values{"result": loc.ResultFailure, "error": loc.QMIErrNotSupported}, values["resp"])

	resp, ind := p.call(catalog.IDGetSupportedFields, tlv.Values{"msgId": uint16(catalog.IDStart)})
	assert.Nil(t, ind)
	_, qmiErr, _ := resp.Resp()
	assert.Equal(t, loc.QMIErrNotSupported, qmiErr)
}

func TestSimulator_MalformedRequest(t *testing.T) {
	p := newPeer(t, Config{})
	require.NoError(t, p.tr.Send(p.ctx(), message.Frame{
		ID: catalog.IDStart, Kind: message.Request, Txn: 3, Body: []byte{0x01, 0x01},
	}))
	resp := p.recv()
	result, qmiErr, _ := resp.Resp()
	assert.Equal(t, loc.ResultFailure, result)
	assert.Equal(t, loc.QMIErrMalformedMsg, qmiErr)
	assert.Empty(t, p.sim.Sessions())
}

func TestSimulator_SupportedMessages(t *testing.T) {
	p := newPeer(t, Config{})
	resp, _ := p.call(catalog.IDGetSupportedMsgs, nil)
	bitmap, ok := message.Get[[]uint8](resp, "supportedMsgs")
	require.True(t, ok)

	has := func(id message.ID) bool { return bitmap[id>>3]&(1<<(id&7)) != 0 }
	assert.True(t, has(catalog.IDStart))
	assert.True(t, has(catalog.IDReleaseBatch))
	assert.False(t, has(catalog.IDGetSupportedFields))
	assert.False(t, has(catalog.IDPositionReport))
}

func TestSimulator_FixSession(t *testing.T) {
	p := newPeer(t, Config{})
	p.register(loc.EventPositionReport | loc.EventFixSessionState)

	p.call(catalog.IDStart, tlv.Values{
		"sessionId":               uint8(5),
		"fixRecurrence":           int32(loc.RecurrenceSingle),
		"horizontalAccuracyLevel": int32(loc.AccuracyHigh),
	})
	state := p.recv()
	assert.Equal(t, catalog.IDFixSessionState, state.ID)
	assert.Equal(t, []uint8{5}, p.sim.Sessions())

	_, criteria := p.call(catalog.IDGetFixCriteria, nil)
	acc, _ := message.Enum[loc.Accuracy](criteria, "horizontalAccuracyLevel")
	assert.Equal(t, loc.AccuracyHigh, acc)

	pos := loc.Position{Latitude: 37.0, Longitude: -122.0, HorUnc: 5}
	require.NoError(t, p.sim.EmitPosition(p.ctx(), 5, loc.SessionSuccess, pos))
	report := p.recv()
	assert.Equal(t, catalog.IDPositionReport, report.ID)
	id, _ := message.Get[uint8](report, "sessionId")
	assert.Equal(t, uint8(5), id)
	got := loc.PositionFromReport(report.Values)
	assert.Equal(t, 37.0, got.Latitude)
	assert.Equal(t, uint32(1), got.FixID)

	assert.Empty(t, p.sim.Sessions(), "final report ends a single session")
}

func TestSimulator_GatesUnregisteredEvents(t *testing.T) {
	registrar := metric.NewMetricsRegistry()
	p := newPeer(t, Config{}, WithMetrics(registrar))

	err := p.sim.EmitPosition(p.ctx(), 1, loc.SessionInProgress, loc.Position{})
	assert.ErrorIs(t, err, ErrNotRegistered)
	err = p.sim.EmitNMEA(p.ctx(), "$GPGGA")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sim.metrics.suppressed.WithLabelValues("NMEA")))

	p.register(loc.EventNMEA)
	require.NoError(t, p.sim.EmitNMEA(p.ctx(), "$GPGGA"))
	assert.Equal(t, catalog.IDNMEA, p.recv().ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sim.metrics.requests.WithLabelValues("RegEvents", "success")))
}

func TestSimulator_Geofences(t *testing.T) {
	p := newPeer(t, Config{Origin: loc.Position{Latitude: 37.0, Longitude: -122.0}})
	add := func(txn uint32) *message.Message {
		_, ind := p.call(catalog.IDAddCircularGeofence, tlv.Values{
			"transactionId":        txn,
			"circularGeofenceArgs": geofence.Circle{Latitude: 37.0, Longitude: -122.0, Radius: 100}.Values(),
			"breachMask":           uint8(loc.BreachMaskEntering | loc.BreachMaskLeaving),
			"includePosition":      true,
		})
		return ind
	}

	for _, txn := range []uint32{1, 2} {
		ind := add(txn)
		assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
		got, _ := message.Get[uint32](ind, "transactionId")
		assert.Equal(t, txn, got)
	}
	assert.Equal(t, []uint32{1, 2}, p.sim.Geofences())

	_, q := p.call(catalog.IDQueryGeofence, tlv.Values{"geofenceId": uint32(1), "transactionId": uint32(3)})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, q))
	args, _ := message.Get[tlv.Values](q, "circularGeofenceArgs")
	assert.Equal(t, uint32(100), geofence.CircleFrom(args).Radius)
	where, _ := message.Get[int32](q, "posWrtGeofence")
	assert.Equal(t, positionIn, where)

	_, e := p.call(catalog.IDEditGeofence, tlv.Values{
		"geofenceId": uint32(1), "transactionId": uint32(4), "geofenceState": int32(loc.GeofenceSuspended),
	})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, e))
	_, q = p.call(catalog.IDQueryGeofence, tlv.Values{"geofenceId": uint32(1), "transactionId": uint32(5)})
	st, _ := message.Enum[loc.GeofenceState](q, "geofenceState")
	assert.Equal(t, loc.GeofenceSuspended, st)

	_, e = p.call(catalog.IDEditGeofence, tlv.Values{
		"geofenceId": uint32(1), "transactionId": uint32(6), "geofenceState": int32(7),
	})
	assert.Equal(t, loc.StatusInvalidParameter, statusOf(t, e))
	failed, _ := message.Get[uint32](e, "failedParams")
	assert.Equal(t, failedState, failed)

	_, d := p.call(catalog.IDDeleteGeofence, tlv.Values{"geofenceId": uint32(1), "transactionId": uint32(7)})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, d))
	_, d = p.call(catalog.IDDeleteGeofence, tlv.Values{"geofenceId": uint32(1), "transactionId": uint32(8)})
	assert.Equal(t, loc.StatusInvalidParameter, statusOf(t, d))
	assert.Equal(t, []uint32{2}, p.sim.Geofences())
}

func TestSimulator_GeofenceLimit(t *testing.T) {
	p := newPeer(t, Config{MaxGeofences: 1})
	args := geofence.Circle{Latitude: 1, Longitude: 1, Radius: 10}.Values()
	req := func(txn uint32) tlv.Values {
		return tlv.Values{"transactionId": txn, "circularGeofenceArgs": args,
			"breachMask": uint8(loc.BreachMaskEntering), "includePosition": false}
	}

	_, ind := p.call(catalog.IDAddCircularGeofence, req(1))
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	_, ind = p.call(catalog.IDAddCircularGeofence, req(2))
	assert.Equal(t, loc.StatusMaxGeofenceProgrammed, statusOf(t, ind))
	assert.False(t, ind.Has("geofenceId"))
}

func TestSimulator_GeofenceContext(t *testing.T) {
	p := newPeer(t, Config{})

	_, ind := p.call(catalog.IDAddGeofenceContext, tlv.Values{"transactionId": uint32(1)})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	id, _ := message.Get[uint32](ind, "geofenceId")
	ctxID, _ := message.Get[uint32](ind, "contextId")
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, uint32(1), ctxID)

	_, ind = p.call(catalog.IDAddGeofenceContext, tlv.Values{"transactionId": uint32(2), "geofenceId": uint32(1)})
	ctxID, _ = message.Get[uint32](ind, "contextId")
	assert.Equal(t, uint32(2), ctxID)

	_, ind = p.call(catalog.IDAddGeofenceContext, tlv.Values{"transactionId": uint32(3), "geofenceId": uint32(99)})
	assert.Equal(t, loc.StatusInvalidParameter, statusOf(t, ind))
}

func TestSimulator_GeofenceNotifications(t *testing.T) {
	p := newPeer(t, Config{})
	p.register(loc.EventGeofenceBreach | loc.EventGeofenceBatchBreach | loc.EventGeofenceProximity)

	pos := loc.Position{Latitude: 37, Longitude: -122, Timestamp: time.UnixMilli(1700000000000)}
	require.NoError(t, p.sim.EmitBreach(p.ctx(), 4, loc.BreachEntering, &pos))
	m := p.recv()
	assert.Equal(t, catalog.IDGeofenceBreach, m.ID)
	assert.True(t, m.Has("geofencePosition"))

	require.NoError(t, p.sim.EmitBatchedBreach(p.ctx(), loc.BreachLeaving, []geofence.Range{{Low: 1, High: 3}}, []uint32{9}))
	m = p.recv()
	ranges, _ := message.Get[[]tlv.Values](m, "geofenceIdContinuousList")
	require.Len(t, ranges, 1)
	assert.Equal(t, uint32(3), ranges[0]["idHigh"])
	ids, _ := message.Get[[]uint32](m, "geofenceIdDiscreteList")
	assert.Equal(t, []uint32{9}, ids)

	require.NoError(t, p.sim.EmitProximity(p.ctx(), loc.ProximityIn, 4, 0))
	m = p.recv()
	assert.False(t, m.Has("contextId"))
}

func TestSimulator_Batching(t *testing.T) {
	p := newPeer(t, Config{MaxBatchSize: 8})
	p.register(loc.EventBatchFull)

	_, ind := p.call(catalog.IDGetBatchSize, tlv.Values{"transactionId": uint32(1), "batchSize": uint32(20)})
	size, _ := message.Get[uint32](ind, "batchSize")
	assert.Equal(t, uint32(8), size)

	assert.ErrorIs(t, p.sim.PushFix(p.ctx(), loc.Position{}), ErrNotBatching)

	_, ind = p.call(catalog.IDStartBatching, tlv.Values{"minInterval": uint32(1000)})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	_, ind = p.call(catalog.IDStartBatching, nil)
	assert.Equal(t, loc.StatusEngineBusy, statusOf(t, ind))

	for i := 0; i < 8; i++ {
		require.NoError(t, p.sim.PushFix(p.ctx(), loc.Position{Latitude: float64(i)}))
	}
	full := p.recv()
	assert.Equal(t, catalog.IDBatchFull, full.ID)
	count, _ := message.Get[uint32](full, "batchCount")
	assert.Equal(t, uint32(8), count)

	// Evicts fix 1; no second BatchFull.
	require.NoError(t, p.sim.PushFix(p.ctx(), loc.Position{Latitude: 8}))
	assert.Equal(t, 8, p.sim.Batched())

	read := func(n uint32) []tlv.Values {
		_, ind := p.call(catalog.IDReadFromBatch, tlv.Values{"numberOfEntries": n, "transactionId": uint32(7)})
		require.Equal(t, loc.StatusSuccess, statusOf(t, ind))
		list, _ := message.Get[[]tlv.Values](ind, "batchedReportList")
		return list
	}
	first := read(9)
	require.Len(t, first, 5, "reads are capped at five entries")
	assert.Equal(t, uint32(2), loc.PositionFromBatched(first[0]).FixID)
	assert.Len(t, read(5), 3)
	assert.Empty(t, read(5))

	_, ind = p.call(catalog.IDReleaseBatch, tlv.Values{"transactionId": uint32(8)})
	assert.Equal(t, loc.StatusGeneralFailure, statusOf(t, ind), "release requires stop")
	_, ind = p.call(catalog.IDStopBatching, tlv.Values{"transactionId": uint32(9)})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	_, ind = p.call(catalog.IDStopBatching, tlv.Values{"transactionId": uint32(10)})
	assert.Equal(t, loc.StatusGeneralFailure, statusOf(t, ind))
	_, ind = p.call(catalog.IDReleaseBatch, tlv.Values{"transactionId": uint32(11)})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	assert.Zero(t, p.sim.Batched())
}

func TestSimulator_PredictedOrbits(t *testing.T) {
	p := newPeer(t, Config{})
	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i)
	}
	part := func(n uint16, chunk []byte) loc.Status {
		_, ind := p.call(catalog.IDInjectPredictedOrbitsData, tlv.Values{
			"totalSize": uint32(len(data)), "totalParts": uint16(3), "partNum": n, "partData": chunk,
		})
		got, _ := message.Get[uint16](ind, "partNum")
		assert.Equal(t, n, got)
		return statusOf(t, ind)
	}

	assert.Equal(t, loc.StatusSuccess, part(1, data[:1024]))
	assert.Equal(t, loc.StatusInvalidParameter, part(3, data[2048:]), "part 2 skipped")
	assert.Empty(t, p.sim.PredictedOrbits())

	assert.Equal(t, loc.StatusSuccess, part(1, data[:1024]))
	assert.Equal(t, loc.StatusSuccess, part(2, data[1024:2048]))
	assert.Equal(t, loc.StatusSuccess, part(3, data[2048:]))
	assert.Equal(t, data, p.sim.PredictedOrbits())
}

func TestSimulator_Injections(t *testing.T) {
	p := newPeer(t, Config{})
	now := time.UnixMilli(1700000000123).UTC()

	_, ind := p.call(catalog.IDInjectUTCTime, tlv.Values{"timeUtc": uint64(now.UnixMilli()), "timeUnc": uint32(10)})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	assert.Equal(t, now, p.sim.InjectedTime())

	_, ind = p.call(catalog.IDInjectPosition, tlv.Values{"latitude": 48.1})
	assert.Equal(t, loc.StatusInvalidParameter, statusOf(t, ind))
	_, ind = p.call(catalog.IDInjectPosition, tlv.Values{"latitude": 48.1, "longitude": 11.5})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	pos, ok := p.sim.InjectedPosition()
	require.True(t, ok)
	assert.Equal(t, 11.5, pos.Longitude)

	_, ind = p.call(catalog.IDDeleteAssistData, tlv.Values{"deleteAllFlag": false})
	assert.Equal(t, loc.StatusInvalidParameter, statusOf(t, ind))
	_, ind = p.call(catalog.IDDeleteAssistData, tlv.Values{
		"deleteAllFlag": false, "deleteGnssDataMask": uint32(loc.AssistGPSEph | loc.AssistTime),
	})
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))
	assert.Equal(t, []AssistDeletion{{Mask: loc.AssistGPSEph | loc.AssistTime}}, p.sim.AssistDeletions())
}

func vxPayload(timer uint16) ni.Payload {
	return ni.Payload{Kind: ni.PayloadVx, Values: tlv.Values{
		"posQosIncl":        false,
		"posQos":            uint8(0),
		"numFixes":          uint32(1),
		"timeBetweenFixes":  uint32(0),
		"posMode":           int32(1),
		"encodingScheme":    int32(0),
		"requestorId":       []uint8("carrier"),
		"userResponseTimer": timer,
	}}
}

func TestSimulator_NetworkInitiated(t *testing.T) {
	p := newPeer(t, Config{})
	p.register(loc.EventNiNotifyVerifyReq)

	payload := vxPayload(30)
	require.NoError(t, p.sim.NotifyNI(p.ctx(), loc.NotifyVerifyAllowNoResp, payload))
	m := p.recv()
	got, ignored := ni.PayloadFrom(m)
	assert.Empty(t, ignored)
	assert.Equal(t, ni.PayloadVx, got.Kind)

	_, ind := p.call(catalog.IDNiUserResponse, got.ResponseValues(loc.NotifyVerifyAllowNoResp, loc.UserAccept))
	assert.Equal(t, loc.StatusSuccess, statusOf(t, ind))

	responses := p.sim.NIResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, loc.UserAccept, responses[0].Response)
	assert.Equal(t, uint16(30), responses[0].Payload["userResponseTimer"])
}

func TestSimulator_ScriptedFailures(t *testing.T) {
	p := newPeer(t, Config{ServiceRevision: 5})

	p.sim.FailNext(catalog.IDAddCircularGeofence, loc.StatusEngineBusy)
	_, ind := p.call(catalog.IDAddCircularGeofence, tlv.Values{
		"transactionId":        uint32(77),
		"circularGeofenceArgs": geofence.Circle{Latitude: 1, Longitude: 1, Radius: 1}.Values(),
		"breachMask":           uint8(loc.BreachMaskEntering),
		"includePosition":      false,
	})
	assert.Equal(t, loc.StatusEngineBusy, statusOf(t, ind))
	txn, _ := message.Get[uint32](ind, "transactionId")
	assert.Equal(t, uint32(77), txn)
	assert.Empty(t, p.sim.Geofences())

	p.sim.RejectNext(catalog.IDGetServiceRevision, loc.QMIErrDeviceInUse)
	resp, ind := p.call(catalog.IDGetServiceRevision, nil)
	assert.Nil(t, ind)
	result, qmiErr, _ := resp.Resp()
	assert.Equal(t, loc.StatusEngineBusy, loc.ResponseStatus(result, qmiErr))

	_, ind = p.call(catalog.IDGetServiceRevision, nil)
	rev, _ := message.Get[uint32](ind, "revision")
	assert.Equal(t, uint32(5), rev)
}

func TestSimulator_PeriodicFixes(t *testing.T) {
	p := newPeer(t, Config{
		FixInterval: 10 * time.Millisecond,
		Origin:      loc.Position{Latitude: 51.5, Longitude: -0.12},
	})
	p.register(loc.EventPositionReport | loc.EventNMEA)
	p.send(catalog.IDStart, tlv.Values{"sessionId": uint8(2)})

	var sawReport, sawNMEA bool
	for !(sawReport && sawNMEA) {
		m := p.recv()
		if m.Kind != message.Indication {
			continue
		}
		switch m.ID {
		case catalog.IDPositionReport:
			sawReport = true
			assert.Equal(t, 51.5, loc.PositionFromReport(m.Values).Latitude)
		case catalog.IDNMEA:
			sawNMEA = true
			sentence, _ := message.Get[string](m, "nmea")
			_, err := nmea.Parse(sentence)
			assert.NoError(t, err)
		}
	}
}

func TestGGA(t *testing.T) {
	p := loc.Position{
		Latitude:    -33.8568,
		Longitude:   151.2153,
		Altitude:    12.5,
		HasAltitude: true,
		Timestamp:   time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC),
	}
	s, err := nmea.Parse(GGA(p))
	require.NoError(t, err)
	gga, ok := s.(nmea.GGA)
	require.True(t, ok)
	assert.InDelta(t, -33.8568, gga.Latitude, 1e-4)
	assert.InDelta(t, 151.2153, gga.Longitude, 1e-4)
	assert.InDelta(t, 12.5, gga.Altitude, 1e-9)
}
