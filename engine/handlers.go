package engine

import (
	"time"

	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/geofence"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/pkg/buffer"
	"github.com/c360/qmiloc/tlv"
)

// Fix session states carried by FixSessionState.
const (
	fixSessionStarted int32 = 1
	fixSessionStopped int32 = 2
)

// Values of geofenceOrigin and posWrtGeofence in QueryGeofence.
const (
	originNetwork  int32 = 1
	originDevice   int32 = 2
	positionIn     int32 = 1
	positionOut    int32 = 2
	positionUnsure int32 = 3
)

// EditGeofence failedParams bits.
const (
	failedState          uint32 = 0x1
	failedBreachMask     uint32 = 0x2
	failedResponsiveness uint32 = 0x4
)

type handlerFunc func(s *Simulator, m *message.Message) reply

// handlers run with s.mu held.
var handlers map[message.ID]handlerFunc

func init() {
	handlers = map[message.ID]handlerFunc{
		catalog.IDGetSupportedMsgs:          (*Simulator).getSupportedMsgs,
		catalog.IDInformClientRevision:      (*Simulator).informClientRevision,
		catalog.IDRegEvents:                 (*Simulator).regEvents,
		catalog.IDStart:                     (*Simulator).start,
		catalog.IDStop:                      (*Simulator).stop,
		catalog.IDGetServiceRevision:        (*Simulator).getServiceRevision,
		catalog.IDGetFixCriteria:            (*Simulator).getFixCriteria,
		catalog.IDNiUserResponse:            (*Simulator).niUserResponse,
		catalog.IDInjectPredictedOrbitsData: (*Simulator).injectPredictedOrbits,
		catalog.IDInjectUTCTime:             (*Simulator).injectUTCTime,
		catalog.IDInjectPosition:            (*Simulator).injectPosition,
		catalog.IDDeleteAssistData:          (*Simulator).deleteAssistData,
		catalog.IDGetRegisteredEvents:       (*Simulator).getRegisteredEvents,
		catalog.IDAddCircularGeofence:       (*Simulator).addCircularGeofence,
		catalog.IDDeleteGeofence:            (*Simulator).deleteGeofence,
		catalog.IDQueryGeofence:             (*Simulator).queryGeofence,
		catalog.IDEditGeofence:              (*Simulator).editGeofence,
		catalog.IDAddGeofenceContext:        (*Simulator).addGeofenceContext,
		catalog.IDGetBatchSize:              (*Simulator).getBatchSize,
		catalog.IDStartBatching:             (*Simulator).startBatching,
		catalog.IDReadFromBatch:             (*Simulator).readFromBatch,
		catalog.IDStopBatching:              (*Simulator).stopBatching,
		catalog.IDReleaseBatch:              (*Simulator).releaseBatch,
	}
}

func (s *Simulator) getSupportedMsgs(_ *message.Message) reply {
	bitmap := make([]uint8, int(catalog.MaxID)/8+1)
	for id := range handlers {
		bitmap[id>>3] |= 1 << (id & 7)
	}
	return reply{resp: tlv.Values{"supportedMsgs": bitmap}}
}

func (s *Simulator) informClientRevision(m *message.Message) reply {
	s.clientRevision, _ = message.Get[uint32](m, "revision")
	s.logger.Info("Client revision", "revision", s.clientRevision)
	return reply{}
}

func (s *Simulator) regEvents(m *message.Message) reply {
	mask, _ := message.Get[uint64](m, "eventRegMask")
	s.events = loc.EventMask(mask)
	s.logger.Info("Registered events", "events", s.events.String())
	return reply{}
}

func (s *Simulator) start(m *message.Message) reply {
	id, _ := message.Get[uint8](m, "sessionId")
	rec := loc.RecurrencePeriodic
	if r, ok := message.Enum[loc.Recurrence](m, "fixRecurrence"); ok {
		if !r.Valid() {
			return reply{qmiErr: loc.QMIErrInvalidArg}
		}
		rec = r
	}
	s.sessions[id] = rec
	s.criteria = tlv.Values{}
	for _, name := range []string{"horizontalAccuracyLevel", "intermediateReportState", "minInterval", "applicationId"} {
		if v, ok := m.Values[name]; ok {
			s.criteria[name] = v
		}
	}
	s.logger.Debug("Fix session started", "session_id", id, "recurrence", rec.String())
	return reply{after: []outbound{{catalog.IDFixSessionState, tlv.Values{
		"sessionState": fixSessionStarted, "sessionId": id,
	}}}}
}

func (s *Simulator) stop(m *message.Message) reply {
	id, _ := message.Get[uint8](m, "sessionId")
	delete(s.sessions, id)
	s.logger.Debug("Fix session stopped", "session_id", id)
	return reply{after: []outbound{{catalog.IDFixSessionState, tlv.Values{
		"sessionState": fixSessionStopped, "sessionId": id,
	}}}}
}

func (s *Simulator) getServiceRevision(_ *message.Message) reply {
	ind := status(loc.StatusSuccess)
	ind["revision"] = s.cfg.ServiceRevision
	if s.cfg.Version != "" {
		ind["gnssSWVerString"] = s.cfg.Version
	}
	return reply{ind: ind}
}

func (s *Simulator) getFixCriteria(_ *message.Message) reply {
	ind := status(loc.StatusSuccess)
	for k, v := range s.criteria {
		ind[k] = v
	}
	return reply{ind: ind}
}

func (s *Simulator) niUserResponse(m *message.Message) reply {
	resp, _ := message.Enum[loc.UserResponse](m, "userResp")
	nt, _ := message.Enum[loc.NotifyType](m, "notificationType")
	if !resp.Valid() {
		return reply{ind: status(loc.StatusInvalidParameter)}
	}
	r := NIResponse{Response: resp, NotifyType: nt}
	for _, name := range []string{"NiVxPayload", "NiSuplPayload", "NiUmtsCpPayload",
		"NiVxServiceInteractionPayload", "NiSuplVer2ExtPayload"} {
		if v, ok := message.Get[tlv.Values](m, name); ok {
			r.Payload = v
			break
		}
	}
	s.niResponses = append(s.niResponses, r)
	s.logger.Info("NI user response", "response", resp.String(), "notify_type", nt.String())
	return reply{ind: status(loc.StatusSuccess)}
}

// injectPredictedOrbits assembles parts numbered from 1. An out of order
// part or a size mismatch discards the upload.
func (s *Simulator) injectPredictedOrbits(m *message.Message) reply {
	totalSize, _ := message.Get[uint32](m, "totalSize")
	totalParts, _ := message.Get[uint16](m, "totalParts")
	partNum, _ := message.Get[uint16](m, "partNum")
	data, _ := message.Get[[]uint8](m, "partData")

	fail := func(st loc.Status) reply {
		s.logger.Warn("Predicted orbits upload rejected",
			"part", partNum, "total_parts", totalParts, "status", st.String())
		s.orbits = orbitUpload{}
		ind := status(st)
		ind["partNum"] = partNum
		return reply{ind: ind}
	}

	if partNum == 1 {
		s.orbits = orbitUpload{totalSize: totalSize, totalParts: totalParts, next: 1}
	}
	o := &s.orbits
	switch {
	case totalParts == 0 || partNum == 0 || partNum > totalParts:
		return fail(loc.StatusInvalidParameter)
	case partNum != o.next || totalSize != o.totalSize || totalParts != o.totalParts:
		return fail(loc.StatusInvalidParameter)
	case uint64(len(o.data))+uint64(len(data)) > uint64(totalSize):
		return fail(loc.StatusInvalidParameter)
	}

	o.data = append(o.data, data...)
	o.next++
	if partNum == totalParts {
		if uint32(len(o.data)) != totalSize {
			return fail(loc.StatusGeneralFailure)
		}
		s.orbitsInjected = o.data
		s.orbits = orbitUpload{}
		s.logger.Info("Predicted orbits injected", "bytes", totalSize, "parts", totalParts)
	}
	ind := status(loc.StatusSuccess)
	ind["partNum"] = partNum
	return reply{ind: ind}
}

func (s *Simulator) injectUTCTime(m *message.Message) reply {
	ms, _ := message.Get[uint64](m, "timeUtc")
	s.utcTime = time.UnixMilli(int64(ms)).UTC()
	return reply{ind: status(loc.StatusSuccess)}
}

func (s *Simulator) injectPosition(m *message.Message) reply {
	if m.Has("latitude") != m.Has("longitude") {
		return reply{ind: status(loc.StatusInvalidParameter)}
	}
	p := loc.PositionFromReport(m.Values)
	s.injected = &p
	return reply{ind: status(loc.StatusSuccess)}
}

func (s *Simulator) deleteAssistData(m *message.Message) reply {
	all, _ := message.Get[bool](m, "deleteAllFlag")
	mask, _ := message.Get[uint32](m, "deleteGnssDataMask")
	d := AssistDeletion{All: all, Mask: loc.AssistDataMask(mask)}
	if !all && d.Mask == 0 {
		return reply{ind: status(loc.StatusInvalidParameter)}
	}
	s.deletions = append(s.deletions, d)
	return reply{ind: status(loc.StatusSuccess)}
}

func (s *Simulator) getRegisteredEvents(_ *message.Message) reply {
	ind := status(loc.StatusSuccess)
	ind["eventRegMask"] = uint64(s.events)
	return reply{ind: ind}
}

func (s *Simulator) addCircularGeofence(m *message.Message) reply {
	txn, _ := message.Get[uint32](m, "transactionId")
	args, _ := message.Get[tlv.Values](m, "circularGeofenceArgs")
	mask, _ := message.Get[uint8](m, "breachMask")

	ind := status(loc.StatusSuccess)
	ind["transactionId"] = txn

	circle := geofence.CircleFrom(args)
	if circle.Validate() != nil || loc.BreachMask(mask).Validate() != nil {
		ind["status"] = int32(loc.StatusInvalidParameter)
		return reply{ind: ind}
	}
	if len(s.fences) >= s.cfg.MaxGeofences {
		ind["status"] = int32(loc.StatusMaxGeofenceProgrammed)
		return reply{ind: ind}
	}

	s.nextFenceID++
	f := &fence{
		circle:         circle,
		mask:           loc.BreachMask(mask),
		state:          loc.GeofenceActive,
		responsiveness: loc.ResponsivenessMed,
	}
	if r, ok := message.Enum[loc.Responsiveness](m, "responsiveness"); ok {
		f.responsiveness = r
	}
	s.fences[s.nextFenceID] = f
	s.metrics.setGeofences(len(s.fences))
	ind["geofenceId"] = s.nextFenceID
	return reply{ind: ind}
}

// lookupFence answers with InvalidParameter for an unknown geofence.
func (s *Simulator) lookupFence(m *message.Message) (*fence, tlv.Values) {
	id, _ := message.Get[uint32](m, "geofenceId")
	txn, _ := message.Get[uint32](m, "transactionId")
	ind := status(loc.StatusSuccess)
	ind["geofenceId"] = id
	ind["transactionId"] = txn
	f, ok := s.fences[id]
	if !ok {
		ind["status"] = int32(loc.StatusInvalidParameter)
	}
	return f, ind
}

func (s *Simulator) deleteGeofence(m *message.Message) reply {
	f, ind := s.lookupFence(m)
	if f != nil {
		delete(s.fences, ind["geofenceId"].(uint32))
		s.metrics.setGeofences(len(s.fences))
	}
	return reply{ind: ind}
}

func (s *Simulator) queryGeofence(m *message.Message) reply {
	f, ind := s.lookupFence(m)
	if f == nil {
		return reply{ind: ind}
	}
	ind["geofenceOrigin"] = originNetwork
	ind["posWrtGeofence"] = positionUnsure
	if p := s.cfg.Origin; p.Latitude != 0 || p.Longitude != 0 {
		if f.circle.Contains(p.Latitude, p.Longitude) {
			ind["posWrtGeofence"] = positionIn
		} else {
			ind["posWrtGeofence"] = positionOut
		}
	}
	if f.circle.Radius != 0 {
		ind["circularGeofenceArgs"] = f.circle.Values()
	}
	ind["geofenceState"] = int32(f.state)
	return reply{ind: ind}
}

func (s *Simulator) editGeofence(m *message.Message) reply {
	f, ind := s.lookupFence(m)
	if f == nil {
		return reply{ind: ind}
	}

	var failed uint32
	state, hasState := message.Enum[loc.GeofenceState](m, "geofenceState")
	if hasState && state != loc.GeofenceActive && state != loc.GeofenceSuspended {
		failed |= failedState
	}
	mask, hasMask := message.Get[uint8](m, "breachMask")
	if hasMask && loc.BreachMask(mask).Validate() != nil {
		failed |= failedBreachMask
	}
	resp, hasResp := message.Enum[loc.Responsiveness](m, "responsiveness")
	if hasResp && (resp < loc.ResponsivenessLow || resp > loc.ResponsivenessUltraHigh) {
		failed |= failedResponsiveness
	}
	if failed != 0 {
		ind["status"] = int32(loc.StatusInvalidParameter)
		ind["failedParams"] = failed
		return reply{ind: ind}
	}

	if hasState {
		f.state = state
	}
	if hasMask {
		f.mask = loc.BreachMask(mask)
	}
	if hasResp {
		f.responsiveness = resp
	}
	return reply{ind: ind}
}

func (s *Simulator) addGeofenceContext(m *message.Message) reply {
	txn, _ := message.Get[uint32](m, "transactionId")
	ind := status(loc.StatusSuccess)
	ind["transactionId"] = txn

	id, hasID := message.Get[uint32](m, "geofenceId")
	f, ok := s.fences[id]
	switch {
	case hasID && !ok:
		ind["status"] = int32(loc.StatusInvalidParameter)
		ind["geofenceId"] = id
		return reply{ind: ind}
	case !hasID:
		if len(s.fences) >= s.cfg.MaxGeofences {
			ind["status"] = int32(loc.StatusMaxGeofenceProgrammed)
			return reply{ind: ind}
		}
		s.nextFenceID++
		id = s.nextFenceID
		f = &fence{state: loc.GeofenceActive, mask: loc.BreachMaskEntering | loc.BreachMaskLeaving}
		s.fences[id] = f
		s.metrics.setGeofences(len(s.fences))
	}

	s.nextContextID++
	f.contexts = append(f.contexts, s.nextContextID)
	ind["geofenceId"] = id
	ind["contextId"] = s.nextContextID
	return reply{ind: ind}
}

func (s *Simulator) getBatchSize(m *message.Message) reply {
	txn, _ := message.Get[uint32](m, "transactionId")
	requested, _ := message.Get[uint32](m, "batchSize")
	ind := status(loc.StatusSuccess)
	ind["transactionId"] = txn
	if requested == 0 {
		ind["status"] = int32(loc.StatusInvalidParameter)
		ind["batchSize"] = uint32(0)
		return reply{ind: ind}
	}
	s.batchSize = min(requested, s.cfg.MaxBatchSize)
	ind["batchSize"] = s.batchSize
	return reply{ind: ind}
}

func (s *Simulator) startBatching(m *message.Message) reply {
	if s.batchState != batchNone {
		return reply{ind: status(loc.StatusEngineBusy)}
	}
	size := s.batchSize
	if size == 0 {
		size = s.cfg.MaxBatchSize
	}
	b, err := buffer.NewCircularBuffer[loc.Position](int(size),
		buffer.WithOverflowPolicy[loc.Position](buffer.DropOldest))
	if err != nil {
		s.logger.Error("Failed to allocate batch buffer", "error", err)
		return reply{ind: status(loc.StatusInsufficientMemory)}
	}
	s.batch = b
	s.batchState = batchActive
	s.fullReported = false
	s.batchParams = tlv.Values{}
	for k, v := range m.Values {
		s.batchParams[k] = v
	}
	s.logger.Info("Batching started", "capacity", size)
	return reply{ind: status(loc.StatusSuccess)}
}

func (s *Simulator) readFromBatch(m *message.Message) reply {
	n, _ := message.Get[uint32](m, "numberOfEntries")
	txn, _ := message.Get[uint32](m, "transactionId")
	ind := status(loc.StatusSuccess)
	ind["transactionId"] = txn
	if s.batchState == batchNone || s.batch == nil {
		ind["status"] = int32(loc.StatusGeneralFailure)
		return reply{ind: ind}
	}

	n = min(n, uint32(loc.ReadFromBatchMax))
	fixes := s.batch.ReadBatch(int(n))
	if !s.batch.IsFull() {
		s.fullReported = false
	}
	s.metrics.setBatched(s.batch.Size())

	ind["numberOfEntries"] = uint32(len(fixes))
	if len(fixes) > 0 {
		list := make([]tlv.Values, len(fixes))
		for i, p := range fixes {
			list[i] = p.BatchedReport()
		}
		ind["batchedReportList"] = list
	}
	return reply{ind: ind}
}

func (s *Simulator) stopBatching(m *message.Message) reply {
	txn, _ := message.Get[uint32](m, "transactionId")
	ind := status(loc.StatusSuccess)
	ind["transactionId"] = txn
	if s.batchState != batchActive {
		ind["status"] = int32(loc.StatusGeneralFailure)
		return reply{ind: ind}
	}
	s.batchState = batchStopped
	s.logger.Info("Batching stopped", "remaining", s.batch.Size())
	return reply{ind: ind}
}

func (s *Simulator) releaseBatch(m *message.Message) reply {
	txn, _ := message.Get[uint32](m, "transactionId")
	ind := status(loc.StatusSuccess)
	ind["transactionId"] = txn
	if s.batchState != batchStopped {
		ind["status"] = int32(loc.StatusGeneralFailure)
		return reply{ind: ind}
	}
	if err := s.batch.Close(); err != nil {
		s.logger.Warn("Failed to close batch buffer", "error", err)
	}
	s.batch = nil
	s.batchState = batchNone
	s.metrics.setBatched(0)
	s.logger.Info("Batch released")
	return reply{ind: ind}
}
