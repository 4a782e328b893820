package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/c360/qmiloc/catalog"
	"github.com/c360/qmiloc/geofence"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/ni"
	"github.com/c360/qmiloc/tlv"
)

// EmitPosition sends a PositionReport for sessionID. A final status ends a
// single-shot session on the engine side. A zero FixID is assigned.
func (s *Simulator) EmitPosition(ctx context.Context, sessionID uint8, st loc.SessionStatus, p loc.Position) error {
	s.mu.Lock()
	if p.FixID == 0 {
		s.nextFixID++
		p.FixID = s.nextFixID
	}
	if st.Final() && s.sessions[sessionID] == loc.RecurrenceSingle {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	return s.emit(ctx, catalog.IDPositionReport, p.ReportValues(sessionID, st))
}

// EmitNMEA sends one NMEA sentence.
func (s *Simulator) EmitNMEA(ctx context.Context, sentence string) error {
	if len(sentence) > loc.MaxNMEALength {
		return fmt.Errorf("nmea sentence of %d bytes exceeds %d", len(sentence), loc.MaxNMEALength)
	}
	return s.emit(ctx, catalog.IDNMEA, tlv.Values{"nmea": sentence})
}

// EmitBreach sends a GeofenceBreach. The position is attached when p is
// not nil.
func (s *Simulator) EmitBreach(ctx context.Context, id uint32, breach loc.BreachType, p *loc.Position) error {
	values := tlv.Values{"geofenceId": id, "breachType": int32(breach)}
	if p != nil {
		values["geofencePosition"] = p.GeofenceValues()
	}
	return s.emit(ctx, catalog.IDGeofenceBreach, values)
}

// EmitBatchedBreach sends a GeofenceBatchedBreach naming geofences by
// ranges and by discrete IDs.
func (s *Simulator) EmitBatchedBreach(ctx context.Context, breach loc.BreachType, ranges []geofence.Range, ids []uint32) error {
	values := tlv.Values{"breachType": int32(breach)}
	if len(ranges) > 0 {
		list := make([]tlv.Values, len(ranges))
		for i, r := range ranges {
			list[i] = tlv.Values{"idLow": r.Low, "idHigh": r.High}
		}
		values["geofenceIdContinuousList"] = list
	}
	if len(ids) > 0 {
		values["geofenceIdDiscreteList"] = ids
	}
	return s.emit(ctx, catalog.IDGeofenceBatchedBreach, values)
}

// EmitProximity sends a GeofenceProximity. A zero contextID is omitted.
func (s *Simulator) EmitProximity(ctx context.Context, prox loc.ProximityType, id, contextID uint32) error {
	values := tlv.Values{"proxType": int32(prox), "geofenceId": id}
	if contextID != 0 {
		values["contextId"] = contextID
	}
	return s.emit(ctx, catalog.IDGeofenceProximity, values)
}

// NotifyNI sends a NiNotifyVerifyReq carrying p.
func (s *Simulator) NotifyNI(ctx context.Context, nt loc.NotifyType, p ni.Payload) error {
	values := p.IndicationValues(nt)
	if err := ni.SingleVariant(values); err != nil {
		return err
	}
	return s.emit(ctx, catalog.IDNiNotifyVerifyReq, values)
}

// PushFix stores a fix in the batch buffer, evicting the oldest when full.
// It sends a LiveBatchedPositionReport when registered, and a BatchFull
// once each time the buffer fills.
func (s *Simulator) PushFix(ctx context.Context, p loc.Position) error {
	s.mu.Lock()
	if s.batchState != batchActive {
		s.mu.Unlock()
		return ErrNotBatching
	}
	if p.FixID == 0 {
		s.nextFixID++
		p.FixID = s.nextFixID
	}
	if err := s.batch.Write(p); err != nil {
		s.mu.Unlock()
		return err
	}
	size := s.batch.Size()
	full := s.batch.IsFull() && !s.fullReported
	if full {
		s.fullReported = true
	}
	s.mu.Unlock()
	s.metrics.setBatched(size)

	err := s.emit(ctx, catalog.IDLiveBatchedPositionReport, tlv.Values{"liveBatchedReport": p.BatchedReport()})
	if err != nil && !errors.Is(err, ErrNotRegistered) {
		return err
	}
	if full {
		err := s.emit(ctx, catalog.IDBatchFull, tlv.Values{"batchCount": uint32(size)})
		if err != nil && !errors.Is(err, ErrNotRegistered) {
			return err
		}
	}
	return nil
}

// autoFix reports the configured origin on every tick: a position report
// per active session, a GGA sentence and a batched fix while batching.
func (s *Simulator) autoFix(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FixInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			p := s.cfg.Origin
			p.Timestamp = now.UTC()
			if err := s.tick(ctx, p); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("Periodic fix failed", "error", err)
			}
		}
	}
}

func (s *Simulator) tick(ctx context.Context, p loc.Position) error {
	s.mu.Lock()
	ids := make([]uint8, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	batching := s.batchState == batchActive
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		errs = append(errs, s.EmitPosition(ctx, id, loc.SessionSuccess, p))
	}
	if len(ids) > 0 {
		errs = append(errs, s.EmitNMEA(ctx, GGA(p)))
	}
	if batching {
		errs = append(errs, s.PushFix(ctx, p))
	}

	var kept []error
	for _, err := range errs {
		if err != nil && !errors.Is(err, ErrNotRegistered) && !errors.Is(err, ErrNotBatching) {
			kept = append(kept, err)
		}
	}
	return errors.Join(kept...)
}

// GGA renders p as a $GPGGA sentence with a valid checksum.
func GGA(p loc.Position) string {
	ts := p.Timestamp.UTC()
	body := fmt.Sprintf("GPGGA,%02d%02d%02d.%02d,%s,%s,1,08,0.9,%.1f,M,0.0,M,,",
		ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond()/1e7,
		ddmm(p.Latitude, 2, "N", "S"), ddmm(p.Longitude, 3, "E", "W"), p.Altitude)
	return "$" + body + "*" + nmea.Checksum(body)
}

// ddmm formats a coordinate as degrees and decimal minutes.
func ddmm(v float64, width int, pos, neg string) string {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	minutes := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f,%s", width, int(deg), minutes, hemi)
}
