package loc

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// EventMask selects indication categories a client wants delivered.
type EventMask uint64

// Event bits.
const (
	EventPositionReport           EventMask = 0x00000001
	EventGnssSvInfo               EventMask = 0x00000002
	EventNMEA                     EventMask = 0x00000004
	EventNiNotifyVerifyReq        EventMask = 0x00000008
	EventInjectTimeReq            EventMask = 0x00000010
	EventInjectPredictedOrbitsReq EventMask = 0x00000020
	EventInjectPositionReq        EventMask = 0x00000040
	EventEngineState              EventMask = 0x00000080
	EventFixSessionState          EventMask = 0x00000100
	EventWifiReq                  EventMask = 0x00000200
	EventSensorStreamingReady     EventMask = 0x00000400
	EventTimeSyncReq              EventMask = 0x00000800
	EventSetSpiStreamingReport    EventMask = 0x00001000
	EventLocationServerConnReq    EventMask = 0x00002000
	EventNiGeofenceNotification   EventMask = 0x00004000
	EventGeofenceGenAlert         EventMask = 0x00008000
	EventGeofenceBreach           EventMask = 0x00010000
	EventPedometerControl         EventMask = 0x00020000
	EventMotionDataControl        EventMask = 0x00040000
	EventBatchFull                EventMask = 0x00080000
	EventLiveBatchedPosition      EventMask = 0x00100000
	EventInjectWifiApDataReq      EventMask = 0x00200000
	EventGeofenceBatchBreach      EventMask = 0x00400000
	EventVehicleDataReady         EventMask = 0x00800000
	EventGnssMeasurement          EventMask = 0x01000000
	EventSvPolynomial             EventMask = 0x02000000
	EventGeofenceProximity        EventMask = 0x04000000
	EventGdtUploadBegin           EventMask = 0x08000000
	EventGdtUploadEnd             EventMask = 0x10000000
)

// EventsKnown is the union of every defined event bit.
const EventsKnown EventMask = 0x1FFFFFFF

var eventNames = map[EventMask]string{
	EventPositionReport:           "position_report",
	EventGnssSvInfo:               "gnss_sv_info",
	EventNMEA:                     "nmea",
	EventNiNotifyVerifyReq:        "ni_notify_verify",
	EventInjectTimeReq:            "inject_time_req",
	EventInjectPredictedOrbitsReq: "inject_predicted_orbits_req",
	EventInjectPositionReq:        "inject_position_req",
	EventEngineState:              "engine_state",
	EventFixSessionState:          "fix_session_state",
	EventWifiReq:                  "wifi_req",
	EventSensorStreamingReady:     "sensor_streaming_ready",
	EventTimeSyncReq:              "time_sync_req",
	EventSetSpiStreamingReport:    "spi_streaming_report",
	EventLocationServerConnReq:    "location_server_conn_req",
	EventNiGeofenceNotification:   "ni_geofence_notification",
	EventGeofenceGenAlert:         "geofence_gen_alert",
	EventGeofenceBreach:           "geofence_breach",
	EventPedometerControl:         "pedometer_control",
	EventMotionDataControl:        "motion_data_control",
	EventBatchFull:                "batch_full",
	EventLiveBatchedPosition:      "live_batched_position",
	EventInjectWifiApDataReq:      "inject_wifi_ap_data_req",
	EventGeofenceBatchBreach:      "geofence_batch_breach",
	EventVehicleDataReady:         "vehicle_data_ready",
	EventGnssMeasurement:          "gnss_measurement",
	EventSvPolynomial:             "sv_polynomial",
	EventGeofenceProximity:        "geofence_proximity",
	EventGdtUploadBegin:           "gdt_upload_begin",
	EventGdtUploadEnd:             "gdt_upload_end",
}

// Has reports whether every bit of other is set in m.
func (m EventMask) Has(other EventMask) bool {
	return other != 0 && m&other == other
}

// Validate rejects masks carrying undefined bits.
func (m EventMask) Validate() error {
	if extra := m &^ EventsKnown; extra != 0 {
		return fmt.Errorf("event mask 0x%x has undefined bits 0x%x", uint64(m), uint64(extra))
	}
	return nil
}

// Names lists the names of the set bits in bit order.
func (m EventMask) Names() []string {
	out := make([]string, 0, bits.OnesCount64(uint64(m)))
	for b := 0; b < 64; b++ {
		bit := EventMask(1) << b
		if m&bit == 0 {
			continue
		}
		if n, ok := eventNames[bit]; ok {
			out = append(out, n)
		} else {
			out = append(out, fmt.Sprintf("bit%d", b))
		}
	}
	return out
}

func (m EventMask) String() string {
	if m == 0 {
		return "none"
	}
	return strings.Join(m.Names(), "|")
}

// ParseEvents builds a mask from event names such as "position_report".
func ParseEvents(names []string) (EventMask, error) {
	var m EventMask
	for _, n := range names {
		bit, ok := eventByName(strings.TrimSpace(n))
		if !ok {
			return 0, fmt.Errorf("unknown event %q (known: %s)", n, strings.Join(EventNames(), ", "))
		}
		m |= bit
	}
	return m, nil
}

// EventNames returns all defined event names, sorted.
func EventNames() []string {
	out := make([]string, 0, len(eventNames))
	for _, n := range eventNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func eventByName(name string) (EventMask, bool) {
	for bit, n := range eventNames {
		if n == name {
			return bit, true
		}
	}
	return 0, false
}
