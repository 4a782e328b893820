package loc

import (
	"time"

	"github.com/c360/qmiloc/tlv"
)

// Batched report valid-field bits.
const (
	ValidLatitude  uint64 = 0x0001
	ValidLongitude uint64 = 0x0002
	ValidHorUnc    uint64 = 0x0004
	ValidSpeed     uint64 = 0x0008
	ValidSpeedUnc  uint64 = 0x0010
	ValidAltitude  uint64 = 0x0020
	ValidSpeedVert uint64 = 0x0040
	ValidHeading   uint64 = 0x0080
	ValidTimestamp uint64 = 0x0800
)

// Position is one fix as carried by position reports and batched reports.
type Position struct {
	FixID       uint32
	Latitude    float64
	Longitude   float64
	HorUnc      float32
	Altitude    float32
	HasAltitude bool
	Speed       float32
	Heading     float32
	Timestamp   time.Time
}

func millis(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixMilli())
}

func fromMillis(ms uint64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// ReportValues renders p as the body of a PositionReport indication.
func (p Position) ReportValues(sessionID uint8, status SessionStatus) tlv.Values {
	v := tlv.Values{
		"sessionStatus":   int32(status),
		"sessionId":       sessionID,
		"latitude":        p.Latitude,
		"longitude":       p.Longitude,
		"horUncCircular":  p.HorUnc,
		"speedHorizontal": p.Speed,
		"heading":         p.Heading,
		"fixId":           p.FixID,
	}
	if p.HasAltitude {
		v["altitudeWrtEllipsoid"] = p.Altitude
	}
	if !p.Timestamp.IsZero() {
		v["timestampUtc"] = millis(p.Timestamp)
	}
	return v
}

// PositionFromReport reads the fix fields of a PositionReport. Absent
// fields stay zero.
func PositionFromReport(v tlv.Values) Position {
	var p Position
	p.FixID, _ = v["fixId"].(uint32)
	p.Latitude, _ = v["latitude"].(float64)
	p.Longitude, _ = v["longitude"].(float64)
	p.HorUnc, _ = v["horUncCircular"].(float32)
	p.Altitude, p.HasAltitude = v["altitudeWrtEllipsoid"].(float32)
	p.Speed, _ = v["speedHorizontal"].(float32)
	p.Heading, _ = v["heading"].(float32)
	if ms, ok := v["timestampUtc"].(uint64); ok {
		p.Timestamp = fromMillis(ms)
	}
	return p
}

// BatchedReport renders p as a batchedReport record.
func (p Position) BatchedReport() tlv.Values {
	valid := ValidLatitude | ValidLongitude | ValidHorUnc | ValidSpeed | ValidHeading
	if p.HasAltitude {
		valid |= ValidAltitude
	}
	if !p.Timestamp.IsZero() {
		valid |= ValidTimestamp
	}
	return tlv.Values{
		"fixId":                p.FixID,
		"validFields":          valid,
		"latitude":             p.Latitude,
		"longitude":            p.Longitude,
		"horUncCircular":       p.HorUnc,
		"speedHorizontal":      p.Speed,
		"speedUnc":             float32(0),
		"altitudeWrtEllipsoid": p.Altitude,
		"speedVertical":        float32(0),
		"heading":              p.Heading,
		"headingUnc":           float32(0),
		"technologyMask":       uint32(1),
		"timestampUtc":         millis(p.Timestamp),
		"timeUnc":              float32(0),
		"magneticDeviation":    float32(0),
		"vertUnc":              float32(0),
		"horConfidence":        uint8(68),
		"gpsTime":              tlv.Values{"gpsWeek": uint16(0), "gpsTimeOfWeekMs": uint32(0)},
	}
}

// PositionFromBatched reads a batchedReport record, honouring validFields.
func PositionFromBatched(v tlv.Values) Position {
	valid, _ := v["validFields"].(uint64)
	var p Position
	p.FixID, _ = v["fixId"].(uint32)
	p.Latitude, _ = v["latitude"].(float64)
	p.Longitude, _ = v["longitude"].(float64)
	p.HorUnc, _ = v["horUncCircular"].(float32)
	p.Speed, _ = v["speedHorizontal"].(float32)
	p.Heading, _ = v["heading"].(float32)
	if valid&ValidAltitude != 0 {
		p.Altitude, p.HasAltitude = v["altitudeWrtEllipsoid"].(float32)
	}
	if ms, ok := v["timestampUtc"].(uint64); ok && valid&ValidTimestamp != 0 {
		p.Timestamp = fromMillis(ms)
	}
	return p
}

// GeofenceValues renders p as a geofencePosition record.
func (p Position) GeofenceValues() tlv.Values {
	return tlv.Values{
		"timestampUtc":               millis(p.Timestamp),
		"latitude":                   p.Latitude,
		"longitude":                  p.Longitude,
		"horUncEllipseSemiMinor":     p.HorUnc,
		"horUncEllipseSemiMajor":     p.HorUnc,
		"horUncEllipseOrientAzimuth": float32(0),
		"altitudeWrtEllipsoidValid":  p.HasAltitude,
		"altitudeWrtEllipsoid":       p.Altitude,
		"vertUnc":                    float32(0),
		"speedHorizontal":            p.Speed,
		"heading":                    p.Heading,
	}
}

// PositionFromGeofence reads a geofencePosition record.
func PositionFromGeofence(v tlv.Values) Position {
	var p Position
	p.Latitude, _ = v["latitude"].(float64)
	p.Longitude, _ = v["longitude"].(float64)
	p.HorUnc, _ = v["horUncEllipseSemiMajor"].(float32)
	if valid, _ := v["altitudeWrtEllipsoidValid"].(bool); valid {
		p.Altitude, p.HasAltitude = v["altitudeWrtEllipsoid"].(float32)
	}
	p.Speed, _ = v["speedHorizontal"].(float32)
	p.Heading, _ = v["heading"].(float32)
	if ms, ok := v["timestampUtc"].(uint64); ok {
		p.Timestamp = fromMillis(ms)
	}
	return p
}
