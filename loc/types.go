package loc

import "fmt"

// Recurrence selects single-shot or periodic fixes.
type Recurrence int32

// Fix recurrences.
const (
	RecurrencePeriodic Recurrence = 1
	RecurrenceSingle   Recurrence = 2
)

func (r Recurrence) String() string {
	switch r {
	case RecurrencePeriodic:
		return "periodic"
	case RecurrenceSingle:
		return "single"
	}
	return fmt.Sprintf("recurrence(%d)", int32(r))
}

// Valid reports whether r is a defined recurrence.
func (r Recurrence) Valid() bool { return r == RecurrencePeriodic || r == RecurrenceSingle }

// Accuracy is a requested horizontal accuracy level.
type Accuracy int32

// Accuracy levels.
const (
	AccuracyLow  Accuracy = 1
	AccuracyMed  Accuracy = 2
	AccuracyHigh Accuracy = 3
)

// Valid reports whether a is a defined level.
func (a Accuracy) Valid() bool { return a >= AccuracyLow && a <= AccuracyHigh }

// NotifyType is the kind of network initiated request.
type NotifyType int32

// NI notification types.
const (
	NotifyNoNotifyNoVerify     NotifyType = 1
	NotifyOnly                 NotifyType = 2
	NotifyVerifyAllowNoResp    NotifyType = 3
	NotifyVerifyNotAllowNoResp NotifyType = 4
	NotifyPrivacyVerify        NotifyType = 5
	NotifyPrivacyOverride      NotifyType = 6
)

func (n NotifyType) String() string {
	switch n {
	case NotifyNoNotifyNoVerify:
		return "NO_NOTIFY_NO_VERIFY"
	case NotifyOnly:
		return "NOTIFY_ONLY"
	case NotifyVerifyAllowNoResp:
		return "NOTIFY_VERIFY_ALLOW_NO_RESP"
	case NotifyVerifyNotAllowNoResp:
		return "NOTIFY_VERIFY_NOT_ALLOW_NO_RESP"
	case NotifyPrivacyVerify:
		return "PRIVACY_VERIFY"
	case NotifyPrivacyOverride:
		return "PRIVACY_OVERRIDE"
	}
	return fmt.Sprintf("NOTIFY(%d)", int32(n))
}

// RequiresResponse reports whether the user is expected to answer.
func (n NotifyType) RequiresResponse() bool {
	return n != NotifyNoNotifyNoVerify && n != NotifyOnly
}

// UserResponse answers a network initiated request.
type UserResponse int32

// User responses.
const (
	UserAccept UserResponse = 1
	UserDeny   UserResponse = 2
	UserNoResp UserResponse = 3
)

func (u UserResponse) String() string {
	switch u {
	case UserAccept:
		return "accept"
	case UserDeny:
		return "deny"
	case UserNoResp:
		return "no_response"
	}
	return fmt.Sprintf("response(%d)", int32(u))
}

// Valid reports whether u is a defined response.
func (u UserResponse) Valid() bool { return u >= UserAccept && u <= UserNoResp }

// BreachType is the direction of a geofence crossing.
type BreachType int32

// Breach types.
const (
	BreachEntering BreachType = 1
	BreachLeaving  BreachType = 2
)

func (b BreachType) String() string {
	switch b {
	case BreachEntering:
		return "entering"
	case BreachLeaving:
		return "leaving"
	}
	return fmt.Sprintf("breach(%d)", int32(b))
}

// BreachMask selects which crossings a geofence reports.
type BreachMask uint8

// Breach mask bits.
const (
	BreachMaskEntering BreachMask = 0x01
	BreachMaskLeaving  BreachMask = 0x02

	breachMaskKnown = BreachMaskEntering | BreachMaskLeaving
)

// Validate rejects undefined bits.
func (m BreachMask) Validate() error {
	if extra := m &^ breachMaskKnown; extra != 0 {
		return fmt.Errorf("breach mask 0x%02x has undefined bits 0x%02x", uint8(m), uint8(extra))
	}
	return nil
}

// Reports tells whether a crossing of type b is selected.
func (m BreachMask) Reports(b BreachType) bool {
	switch b {
	case BreachEntering:
		return m&BreachMaskEntering != 0
	case BreachLeaving:
		return m&BreachMaskLeaving != 0
	}
	return false
}

// GeofenceState is the engine-side activation state of a geofence.
type GeofenceState int32

// Geofence states.
const (
	GeofenceActive    GeofenceState = 1
	GeofenceSuspended GeofenceState = 2
)

func (s GeofenceState) String() string {
	switch s {
	case GeofenceActive:
		return "active"
	case GeofenceSuspended:
		return "suspended"
	}
	return fmt.Sprintf("geofence_state(%d)", int32(s))
}

// Confidence is a geofence breach confidence level.
type Confidence int32

// Confidence levels.
const (
	ConfidenceLow  Confidence = 1
	ConfidenceMed  Confidence = 2
	ConfidenceHigh Confidence = 3
)

// Responsiveness trades breach latency for power.
type Responsiveness int32

// Responsiveness levels.
const (
	ResponsivenessLow       Responsiveness = 1
	ResponsivenessMed       Responsiveness = 2
	ResponsivenessHigh      Responsiveness = 3
	ResponsivenessUltraHigh Responsiveness = 4
)

// ProximityType says whether the device came near or left a geofence.
type ProximityType int32

// Proximity types.
const (
	ProximityIn  ProximityType = 1
	ProximityOut ProximityType = 2
)

func (p ProximityType) String() string {
	switch p {
	case ProximityIn:
		return "in"
	case ProximityOut:
		return "out"
	}
	return fmt.Sprintf("proximity(%d)", int32(p))
}

// AssistDataMask selects assistance data to delete.
type AssistDataMask uint32

// Assistance data bits; DeleteAll is carried as a separate flag on the wire.
const (
	AssistGPSTime    AssistDataMask = 0x0001
	AssistGPSAlmanac AssistDataMask = 0x0002
	AssistGPSEph     AssistDataMask = 0x0004
	AssistPosition   AssistDataMask = 0x0008
	AssistTime       AssistDataMask = 0x0010
	AssistIono       AssistDataMask = 0x0020
	AssistUTC        AssistDataMask = 0x0040
	AssistHealth     AssistDataMask = 0x0080
	AssistSvDir      AssistDataMask = 0x0100
	AssistSvSteer    AssistDataMask = 0x0200
	AssistSaData     AssistDataMask = 0x0400
	AssistRTI        AssistDataMask = 0x0800

	AssistKnown AssistDataMask = 0x0FFF
)

// Validate rejects undefined bits.
func (m AssistDataMask) Validate() error {
	if extra := m &^ AssistKnown; extra != 0 {
		return fmt.Errorf("assistance mask 0x%x has undefined bits 0x%x", uint32(m), uint32(extra))
	}
	return nil
}

// Capability constants fixed by the message catalog.
const (
	MaxSvUsed          = 80
	ReadFromBatchMax   = 5
	MaxPredictedOrbits = 1024
	MaxNMEALength      = 200
	MaxAppIDLength     = 32
)
