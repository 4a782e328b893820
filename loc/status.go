// Package loc defines the Location Service value types shared by the codec
// catalog, the state machines and the client: status codes, event masks and
// the small enums carried in requests and indications.
package loc

import "fmt"

// Status is the protocol status carried in the mandatory status field of
// nearly every response indication.
type Status int32

// Protocol statuses.
const (
	StatusSuccess Status = iota
	StatusGeneralFailure
	StatusUnsupported
	StatusInvalidParameter
	StatusEngineBusy
	StatusPhoneOffline
	StatusTimeout
	StatusConfigNotSupported
	StatusInsufficientMemory
	StatusMaxGeofenceProgrammed
	StatusXtraVersionCheckFailure
)

var statusNames = [...]string{
	"SUCCESS",
	"GENERAL_FAILURE",
	"UNSUPPORTED",
	"INVALID_PARAMETER",
	"ENGINE_BUSY",
	"PHONE_OFFLINE",
	"TIMEOUT",
	"CONFIG_NOT_SUPPORTED",
	"INSUFFICIENT_MEMORY",
	"MAX_GEOFENCE_PROGRAMMED",
	"XTRA_VERSION_CHECK_FAILURE",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// Error lets a Status be used as an errors.Is target.
func (s Status) Error() string { return "location status " + s.String() }

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool { return s == StatusSuccess }

// Valid reports whether s is a defined status.
func (s Status) Valid() bool { return s >= 0 && int(s) < len(statusNames) }

// Retryable reports whether the caller may reasonably repeat the request.
// Nothing in this module retries on its own.
func (s Status) Retryable() bool {
	switch s {
	case StatusGeneralFailure, StatusTimeout, StatusEngineBusy:
		return true
	}
	return false
}

// Err returns nil for success and a *StatusError otherwise.
func (s Status) Err(op string) error {
	if s.OK() {
		return nil
	}
	return &StatusError{Op: op, Status: s}
}

// StatusError is a request that the service answered with a failure status.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// Is matches a bare Status target.
func (e *StatusError) Is(target error) bool {
	s, ok := target.(Status)
	return ok && s == e.Status
}

// SessionStatus is the outcome carried by a position report.
type SessionStatus int32

// Fix session statuses.
const (
	SessionSuccess SessionStatus = iota
	SessionInProgress
	SessionGeneralFailure
	SessionTimeout
	SessionUserEnd
	SessionBadParameter
	SessionPhoneOffline
	SessionEngineLocked
)

var sessionNames = [...]string{
	"SUCCESS",
	"IN_PROGRESS",
	"GENERAL_FAILURE",
	"TIMEOUT",
	"USER_END",
	"BAD_PARAMETER",
	"PHONE_OFFLINE",
	"ENGINE_LOCKED",
}

func (s SessionStatus) String() string {
	if s >= 0 && int(s) < len(sessionNames) {
		return sessionNames[s]
	}
	return fmt.Sprintf("SESS_STATUS(%d)", int32(s))
}

// Final reports whether a report with this status ends one fix attempt.
func (s SessionStatus) Final() bool {
	return s != SessionInProgress && s >= 0 && int(s) < len(sessionNames)
}

// QMI response result and error codes carried by the generic resp field.
const (
	ResultSuccess uint16 = 0
	ResultFailure uint16 = 1

	QMIErrNone         uint16 = 0x0000
	QMIErrMalformedMsg uint16 = 0x0001
	QMIErrNoMemory     uint16 = 0x0002
	QMIErrInternal     uint16 = 0x0003
	QMIErrDeviceInUse  uint16 = 0x0017
	QMIErrInvalidArg   uint16 = 0x0030
	QMIErrNotSupported uint16 = 0x005E
)

// ResponseStatus folds a QMI response into the protocol status a caller
// branches on.
func ResponseStatus(result, qmiErr uint16) Status {
	if result == ResultSuccess {
		return StatusSuccess
	}
	switch qmiErr {
	case QMIErrMalformedMsg, QMIErrInvalidArg:
		return StatusInvalidParameter
	case QMIErrDeviceInUse:
		return StatusEngineBusy
	case QMIErrNotSupported:
		return StatusUnsupported
	case QMIErrNoMemory:
		return StatusInsufficientMemory
	}
	return StatusGeneralFailure
}
