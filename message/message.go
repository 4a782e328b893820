// Package message defines the frame exchanged with the transport and the
// decoded message handed to subscribers.
package message

import (
	"fmt"
	"strings"

	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/tlv"
)

// ID is a 16-bit Location Service message identifier. Request, response
// and indication variants of one operation share an ID.
type ID uint16

func (id ID) String() string { return fmt.Sprintf("0x%04X", uint16(id)) }

// Kind is the direction of a message.
type Kind uint8

// Message kinds.
const (
	Request Kind = iota
	Response
	Indication
)

func (k Kind) String() string {
	switch k {
	case Request:
		return "request"
	case Response:
		return "response"
	case Indication:
		return "indication"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind accepts the names printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "request", "req":
		return Request, nil
	case "response", "resp":
		return Response, nil
	case "indication", "ind":
		return Indication, nil
	}
	return 0, fmt.Errorf("unknown message kind %q", s)
}

// Frame is what the transport carries: framing metadata plus an opaque TLV
// body. Txn correlates a response with its request; it is zero on
// indications.
type Frame struct {
	ID   ID
	Kind Kind
	Txn  uint16
	Body []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %s txn=%d len=%d", f.Kind, f.ID, f.Txn, len(f.Body))
}

// Message is a decoded frame.
type Message struct {
	ID      ID
	Kind    Kind
	Txn     uint16
	Name    string
	Values  tlv.Values
	Present tlv.PresenceSet
}

// Has reports whether field was present on the wire.
func (m *Message) Has(field string) bool {
	return m.Present.Has(field)
}

// Get returns field as T. It reports false when the field is absent or
// holds another type.
func Get[T any](m *Message, field string) (T, bool) {
	var zero T
	if m == nil || !m.Present.Has(field) {
		return zero, false
	}
	v, ok := m.Values[field].(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Enum returns an enum field converted to a named enum type.
func Enum[T ~int32](m *Message, field string) (T, bool) {
	v, ok := Get[int32](m, field)
	return T(v), ok
}

// Status returns the mandatory status of a response indication.
func (m *Message) Status() (loc.Status, bool) {
	return Enum[loc.Status](m, "status")
}

// Resp returns the generic QMI response carried by every response.
func (m *Message) Resp() (result, qmiErr uint16, ok bool) {
	rec, ok := Get[tlv.Values](m, "resp")
	if !ok {
		return 0, 0, false
	}
	result, ok1 := rec["result"].(uint16)
	qmiErr, ok2 := rec["error"].(uint16)
	return result, qmiErr, ok1 && ok2
}
