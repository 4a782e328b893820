package ni

import (
	"errors"
	"fmt"
	"time"

	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/tlv"
)

// ErrMultiplePayloads is returned when more than one payload variant is set
// on an outbound message.
var ErrMultiplePayloads = errors.New("more than one NI payload variant set")

// PayloadKind names the variant of an NI payload.
type PayloadKind int

// Payload variants, in wire tag order.
const (
	PayloadNone PayloadKind = iota
	PayloadVx
	PayloadSupl
	PayloadUmtsCp
	PayloadVxServiceInteraction
	PayloadSuplVer2Ext
)

type variant struct {
	kind       PayloadKind
	name       string
	indField   string
	replyField string
}

var variants = []variant{
	{PayloadVx, "vx", "NiVxInd", "NiVxPayload"},
	{PayloadSupl, "supl", "NiSuplInd", "NiSuplPayload"},
	{PayloadUmtsCp, "umts_cp", "NiUmtsCpInd", "NiUmtsCpPayload"},
	{PayloadVxServiceInteraction, "vx_service_interaction", "NiVxServiceInteractionInd", "NiVxServiceInteractionPayload"},
	{PayloadSuplVer2Ext, "supl_ver2_ext", "NiSuplVer2ExtInd", "NiSuplVer2ExtPayload"},
}

func (k PayloadKind) variant() (variant, bool) {
	for _, v := range variants {
		if v.kind == k {
			return v, true
		}
	}
	return variant{}, false
}

func (k PayloadKind) String() string {
	if v, ok := k.variant(); ok {
		return v.name
	}
	if k == PayloadNone {
		return "none"
	}
	return fmt.Sprintf("payload(%d)", int(k))
}

// Payload is the one populated payload of an NI request.
type Payload struct {
	Kind   PayloadKind
	Values tlv.Values
}

// PayloadFrom reads the payload of a NiNotifyVerifyReq indication. No
// payload at all is legal. When several variants are present the first in
// tag order wins and the others are returned as ignored.
func PayloadFrom(m *message.Message) (p Payload, ignored []PayloadKind) {
	for _, v := range variants {
		values, ok := message.Get[tlv.Values](m, v.indField)
		if !ok {
			continue
		}
		if p.Kind != PayloadNone {
			ignored = append(ignored, v.kind)
			continue
		}
		p = Payload{Kind: v.kind, Values: values}
	}
	return p, ignored
}

// ResponseTimer returns the userResponseTimer carried by the payload. Zero
// and missing timers report false.
func (p Payload) ResponseTimer() (time.Duration, bool) {
	values := p.Values
	if p.Kind == PayloadVxServiceInteraction {
		values, _ = values["niVxReq"].(tlv.Values)
	}
	secs, ok := values["userResponseTimer"].(uint16)
	if !ok || secs == 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// IndicationValues builds the body of a NiNotifyVerifyReq indication.
func (p Payload) IndicationValues(nt loc.NotifyType) tlv.Values {
	values := tlv.Values{"notificationType": int32(nt)}
	if v, ok := p.Kind.variant(); ok {
		values[v.indField] = p.Values
	}
	return values
}

// ResponseValues builds the body of a NiUserResponse request echoing the
// payload the request was indicated with.
func (p Payload) ResponseValues(nt loc.NotifyType, resp loc.UserResponse) tlv.Values {
	values := tlv.Values{
		"userResp":         int32(resp),
		"notificationType": int32(nt),
	}
	if v, ok := p.Kind.variant(); ok {
		values[v.replyField] = p.Values
	}
	return values
}

// SingleVariant checks that at most one payload variant is set in the body
// of an NI indication or user response.
func SingleVariant(values tlv.Values) error {
	var set []string
	for _, v := range variants {
		for _, field := range []string{v.indField, v.replyField} {
			if x, ok := values[field]; ok && x != nil {
				set = append(set, field)
			}
		}
	}
	if len(set) > 1 {
		return fmt.Errorf("%w: %v", ErrMultiplePayloads, set)
	}
	return nil
}
