package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// UnknownTagFunc observes a record that Decode skipped.
type UnknownTagFunc func(tag uint8, value []byte)

type decodeOptions struct {
	onUnknown UnknownTagFunc
	strict    bool
}

// DecodeOption configures Decode.
type DecodeOption func(*decodeOptions)

// OnUnknownTag registers fn to be called for every skipped record.
func OnUnknownTag(fn UnknownTagFunc) DecodeOption {
	return func(o *decodeOptions) { o.onUnknown = fn }
}

// Strict makes unknown tags fail with ErrUnknownTag instead of being skipped.
func Strict() DecodeOption {
	return func(o *decodeOptions) { o.strict = true }
}

// Decode parses data according to s. It returns the decoded values and the
// set of fields present on the wire. Optional fields that were absent appear
// in neither.
func Decode(s *Schema, data []byte, opts ...DecodeOption) (Values, PresenceSet, error) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	values := make(Values)
	present := make(PresenceSet)

	for off := 0; off < len(data); {
		if len(data)-off < headerLen {
			return nil, nil, &FieldError{Schema: s.name, Err: fmt.Errorf("%w: %d header bytes left", ErrTruncated, len(data)-off)}
		}
		tag := data[off]
		n := int(binary.LittleEndian.Uint16(data[off+1:]))
		off += headerLen
		if len(data)-off < n {
			return nil, nil, &FieldError{Schema: s.name, Tag: tag,
				Err: fmt.Errorf("%w: record wants %d bytes, %d left", ErrTruncated, n, len(data)-off)}
		}
		raw := data[off : off+n]
		off += n

		i, known := s.byTag[tag]
		if !known {
			if o.strict {
				return nil, nil, &FieldError{Schema: s.name, Tag: tag, Err: ErrUnknownTag}
			}
			if o.onUnknown != nil {
				o.onUnknown(tag, raw)
			}
			continue
		}

		f := s.fields[i]
		if present.Has(f.Name) {
			return nil, nil, &FieldError{Schema: s.name, Field: f.Name, Tag: tag, Err: ErrDuplicateTag}
		}

		v, ok, err := decodeField(f, raw)
		if err != nil {
			return nil, nil, &FieldError{Schema: s.name, Field: f.Name, Tag: tag, Err: err}
		}
		if !ok {
			continue
		}
		values[f.Name] = v
		present[f.Name] = struct{}{}
	}

	for _, f := range s.fields {
		if f.Presence == Mandatory && !present.Has(f.Name) {
			return nil, nil, &FieldError{Schema: s.name, Field: f.Name, Tag: f.Tag, Err: ErrMissingMandatory}
		}
	}
	return values, present, nil
}

// decodeField returns ok=false for an optional record whose flag is clear.
func decodeField(f Field, raw []byte) (any, bool, error) {
	r := &reader{buf: raw}
	if f.Presence == Optional {
		flag, err := r.take(1)
		if err != nil {
			return nil, false, err
		}
		switch flag[0] {
		case 0:
			if r.remaining() != 0 {
				return nil, false, fmt.Errorf("%w: cleared flag followed by %d bytes", ErrLengthMismatch, r.remaining())
			}
			return nil, false, nil
		case 1:
		default:
			return nil, false, fmt.Errorf("%w: 0x%02x", ErrBadPresenceFlag, flag[0])
		}
	}

	v, err := r.layout(f.Layout)
	if err != nil {
		return nil, false, err
	}
	if r.remaining() != 0 {
		return nil, false, fmt.Errorf("%w: %d trailing bytes", ErrLengthMismatch, r.remaining())
	}
	return v, true, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) layout(l Layout) (any, error) {
	switch l.Form {
	case FormScalar:
		return r.elem(l.Elem)

	case FormString:
		b, err := r.take(l.Len)
		if err != nil {
			return nil, err
		}
		for i, c := range b {
			if c == 0 {
				return string(b[:i]), nil
			}
		}
		return string(b), nil

	case FormFixedArray:
		return r.list(l.Elem, l.Len)

	case FormArray:
		b, err := r.take(4)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(b)
		if uint64(n) > uint64(l.Len) {
			return nil, fmt.Errorf("%w: %d elements, max %d", ErrArrayTooLong, n, l.Len)
		}
		return r.list(l.Elem, int(n))
	}
	return nil, fmt.Errorf("unknown form %d", l.Form)
}

func (r *reader) list(t Type, n int) (any, error) {
	out := reflect.MakeSlice(reflect.SliceOf(goTypes[t.Kind]), n, n)
	for i := 0; i < n; i++ {
		v, err := r.elem(t)
		if err != nil {
			return nil, err
		}
		out.Index(i).Set(reflect.ValueOf(v))
	}
	return out.Interface(), nil
}

func (r *reader) elem(t Type) (any, error) {
	if t.Kind == Struct {
		rec := make(Values, len(t.Members))
		for _, m := range t.Members {
			v, err := r.layout(m.Layout)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Name, err)
			}
			rec[m.Name] = v
		}
		return rec, nil
	}

	b, err := r.take(t.Kind.size())
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	if t.Kind.isMask() {
		return decodeMask(t, b)
	}
	switch t.Kind {
	case Bool:
		return b[0] != 0, nil
	case Uint8:
		return b[0], nil
	case Uint16:
		return le.Uint16(b), nil
	case Uint32:
		return le.Uint32(b), nil
	case Uint64:
		return le.Uint64(b), nil
	case Int8:
		return int8(b[0]), nil
	case Int16:
		return int16(le.Uint16(b)), nil
	case Int32:
		return int32(le.Uint32(b)), nil
	case Enum:
		e := int32(le.Uint32(b))
		if e == math.MinInt32 || e == math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidEnum, e)
		}
		return e, nil
	case Int64:
		return int64(le.Uint64(b)), nil
	case Float32:
		return math.Float32frombits(le.Uint32(b)), nil
	case Float64:
		return math.Float64frombits(le.Uint64(b)), nil
	}
	return nil, fmt.Errorf("unknown kind %s", t.Kind)
}

// decodeMask decodes a bit mask and rejects bits outside t.ValidBits, the same
// check Encode applies.
func decodeMask(t Type, b []byte) (any, error) {
	var u uint64
	for i := len(b) - 1; i >= 0; i-- {
		u = u<<8 | uint64(b[i])
	}
	if t.ValidBits != 0 && u&^t.ValidBits != 0 {
		return nil, fmt.Errorf("%w: 0x%x outside 0x%x", ErrUndefinedBits, u&^t.ValidBits, t.ValidBits)
	}
	switch t.Kind {
	case Mask8:
		return uint8(u), nil
	case Mask16:
		return uint16(u), nil
	case Mask32:
		return uint32(u), nil
	}
	return u, nil
}
