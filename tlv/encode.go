package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

const (
	headerLen   = 3
	maxValueLen = math.MaxUint16
)

// Encode serializes values according to s. Fields are written in schema
// order; optional fields absent from values (or nil) are omitted entirely.
func Encode(s *Schema, values Values) ([]byte, error) {
	if err := checkUnknown(s, values); err != nil {
		return nil, err
	}

	var out []byte
	for _, f := range s.fields {
		v, ok := values[f.Name]
		if !ok || isNil(v) {
			if f.Presence == Mandatory {
				return nil, &FieldError{Schema: s.name, Field: f.Name, Tag: f.Tag, Err: ErrMissingMandatory}
			}
			continue
		}

		var body []byte
		if f.Presence == Optional {
			body = append(body, 1)
		}
		body, err := appendLayout(body, f.Layout, v, f.Name)
		if err != nil {
			return nil, &FieldError{Schema: s.name, Field: f.Name, Tag: f.Tag, Err: err}
		}
		if len(body) > maxValueLen {
			return nil, &FieldError{Schema: s.name, Field: f.Name, Tag: f.Tag,
				Err: fmt.Errorf("%w: record of %d bytes", ErrFieldTooLarge, len(body))}
		}

		out = append(out, f.Tag)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(body)))
		out = append(out, body...)
	}
	return out, nil
}

func checkUnknown(s *Schema, values Values) error {
	var unknown []string
	for name := range values {
		if _, ok := s.byName[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &FieldError{Schema: s.name, Field: unknown[0], Err: ErrUnknownField}
}

func appendLayout(dst []byte, l Layout, v any, path string) ([]byte, error) {
	switch l.Form {
	case FormScalar:
		return appendElem(dst, l.Elem, v, path)

	case FormString:
		str, err := asString(v)
		if err != nil {
			return nil, err
		}
		if len(str) > l.Len {
			return nil, fmt.Errorf("%w: string of %d bytes, max %d", ErrFieldTooLarge, len(str), l.Len)
		}
		dst = append(dst, str...)
		return append(dst, make([]byte, l.Len-len(str))...), nil

	case FormFixedArray, FormArray:
		list, err := asList(v)
		if err != nil {
			return nil, err
		}
		n := list.Len()
		if n > l.Len {
			return nil, fmt.Errorf("%w: %d elements, max %d", ErrFieldTooLarge, n, l.Len)
		}
		if l.Form == FormFixedArray && n < l.Len {
			return nil, fmt.Errorf("%w: %d elements, want exactly %d", ErrTypeMismatch, n, l.Len)
		}
		if l.Form == FormArray {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(n))
		}
		for i := 0; i < n; i++ {
			dst, err = appendElem(dst, l.Elem, list.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	}
	return nil, fmt.Errorf("unknown form %d", l.Form)
}

func appendElem(dst []byte, t Type, v any, path string) ([]byte, error) {
	le := binary.LittleEndian
	switch t.Kind {
	case Bool:
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil

	case Uint8, Uint16, Uint32, Uint64, Mask8, Mask16, Mask32, Mask64:
		u, err := asUint(v, t.Kind.size()*8)
		if err != nil {
			return nil, err
		}
		if t.ValidBits != 0 && u&^t.ValidBits != 0 {
			return nil, fmt.Errorf("%w: 0x%x outside 0x%x", ErrUndefinedBits, u&^t.ValidBits, t.ValidBits)
		}
		return appendUint(dst, u, t.Kind.size()), nil

	case Int8, Int16, Int32, Int64, Enum:
		i, err := asInt(v, t.Kind.size()*8)
		if err != nil {
			return nil, err
		}
		if t.Kind == Enum && (i == math.MinInt32 || i == math.MaxInt32) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidEnum, i)
		}
		return appendUint(dst, uint64(i), t.Kind.size()), nil

	case Float32:
		f, err := asFloat(v)
		if err != nil {
			return nil, err
		}
		return le.AppendUint32(dst, math.Float32bits(float32(f))), nil

	case Float64:
		f, err := asFloat(v)
		if err != nil {
			return nil, err
		}
		return le.AppendUint64(dst, math.Float64bits(f)), nil

	case Struct:
		rec, err := asRecord(v)
		if err != nil {
			return nil, err
		}
		for name := range rec {
			if !hasMember(t, name) {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, path, name)
			}
		}
		for _, m := range t.Members {
			mv, ok := rec[m.Name]
			if !ok || isNil(mv) {
				return nil, fmt.Errorf("%w: %s.%s", ErrMissingMandatory, path, m.Name)
			}
			dst, err = appendLayout(dst, m.Layout, mv, path+"."+m.Name)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	}
	return nil, fmt.Errorf("unknown kind %s", t.Kind)
}

func appendUint(dst []byte, u uint64, size int) []byte {
	le := binary.LittleEndian
	switch size {
	case 1:
		return append(dst, byte(u))
	case 2:
		return le.AppendUint16(dst, uint16(u))
	case 4:
		return le.AppendUint32(dst, uint32(u))
	}
	return le.AppendUint64(dst, u)
}

func hasMember(t Type, name string) bool {
	for _, m := range t.Members {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Validate reports the error Encode would return for values, without
// keeping the encoded bytes.
func (s *Schema) Validate(values Values) error {
	_, err := Encode(s, values)
	return err
}
