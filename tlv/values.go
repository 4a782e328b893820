package tlv

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Values holds field values keyed by field or member name.
type Values map[string]any

// PresenceSet records which fields were found on the wire.
type PresenceSet map[string]struct{}

// Has reports whether the named field was present.
func (p PresenceSet) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Names returns the present field names in sorted order.
func (p PresenceSet) Names() []string {
	out := make([]string, 0, len(p))
	for n := range p {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func asUint(v any, bits int) (uint64, error) {
	rv := reflect.ValueOf(v)
	var u uint64
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u = rv.Uint()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrTypeMismatch, i)
		}
		u = uint64(i)
	default:
		return 0, fmt.Errorf("%w: %T is not an unsigned integer", ErrTypeMismatch, v)
	}
	if bits < 64 && u>>bits != 0 {
		return 0, fmt.Errorf("%w: %d does not fit %d bits", ErrTypeMismatch, u, bits)
	}
	return u, nil
}

func asInt(v any, bits int) (int64, error) {
	rv := reflect.ValueOf(v)
	var i int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrTypeMismatch, u)
		}
		i = int64(u)
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrTypeMismatch, v)
	}
	if bits < 64 {
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if i < lo || i > hi {
			return 0, fmt.Errorf("%w: %d does not fit %d bits", ErrTypeMismatch, i, bits)
		}
	}
	return i, nil
}

func asFloat(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("%w: %T is not a float", ErrTypeMismatch, v)
}

func asBool(v any) (bool, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Bool {
		return rv.Bool(), nil
	}
	return false, fmt.Errorf("%w: %T is not a bool", ErrTypeMismatch, v)
}

func asString(v any) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", fmt.Errorf("%w: %T is not a string", ErrTypeMismatch, v)
}

func asRecord(v any) (Values, error) {
	switch r := v.(type) {
	case Values:
		return r, nil
	case map[string]any:
		return Values(r), nil
	}
	return nil, fmt.Errorf("%w: %T is not a struct record", ErrTypeMismatch, v)
}

func asList(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv, nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %T is not a list", ErrTypeMismatch, v)
}

// isNil reports whether v carries no value (untyped nil or a nil slice/map/pointer).
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
