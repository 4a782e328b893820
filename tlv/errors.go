package tlv

import (
	"errors"
	"fmt"
)

// Encode errors.
var (
	ErrMissingMandatory = errors.New("mandatory field missing")
	ErrFieldTooLarge    = errors.New("field exceeds declared maximum")
	ErrUnknownField     = errors.New("field not in schema")
	ErrTypeMismatch     = errors.New("value does not match field type")
	ErrInvalidEnum      = errors.New("enum value is a reserved sentinel")
	ErrUndefinedBits    = errors.New("mask has undefined bits set")
)

// Decode errors.
var (
	ErrTruncated       = errors.New("buffer truncated")
	ErrUnknownTag      = errors.New("tag not in schema")
	ErrArrayTooLong    = errors.New("array length exceeds declared maximum")
	ErrLengthMismatch  = errors.New("record length does not match field encoding")
	ErrDuplicateTag    = errors.New("tag appears more than once")
	ErrBadPresenceFlag = errors.New("presence flag is not 0 or 1")
)

// ErrInvalidSchema is returned by NewSchema for inconsistent field tables.
var ErrInvalidSchema = errors.New("invalid schema")

// FieldError reports which field of which schema failed.
type FieldError struct {
	Schema string
	Field  string
	Tag    uint8
	Err    error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tlv: %s: tag 0x%02x: %v", e.Schema, e.Tag, e.Err)
	}
	return fmt.Sprintf("tlv: %s: field %q (tag 0x%02x): %v", e.Schema, e.Field, e.Tag, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
