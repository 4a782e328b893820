package tlv

import (
	"fmt"
	"reflect"
)

// Kind is the wire type of a single element.
type Kind uint8

// Element kinds.
const (
	Invalid Kind = iota
	Bool
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
	Enum
	Mask8
	Mask16
	Mask32
	Mask64
	Struct
)

var kindNames = map[Kind]string{
	Bool:    "bool",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
	Enum:    "enum",
	Mask8:   "mask8",
	Mask16:  "mask16",
	Mask32:  "mask32",
	Mask64:  "mask64",
	Struct:  "struct",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name as printed by String back to a Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return Invalid, false
}

// size is the fixed wire width of a non-struct kind.
func (k Kind) size() int {
	switch k {
	case Bool, Uint8, Int8, Mask8:
		return 1
	case Uint16, Int16, Mask16:
		return 2
	case Uint32, Int32, Float32, Enum, Mask32:
		return 4
	case Uint64, Int64, Float64, Mask64:
		return 8
	}
	return 0
}

func (k Kind) isMask() bool {
	return k == Mask8 || k == Mask16 || k == Mask32 || k == Mask64
}

var goTypes = map[Kind]reflect.Type{
	Bool:    reflect.TypeOf(false),
	Uint8:   reflect.TypeOf(uint8(0)),
	Uint16:  reflect.TypeOf(uint16(0)),
	Uint32:  reflect.TypeOf(uint32(0)),
	Uint64:  reflect.TypeOf(uint64(0)),
	Int8:    reflect.TypeOf(int8(0)),
	Int16:   reflect.TypeOf(int16(0)),
	Int32:   reflect.TypeOf(int32(0)),
	Int64:   reflect.TypeOf(int64(0)),
	Float32: reflect.TypeOf(float32(0)),
	Float64: reflect.TypeOf(float64(0)),
	Enum:    reflect.TypeOf(int32(0)),
	Mask8:   reflect.TypeOf(uint8(0)),
	Mask16:  reflect.TypeOf(uint16(0)),
	Mask32:  reflect.TypeOf(uint32(0)),
	Mask64:  reflect.TypeOf(uint64(0)),
	Struct:  reflect.TypeOf(Values{}),
}

// Type describes one element: a scalar kind, a bitmask with its defined
// bits, or a struct made of members.
type Type struct {
	Kind Kind
	// ValidBits lists the defined bits of a mask. Zero leaves the mask unchecked.
	ValidBits uint64
	Members   []Member
}

// Form selects how a field or member lays its elements out.
type Form uint8

// Layout forms.
const (
	FormScalar Form = iota
	FormString
	FormFixedArray
	FormArray
)

func (f Form) String() string {
	switch f {
	case FormScalar:
		return "scalar"
	case FormString:
		return "string"
	case FormFixedArray:
		return "fixed_array"
	case FormArray:
		return "array"
	}
	return "unknown"
}

// Layout is the encoding of a field: a single element, a NUL padded string
// of Len bytes, exactly Len elements, or a u32 counted array of at most Len
// elements.
type Layout struct {
	Form Form
	Elem Type
	Len  int
}

// Member is a named part of a struct element.
type Member struct {
	Name   string
	Layout Layout
}

// Presence tells whether a field must appear in every message.
type Presence uint8

// Field presences.
const (
	Mandatory Presence = iota
	Optional
)

// Field is one TLV record of a message.
type Field struct {
	Tag      uint8
	Name     string
	Presence Presence
	Layout   Layout
}

// Scalar returns a single-element layout of kind k.
func Scalar(k Kind) Layout {
	return Layout{Form: FormScalar, Elem: Type{Kind: k}}
}

// Mask returns a single bitmask layout. k must be one of the Mask kinds.
func Mask(k Kind, valid uint64) Layout {
	return Layout{Form: FormScalar, Elem: Type{Kind: k, ValidBits: valid}}
}

// String returns a fixed n-byte NUL padded string layout.
func String(n int) Layout {
	return Layout{Form: FormString, Len: n}
}

// StructOf returns a single struct layout.
func StructOf(members ...Member) Layout {
	return Layout{Form: FormScalar, Elem: Type{Kind: Struct, Members: members}}
}

// FixedArray returns a layout of exactly n elements.
func FixedArray(elem Type, n int) Layout {
	return Layout{Form: FormFixedArray, Elem: elem, Len: n}
}

// Array returns a u32 length-prefixed layout bounded by max elements.
func Array(elem Type, max int) Layout {
	return Layout{Form: FormArray, Elem: elem, Len: max}
}

// Of is shorthand for a scalar element type.
func Of(k Kind) Type {
	return Type{Kind: k}
}

// Mem builds a struct member.
func Mem(name string, l Layout) Member {
	return Member{Name: name, Layout: l}
}

// Required builds a mandatory field.
func Required(tag uint8, name string, l Layout) Field {
	return Field{Tag: tag, Name: name, Presence: Mandatory, Layout: l}
}

// Opt builds an optional field.
func Opt(tag uint8, name string, l Layout) Field {
	return Field{Tag: tag, Name: name, Presence: Optional, Layout: l}
}

// Schema is an immutable, validated list of fields for one message.
type Schema struct {
	name   string
	fields []Field
	byTag  map[uint8]int
	byName map[string]int
}

// NewSchema validates fields and builds a schema. Tags and names must be
// unique and every layout must be well formed.
func NewSchema(name string, fields ...Field) (*Schema, error) {
	s := &Schema{
		name:   name,
		fields: append([]Field(nil), fields...),
		byTag:  make(map[uint8]int, len(fields)),
		byName: make(map[string]int, len(fields)),
	}
	for i, f := range s.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: %s: field with tag 0x%02x has no name", ErrInvalidSchema, name, f.Tag)
		}
		if _, dup := s.byTag[f.Tag]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate tag 0x%02x", ErrInvalidSchema, name, f.Tag)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidSchema, name, f.Name)
		}
		if err := validateLayout(f.Layout); err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidSchema, name, f.Name, err)
		}
		s.byTag[f.Tag] = i
		s.byName[f.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema for static tables; it panics on error.
func MustSchema(name string, fields ...Field) *Schema {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Fields returns a copy of the field list in wire order.
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Field looks a field up by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// FieldByTag looks a field up by tag.
func (s *Schema) FieldByTag(tag uint8) (Field, bool) {
	i, ok := s.byTag[tag]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

func validateLayout(l Layout) error {
	switch l.Form {
	case FormScalar:
		return validateType(l.Elem)
	case FormString:
		if l.Len <= 0 || l.Len > maxValueLen {
			return fmt.Errorf("string length %d out of range", l.Len)
		}
		return nil
	case FormFixedArray, FormArray:
		if l.Len <= 0 {
			return fmt.Errorf("%s length must be positive", l.Form)
		}
		return validateType(l.Elem)
	}
	return fmt.Errorf("unknown form %d", l.Form)
}

func validateType(t Type) error {
	if _, ok := goTypes[t.Kind]; !ok {
		return fmt.Errorf("unknown kind %s", t.Kind)
	}
	if t.ValidBits != 0 && !t.Kind.isMask() {
		return fmt.Errorf("valid bits set on %s", t.Kind)
	}
	if w := t.Kind.size() * 8; t.Kind.isMask() && w < 64 && t.ValidBits>>w != 0 {
		return fmt.Errorf("%s declares bits above %d", t.Kind, w-1)
	}
	if t.Kind != Struct {
		if len(t.Members) > 0 {
			return fmt.Errorf("members set on %s", t.Kind)
		}
		return nil
	}
	if len(t.Members) == 0 {
		return fmt.Errorf("struct has no members")
	}
	seen := make(map[string]bool, len(t.Members))
	for _, m := range t.Members {
		if m.Name == "" || seen[m.Name] {
			return fmt.Errorf("struct member %q missing or duplicated", m.Name)
		}
		seen[m.Name] = true
		if err := validateLayout(m.Layout); err != nil {
			return fmt.Errorf("%s: %v", m.Name, err)
		}
	}
	return nil
}
