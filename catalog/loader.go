package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/tlv"
)

//go:embed loc_v02.yaml
var defaultCatalog []byte

//go:embed catalog.schema.json
var documentSchema []byte

// RespTag is the tag of the generic response field present in every response.
const RespTag = 0x02

type document struct {
	Revision uint32                `yaml:"revision"`
	Types    map[string][]fieldDef `yaml:"types"`
	Messages []messageDef          `yaml:"messages"`
}

type messageDef struct {
	ID         uint16      `yaml:"id"`
	Name       string      `yaml:"name"`
	Lane       string      `yaml:"lane"`
	Event      string      `yaml:"event"`
	Request    *[]fieldDef `yaml:"request"`
	Response   *[]fieldDef `yaml:"response"`
	Indication *[]fieldDef `yaml:"indication"`
}

type fieldDef struct {
	Tag      uint8  `yaml:"tag"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional"`
	String   int    `yaml:"string"`
	Array    int    `yaml:"array"`
	Fixed    int    `yaml:"fixed"`
	Bits     uint64 `yaml:"bits"`
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry compiled from the embedded v02 catalog.
// It panics if the embedded document is invalid.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = Load(bytes.NewReader(defaultCatalog))
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultRegistry
}

// Load reads a YAML catalog, validates it and compiles every message.
func Load(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, qerrors.WrapInvalid(err, "Catalog", "Load", "read document")
	}

	if err := validateDocument(raw); err != nil {
		return nil, qerrors.WrapInvalid(err, "Catalog", "Load", "validate document")
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, qerrors.WrapInvalid(err, "Catalog", "Load", "parse document")
	}

	reg := NewRegistry()
	reg.revision = doc.Revision
	c := compiler{types: doc.Types}
	for _, m := range doc.Messages {
		if err := c.register(reg, m); err != nil {
			return nil, qerrors.WrapInvalid(err, "Catalog", "Load", fmt.Sprintf("compile %s", m.Name))
		}
	}
	return reg, nil
}

func validateDocument(raw []byte) error {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(documentSchema),
		gojsonschema.NewGoLoader(generic),
	)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		var b strings.Builder
		b.WriteString("catalog does not match schema:")
		for _, desc := range result.Errors() {
			fmt.Fprintf(&b, "\n  - %s: %s", desc.Field(), desc.Description())
		}
		return fmt.Errorf("%s", b.String())
	}
	return nil
}

type compiler struct {
	types map[string][]fieldDef
}

func (c compiler) register(reg *Registry, m messageDef) error {
	id := message.ID(m.ID)
	lane := LaneGeneral
	if m.Lane != "" {
		lane = Lane(m.Lane)
	}

	var event loc.EventMask
	if m.Event != "" {
		bit, err := loc.ParseEvents([]string{m.Event})
		if err != nil {
			return err
		}
		if m.Indication == nil {
			return fmt.Errorf("event %q on a message without indication", m.Event)
		}
		event = bit
	}

	if m.Request != nil {
		req, err := c.schema(m.Name+".req", *m.Request)
		if err != nil {
			return err
		}
		if err := reg.Register(id, message.Request, req, WithName(m.Name), WithLane(lane)); err != nil {
			return err
		}

		var extra []fieldDef
		if m.Response != nil {
			extra = *m.Response
		}
		resp, err := c.schema(m.Name+".resp", extra, respField())
		if err != nil {
			return err
		}
		if err := reg.Register(id, message.Response, resp, WithName(m.Name), WithLane(lane)); err != nil {
			return err
		}
	} else if m.Response != nil {
		return fmt.Errorf("response without request")
	}

	if m.Indication != nil {
		ind, err := c.schema(m.Name+".ind", *m.Indication)
		if err != nil {
			return err
		}
		if err := reg.Register(id, message.Indication, ind, WithName(m.Name), WithLane(lane), WithEvent(event)); err != nil {
			return err
		}
	}
	return nil
}

func respField() tlv.Field {
	return tlv.Required(RespTag, "resp", tlv.StructOf(
		tlv.Mem("result", tlv.Scalar(tlv.Uint16)),
		tlv.Mem("error", tlv.Scalar(tlv.Uint16)),
	))
}

func (c compiler) schema(name string, defs []fieldDef, lead ...tlv.Field) (*tlv.Schema, error) {
	fields := append([]tlv.Field(nil), lead...)
	for _, d := range defs {
		l, err := c.layout(d, nil)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, d.Name, err)
		}
		p := tlv.Mandatory
		if d.Optional {
			p = tlv.Optional
		}
		fields = append(fields, tlv.Field{Tag: d.Tag, Name: d.Name, Presence: p, Layout: l})
	}
	return tlv.NewSchema(name, fields...)
}

func (c compiler) layout(d fieldDef, visiting map[string]bool) (tlv.Layout, error) {
	forms := 0
	for _, n := range []int{d.String, d.Array, d.Fixed} {
		if n > 0 {
			forms++
		}
	}
	if forms > 1 {
		return tlv.Layout{}, fmt.Errorf("string, array and fixed are exclusive")
	}

	if d.String > 0 {
		if d.Type != "" {
			return tlv.Layout{}, fmt.Errorf("string field declares type %q", d.Type)
		}
		return tlv.String(d.String), nil
	}

	elem, err := c.elem(d, visiting)
	if err != nil {
		return tlv.Layout{}, err
	}
	switch {
	case d.Array > 0:
		return tlv.Array(elem, d.Array), nil
	case d.Fixed > 0:
		return tlv.FixedArray(elem, d.Fixed), nil
	}
	return tlv.Layout{Form: tlv.FormScalar, Elem: elem}, nil
}

func (c compiler) elem(d fieldDef, visiting map[string]bool) (tlv.Type, error) {
	if d.Type == "" {
		return tlv.Type{}, fmt.Errorf("missing type")
	}
	if k, ok := tlv.ParseKind(d.Type); ok && k != tlv.Struct {
		return tlv.Type{Kind: k, ValidBits: d.Bits}, nil
	}

	members, ok := c.types[d.Type]
	if !ok {
		return tlv.Type{}, fmt.Errorf("unknown type %q", d.Type)
	}
	if d.Bits != 0 {
		return tlv.Type{}, fmt.Errorf("bits on struct type %q", d.Type)
	}
	if visiting[d.Type] {
		return tlv.Type{}, fmt.Errorf("type %q refers to itself", d.Type)
	}
	next := make(map[string]bool, len(visiting)+1)
	for k := range visiting {
		next[k] = true
	}
	next[d.Type] = true

	t := tlv.Type{Kind: tlv.Struct}
	for _, m := range members {
		l, err := c.layout(m, next)
		if err != nil {
			return tlv.Type{}, fmt.Errorf("%s.%s: %w", d.Type, m.Name, err)
		}
		t.Members = append(t.Members, tlv.Mem(m.Name, l))
	}
	return t, nil
}
