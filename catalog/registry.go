// Package catalog maps Location Service message IDs to TLV schemas.
//
// The catalog is data: the v02 message table ships as an embedded YAML
// document that is validated against a JSON schema and compiled into
// tlv.Schema values when first used. Load accepts a replacement document so
// newer catalog revisions can be dropped in without a rebuild.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/tlv"
)

// ErrNotFound is returned by Lookup for unregistered (id, kind) pairs.
var ErrNotFound = errors.New("message not registered")

// Lane names the subsystem an indication is delivered on. Indications on
// different lanes never wait for each other.
type Lane string

// Delivery lanes.
const (
	LaneGeneral  Lane = "general"
	LaneFix      Lane = "fix"
	LaneGeofence Lane = "geofence"
	LaneBatching Lane = "batching"
	LaneNI       Lane = "ni"
)

// Lanes lists every lane in a stable order.
func Lanes() []Lane {
	return []Lane{LaneGeneral, LaneFix, LaneGeofence, LaneBatching, LaneNI}
}

func (l Lane) valid() bool {
	switch l {
	case LaneGeneral, LaneFix, LaneGeofence, LaneBatching, LaneNI:
		return true
	}
	return false
}

// Entry is one registered message variant.
type Entry struct {
	ID     message.ID
	Kind   message.Kind
	Name   string
	Schema *tlv.Schema
	// Event is the registration bit gating delivery of an indication. Zero
	// marks a response indication, which is always delivered.
	Event loc.EventMask
	Lane  Lane
}

// Option adjusts an entry at registration time.
type Option func(*Entry)

// WithName sets the message name. It defaults to the schema name.
func WithName(name string) Option {
	return func(e *Entry) { e.Name = name }
}

// WithEvent sets the event bit of an indication.
func WithEvent(bit loc.EventMask) Option {
	return func(e *Entry) { e.Event = bit }
}

// WithLane sets the delivery lane. It defaults to LaneGeneral.
func WithLane(l Lane) Option {
	return func(e *Entry) { e.Lane = l }
}

type key struct {
	id   message.ID
	kind message.Kind
}

// Registry is a thread-safe (message ID, kind) to schema table.
type Registry struct {
	mu       sync.RWMutex
	entries  map[key]Entry
	names    map[string]message.ID
	revision uint32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[key]Entry),
		names:   make(map[string]message.ID),
	}
}

// Register adds schema under (id, kind). Registering the same pair twice
// fails, as does an event bit on anything but an indication.
func (r *Registry) Register(id message.ID, kind message.Kind, schema *tlv.Schema, opts ...Option) error {
	if schema == nil {
		return qerrors.WrapInvalid(qerrors.ErrInvalidConfig, "Registry", "Register", "schema validation")
	}

	e := Entry{ID: id, Kind: kind, Name: schema.Name(), Schema: schema, Lane: LaneGeneral}
	for _, opt := range opts {
		opt(&e)
	}

	if e.Name == "" {
		return qerrors.WrapInvalid(qerrors.ErrInvalidConfig, "Registry", "Register", "name validation")
	}
	if !e.Lane.valid() {
		return qerrors.WrapInvalid(fmt.Errorf("unknown lane %q", e.Lane), "Registry", "Register", "lane validation")
	}
	if e.Event != 0 {
		if kind != message.Indication {
			return qerrors.WrapInvalid(fmt.Errorf("%s %s carries an event bit", kind, id),
				"Registry", "Register", "event validation")
		}
		if err := e.Event.Validate(); err != nil {
			return qerrors.WrapInvalid(err, "Registry", "Register", "event validation")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{id, kind}
	if _, exists := r.entries[k]; exists {
		return qerrors.WrapInvalid(fmt.Errorf("%s %s already registered", kind, id),
			"Registry", "Register", "duplicate message check")
	}
	if other, exists := r.names[e.Name]; exists && other != id {
		return qerrors.WrapInvalid(fmt.Errorf("name %q already used by %s", e.Name, other),
			"Registry", "Register", "duplicate name check")
	}

	r.entries[k] = e
	r.names[e.Name] = id
	return nil
}

// Lookup returns the schema of (id, kind).
func (r *Registry) Lookup(id message.ID, kind message.Kind) (*tlv.Schema, error) {
	e, err := r.Entry(id, kind)
	if err != nil {
		return nil, err
	}
	return e.Schema, nil
}

// Entry returns the full registration of (id, kind).
func (r *Registry) Entry(id message.ID, kind message.Kind) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key{id, kind}]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return e, nil
}

// IDByName resolves a message name such as "AddCircularGeofence".
func (r *Registry) IDByName(name string) (message.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	return id, ok
}

// Entries returns every registration ordered by ID then kind.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// EventFor returns the event bit gating an indication, zero when the
// indication is ungated or unknown.
func (r *Registry) EventFor(id message.ID) loc.EventMask {
	e, err := r.Entry(id, message.Indication)
	if err != nil {
		return 0
	}
	return e.Event
}

// Revision is the catalog minor revision a client reports through
// InformClientRevision.
func (r *Registry) Revision() uint32 {
	return r.revision
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
