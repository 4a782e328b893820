// Package geofence tracks geofences through their lifecycle:
// Pending -> Active <-> Suspended -> Removed.
//
// Requests are correlated to their result indications by the client-chosen
// transaction ID and the operation, never by arrival order. Breach, batched
// breach and proximity notifications reference only the engine-assigned
// geofence ID; notifications for geofences this client does not hold as
// active are dropped.
package geofence

import (
	"errors"
	"fmt"
	"math"

	"github.com/c360/qmiloc/loc"
)

var (
	// ErrTransactionInFlight is returned when an operation reuses a
	// transaction ID that still awaits its result.
	ErrTransactionInFlight = errors.New("transaction already in flight")

	// ErrUnknownGeofence is returned for geofence IDs this manager does not hold.
	ErrUnknownGeofence = errors.New("unknown geofence")

	// ErrUncorrelated is returned by HandleResult when no pending operation
	// matches the indication.
	ErrUncorrelated = errors.New("result matches no pending operation")

	// ErrMissingGeofenceID is returned when a successful add carries no
	// geofence ID.
	ErrMissingGeofenceID = errors.New("successful result carries no geofence id")

	// ErrInvalidShape is returned for out-of-range circle parameters.
	ErrInvalidShape = errors.New("invalid geofence shape")

	// ErrEmptyEdit is returned by BeginEdit when no field is changed.
	ErrEmptyEdit = errors.New("edit changes nothing")
)

// Op is a geofence request kind.
type Op int

// Operations.
const (
	OpAdd Op = iota
	OpDelete
	OpEdit
	OpQuery
	OpAddContext
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	case OpEdit:
		return "edit"
	case OpQuery:
		return "query"
	case OpAddContext:
		return "add_context"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// State of a geofence as seen by the client.
type State int

// Geofence states.
const (
	Pending State = iota
	Active
	Suspended
	Removed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Suspended:
		return "suspended"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func stateOf(s loc.GeofenceState) State {
	if s == loc.GeofenceSuspended {
		return Suspended
	}
	return Active
}

// Circle is a circular geofence. Radius is in meters.
type Circle struct {
	Latitude  float64
	Longitude float64
	Radius    uint32
}

// Validate checks coordinate ranges and a non-zero radius.
func (c Circle) Validate() error {
	switch {
	case math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90:
		return fmt.Errorf("%w: latitude %v", ErrInvalidShape, c.Latitude)
	case math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180:
		return fmt.Errorf("%w: longitude %v", ErrInvalidShape, c.Longitude)
	case c.Radius == 0:
		return fmt.Errorf("%w: zero radius", ErrInvalidShape)
	}
	return nil
}

const earthRadius = 6371008.8

// Contains reports whether the point lies inside c, by great-circle
// distance from the center.
func (c Circle) Contains(lat, lon float64) bool {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat - c.Latitude)
	dLon := rad(lon - c.Longitude)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(c.Latitude))*math.Cos(rad(lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	d := 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(a)))
	return d <= float64(c.Radius)
}

// Geofence is a snapshot of one geofence.
type Geofence struct {
	ID             uint32
	TransactionID  uint32
	State          State
	Circle         Circle
	BreachMask     loc.BreachMask
	Responsiveness loc.Responsiveness
	// Contexts lists the context IDs attached with AddGeofenceContext.
	Contexts []uint32
}

func (g *Geofence) clone() Geofence {
	c := *g
	c.Contexts = append([]uint32(nil), g.Contexts...)
	return c
}

func (g *Geofence) hasContext(id uint32) bool {
	for _, c := range g.Contexts {
		if c == id {
			return true
		}
	}
	return false
}

// Edit lists the fields an EditGeofence request changes. Nil fields are
// left as they are.
type Edit struct {
	State          *loc.GeofenceState
	BreachMask     *loc.BreachMask
	Responsiveness *loc.Responsiveness
}

func (e Edit) validate() error {
	if e.State == nil && e.BreachMask == nil && e.Responsiveness == nil {
		return ErrEmptyEdit
	}
	if e.State != nil && *e.State != loc.GeofenceActive && *e.State != loc.GeofenceSuspended {
		return fmt.Errorf("invalid geofence state %d", int32(*e.State))
	}
	if e.BreachMask != nil {
		return e.BreachMask.Validate()
	}
	return nil
}

// Range is an inclusive span of geofence IDs from a batched breach.
type Range struct {
	Low, High uint32
}

func (r Range) contains(id uint32) bool { return id >= r.Low && id <= r.High }
