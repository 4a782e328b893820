package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/c360/qmiloc/catalog"
	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/geofence"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/tlv"
)

// GeofenceOptions are the optional AddCircularGeofence fields. Zero values
// are not sent.
type GeofenceOptions struct {
	Responsiveness  loc.Responsiveness
	Confidence      loc.Confidence
	IncludePosition bool
	// DwellTime in seconds.
	DwellTime uint32
}

// Relation is where the engine places the device relative to a geofence.
type Relation int32

// Relations reported by QueryGeofence.
const (
	RelationIn     Relation = 1
	RelationOut    Relation = 2
	RelationUnsure Relation = 3
)

func (r Relation) String() string {
	switch r {
	case RelationIn:
		return "in"
	case RelationOut:
		return "out"
	case RelationUnsure:
		return "unsure"
	}
	return fmt.Sprintf("relation(%d)", int32(r))
}

// GeofenceQuery is the answer to QueryGeofence.
type GeofenceQuery struct {
	Geofence geofence.Geofence
	// Origin is 1 for network originated and 2 for device originated.
	Origin   int32
	Relation Relation
}

// GeofenceContext lists the context data attached by AddGeofenceContext.
type GeofenceContext struct {
	// GeofenceID selects an existing geofence. Zero asks the engine to
	// create one.
	GeofenceID uint32
	WifiAPs    []net.HardwareAddr
	Cells      []Cell
	Beacons    []Beacon
}

// Cell identifies a cellular base station.
type Cell struct {
	MCC, MNC, CID, LAC uint32
}

// Beacon identifies an iBeacon.
type Beacon struct {
	UUID  string
	Major uint32
	Minor uint32
}

// geofenceCall runs one geofence request correlated by transaction ID and
// applies its result to the geofence manager.
func (c *Client) geofenceCall(ctx context.Context, op geofence.Op, id message.ID, txn uint32, values tlv.Values) (geofence.Geofence, *message.Message, error) {
	values["transactionId"] = txn
	_, ind, err := c.do(ctx, call{id: id, values: values, match: matchField("transactionId", txn)})
	if err != nil {
		c.geofences.Abandon(op, txn)
		return geofence.Geofence{}, nil, err
	}
	r := geofence.ResultFrom(op, ind)
	g, err := c.geofences.HandleResult(r)
	if err != nil && r.FailedParams != 0 {
		err = fmt.Errorf("%w: failed params 0x%x", err, r.FailedParams)
	}
	return g, ind, err
}

func (c *Client) beginErr(err error, method string) error {
	if errors.Is(err, geofence.ErrTransactionInFlight) {
		return qerrors.WrapTransient(err, "Client", method, "begin geofence operation")
	}
	return qerrors.WrapInvalid(err, "Client", method, "begin geofence operation")
}

// AddCircularGeofence programs a circular geofence and returns it with the
// ID the engine assigned.
func (c *Client) AddCircularGeofence(ctx context.Context, circle geofence.Circle, mask loc.BreachMask, opts GeofenceOptions) (geofence.Geofence, error) {
	txn := c.nextTransaction()
	if err := c.geofences.BeginAdd(txn, circle, mask); err != nil {
		return geofence.Geofence{}, c.beginErr(err, "AddCircularGeofence")
	}
	values := tlv.Values{
		"circularGeofenceArgs": circle.Values(),
		"breachMask":           uint8(mask),
		"includePosition":      opts.IncludePosition,
	}
	if opts.Responsiveness != 0 {
		values["responsiveness"] = int32(opts.Responsiveness)
	}
	if opts.Confidence != 0 {
		values["confidence"] = int32(opts.Confidence)
	}
	if opts.DwellTime != 0 {
		values["dwellTime"] = opts.DwellTime
	}
	g, _, err := c.geofenceCall(ctx, geofence.OpAdd, catalog.IDAddCircularGeofence, txn, values)
	if err != nil {
		return geofence.Geofence{}, err
	}
	c.logger.Info("Geofence added", "geofence_id", g.ID, "transaction_id", txn, "radius", circle.Radius)
	return g, nil
}

// DeleteGeofence removes a geofence. Breaches for it are dropped from the
// moment the engine confirms.
func (c *Client) DeleteGeofence(ctx context.Context, id uint32) error {
	txn := c.nextTransaction()
	if err := c.geofences.BeginDelete(txn, id); err != nil {
		return c.beginErr(err, "DeleteGeofence")
	}
	_, _, err := c.geofenceCall(ctx, geofence.OpDelete, catalog.IDDeleteGeofence, txn, tlv.Values{"geofenceId": id})
	if err == nil {
		c.logger.Info("Geofence deleted", "geofence_id", id, "transaction_id", txn)
	}
	return err
}

// EditGeofence changes the state, breach mask or responsiveness of a
// geofence.
func (c *Client) EditGeofence(ctx context.Context, id uint32, e geofence.Edit) (geofence.Geofence, error) {
	txn := c.nextTransaction()
	if err := c.geofences.BeginEdit(txn, id, e); err != nil {
		return geofence.Geofence{}, c.beginErr(err, "EditGeofence")
	}
	values := tlv.Values{"geofenceId": id}
	if e.State != nil {
		values["geofenceState"] = int32(*e.State)
	}
	if e.BreachMask != nil {
		values["breachMask"] = uint8(*e.BreachMask)
	}
	if e.Responsiveness != nil {
		values["responsiveness"] = int32(*e.Responsiveness)
	}
	g, _, err := c.geofenceCall(ctx, geofence.OpEdit, catalog.IDEditGeofence, txn, values)
	return g, err
}

// QueryGeofence asks the engine about a geofence, including ones this
// client did not add.
func (c *Client) QueryGeofence(ctx context.Context, id uint32) (GeofenceQuery, error) {
	txn := c.nextTransaction()
	if err := c.geofences.BeginQuery(txn, id); err != nil {
		return GeofenceQuery{}, c.beginErr(err, "QueryGeofence")
	}
	g, ind, err := c.geofenceCall(ctx, geofence.OpQuery, catalog.IDQueryGeofence, txn, tlv.Values{"geofenceId": id})
	if err != nil {
		return GeofenceQuery{}, err
	}
	q := GeofenceQuery{Geofence: g}
	q.Origin, _ = message.Get[int32](ind, "geofenceOrigin")
	q.Relation, _ = message.Enum[Relation](ind, "posWrtGeofence")
	return q, nil
}

// AddGeofenceContext attaches context data to a geofence, or to a new one
// when ctxData.GeofenceID is zero. It returns the geofence and the context
// ID the engine assigned.
func (c *Client) AddGeofenceContext(ctx context.Context, ctxData GeofenceContext) (geofence.Geofence, uint32, error) {
	txn := c.nextTransaction()
	hasID := ctxData.GeofenceID != 0
	if err := c.geofences.BeginAddContext(txn, ctxData.GeofenceID, hasID); err != nil {
		return geofence.Geofence{}, 0, c.beginErr(err, "AddGeofenceContext")
	}

	values := tlv.Values{}
	if hasID {
		values["geofenceId"] = ctxData.GeofenceID
	}
	if len(ctxData.WifiAPs) > 0 {
		list := make([]tlv.Values, 0, len(ctxData.WifiAPs))
		for _, mac := range ctxData.WifiAPs {
			if len(mac) != 6 {
				c.geofences.Abandon(geofence.OpAddContext, txn)
				return geofence.Geofence{}, 0, qerrors.WrapInvalid(
					fmt.Errorf("%w: mac %s", qerrors.ErrInvalidData, mac), "Client", "AddGeofenceContext", "encode wifi list")
			}
			list = append(list, tlv.Values{"macAddress": []uint8(mac)})
		}
		values["wifiApMacAddressList"] = list
	}
	if len(ctxData.Cells) > 0 {
		list := make([]tlv.Values, len(ctxData.Cells))
		for i, cell := range ctxData.Cells {
			list[i] = tlv.Values{"mcc": cell.MCC, "mnc": cell.MNC, "cid": cell.CID, "lac": cell.LAC}
		}
		values["cellIdList"] = list
	}
	if len(ctxData.Beacons) > 0 {
		list := make([]tlv.Values, len(ctxData.Beacons))
		for i, b := range ctxData.Beacons {
			list[i] = tlv.Values{"uuid": b.UUID, "majorNumber": b.Major, "minorNumber": b.Minor}
		}
		values["ibeaconList"] = list
	}

	g, ind, err := c.geofenceCall(ctx, geofence.OpAddContext, catalog.IDAddGeofenceContext, txn, values)
	if err != nil {
		return geofence.Geofence{}, 0, err
	}
	contextID, _ := message.Get[uint32](ind, "contextId")
	return g, contextID, nil
}

// Geofences lists the geofences this client holds.
func (c *Client) Geofences() []geofence.Geofence {
	return c.geofences.List()
}
