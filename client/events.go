package client

import (
	"context"

	"github.com/adrianmo/go-nmea"

	"github.com/c360/qmiloc/geofence"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/message"
	"github.com/c360/qmiloc/ni"
	"github.com/c360/qmiloc/session"
	"github.com/c360/qmiloc/tlv"
)

// PositionEvent is a position report accepted by an active fix session.
type PositionEvent struct {
	Session  session.Session
	Status   loc.SessionStatus
	Final    bool
	Position loc.Position
	// Message is the decoded report with every field the catalog knows.
	Message *message.Message
}

// NMEAEvent is one NMEA sentence. Sentence is nil when the text did not
// parse; Raw always holds what the engine sent.
type NMEAEvent struct {
	Raw      string
	Sentence nmea.Sentence
}

// BreachEvent is a crossing of one known geofence.
type BreachEvent struct {
	Geofence geofence.Geofence
	Breach   loc.BreachType
	Position *loc.Position
}

// ProximityEvent reports the device coming near or leaving a geofence.
type ProximityEvent struct {
	Geofence   geofence.Geofence
	Type       loc.ProximityType
	ContextID  uint32
	HasContext bool
}

type callbacks struct {
	position  []func(PositionEvent)
	nmea      []func(NMEAEvent)
	breach    []func(BreachEvent)
	proximity []func(ProximityEvent)
	batchFull []func(count uint32)
	live      []func(loc.Position)
	ni        []func(ni.Request)
}

// OnPosition registers fn for position reports of active sessions.
func (c *Client) OnPosition(fn func(PositionEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.position = append(c.cb.position, fn)
}

// OnNMEA registers fn for NMEA sentences.
func (c *Client) OnNMEA(fn func(NMEAEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.nmea = append(c.cb.nmea, fn)
}

// OnBreach registers fn for geofence breaches, batched ones included.
func (c *Client) OnBreach(fn func(BreachEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.breach = append(c.cb.breach, fn)
}

// OnProximity registers fn for geofence proximity notifications.
func (c *Client) OnProximity(fn func(ProximityEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.proximity = append(c.cb.proximity, fn)
}

// OnBatchFull registers fn for BatchFull notifications of the live session.
func (c *Client) OnBatchFull(fn func(count uint32)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.batchFull = append(c.cb.batchFull, fn)
}

// OnLiveBatched registers fn for live batched positions.
func (c *Client) OnLiveBatched(fn func(loc.Position)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.live = append(c.cb.live, fn)
}

// OnNI registers fn for network initiated requests. Requests that need an
// answer are resolved with RespondNI before their deadline.
func (c *Client) OnNI(fn func(ni.Request)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cb.ni = append(c.cb.ni, fn)
}

func (c *Client) snapshot() callbacks {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	return c.cb
}

func (c *Client) onPositionReport(_ context.Context, m *message.Message) {
	id, _ := message.Get[uint8](m, "sessionId")
	st, _ := message.Enum[loc.SessionStatus](m, "sessionStatus")
	rep, ok := c.sessions.HandleReport(id, st)
	if !ok {
		return
	}
	ev := PositionEvent{
		Session:  rep.Session,
		Status:   st,
		Final:    rep.Final,
		Position: loc.PositionFromReport(m.Values),
		Message:  m,
	}
	for _, fn := range c.snapshot().position {
		fn(ev)
	}
}

func (c *Client) onFixSessionState(_ context.Context, m *message.Message) {
	state, _ := message.Get[int32](m, "sessionState")
	id, _ := message.Get[uint8](m, "sessionId")
	c.logger.Debug("Fix session state", "session_id", id, "state", state)
}

func (c *Client) onNMEA(_ context.Context, m *message.Message) {
	raw, _ := message.Get[string](m, "nmea")
	ev := NMEAEvent{Raw: raw}
	if s, err := nmea.Parse(raw); err != nil {
		c.logger.Debug("Unparsed NMEA sentence", "sentence", raw, "error", err)
	} else {
		ev.Sentence = s
	}
	for _, fn := range c.snapshot().nmea {
		fn(ev)
	}
}

func geofencePosition(m *message.Message) *loc.Position {
	v, ok := message.Get[tlv.Values](m, "geofencePosition")
	if !ok {
		return nil
	}
	p := loc.PositionFromGeofence(v)
	return &p
}

func (c *Client) onBreach(_ context.Context, m *message.Message) {
	id, _ := message.Get[uint32](m, "geofenceId")
	breach, _ := message.Enum[loc.BreachType](m, "breachType")
	g, ok := c.geofences.HandleBreach(id, breach)
	if !ok {
		return
	}
	ev := BreachEvent{Geofence: g, Breach: breach, Position: geofencePosition(m)}
	for _, fn := range c.snapshot().breach {
		fn(ev)
	}
}

func (c *Client) onBatchedBreach(_ context.Context, m *message.Message) {
	breach, _ := message.Enum[loc.BreachType](m, "breachType")
	var ranges []geofence.Range
	if list, ok := message.Get[[]tlv.Values](m, "geofenceIdContinuousList"); ok {
		for _, r := range list {
			low, _ := r["idLow"].(uint32)
			high, _ := r["idHigh"].(uint32)
			ranges = append(ranges, geofence.Range{Low: low, High: high})
		}
	}
	ids, _ := message.Get[[]uint32](m, "geofenceIdDiscreteList")
	pos := geofencePosition(m)

	fns := c.snapshot().breach
	for _, g := range c.geofences.HandleBatchedBreach(breach, ranges, ids) {
		ev := BreachEvent{Geofence: g, Breach: breach, Position: pos}
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (c *Client) onProximity(_ context.Context, m *message.Message) {
	id, _ := message.Get[uint32](m, "geofenceId")
	prox, _ := message.Enum[loc.ProximityType](m, "proxType")
	ctxID, hasCtx := message.Get[uint32](m, "contextId")
	g, ok := c.geofences.HandleProximity(id, ctxID, hasCtx)
	if !ok {
		return
	}
	ev := ProximityEvent{Geofence: g, Type: prox, ContextID: ctxID, HasContext: hasCtx}
	for _, fn := range c.snapshot().proximity {
		fn(ev)
	}
}

func (c *Client) onBatchFull(_ context.Context, m *message.Message) {
	count, _ := message.Get[uint32](m, "batchCount")
	if !c.batching.HandleBatchFull(count) {
		return
	}
	c.logger.Info("Batch full", "count", count)
	for _, fn := range c.snapshot().batchFull {
		fn(count)
	}
}

func (c *Client) onLiveBatched(_ context.Context, m *message.Message) {
	if !c.batching.Live() {
		return
	}
	v, ok := message.Get[tlv.Values](m, "liveBatchedReport")
	if !ok {
		return
	}
	p := loc.PositionFromBatched(v)
	for _, fn := range c.snapshot().live {
		fn(p)
	}
}

func (c *Client) onNINotify(_ context.Context, m *message.Message) {
	nt, _ := message.Enum[loc.NotifyType](m, "notificationType")
	p, ignored := ni.PayloadFrom(m)
	if len(ignored) > 0 {
		c.logger.Warn("NI request carried several payloads", "used", p.Kind.String(), "ignored", len(ignored))
	}
	req := c.ni.Indicate(nt, p)
	for _, fn := range c.snapshot().ni {
		fn(req)
	}
}
