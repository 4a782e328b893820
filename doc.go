// Package qmiloc is a client for the QMI Location Service (LOC) of cellular
// modems, together with a simulated engine that speaks the same protocol.
//
// # Layers
//
// The module is built bottom-up:
//
//   - tlv: schema-driven codec for message bodies made of type/length/value
//     items
//   - catalog: the message catalog loaded from loc_v02.yaml, mapping message
//     IDs to names, kinds and TLV schemas
//   - message: frame header and decoded messages
//   - transport: frame transports, with an in-memory pipe for tests
//   - natsclient: NATS connection management and a frame transport over
//     NATS subjects
//   - dispatch: decodes inbound frames and delivers indications to handlers
//     in per-lane order
//   - loc: domain types shared by every package (positions, statuses, event
//     masks, enums)
//   - session, geofence, batching, ni: state machines for fix sessions,
//     geofences, location batching and network initiated requests
//   - client: the public API tying the above together
//   - engine: a simulated Location Service engine used by tests and by
//     the locsim command
//
// # Request model
//
// Every LOC request is answered by a response that only acknowledges
// acceptance. Most operations finish when a matching status indication
// arrives, so client methods block until both have been seen or the
// request times out:
//
//	c := client.New(tr, client.WithLogger(logger))
//	if err := c.Start(ctx); err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if err := c.RegisterEvents(ctx, loc.EventPositionReport|loc.EventFixSessionState); err != nil {
//		return err
//	}
//	c.OnPosition(func(ev client.PositionEvent) { ... })
//	_, err := c.StartFix(ctx, client.FixRequest{SessionID: 1, Recurrence: loc.RecurrencePeriodic})
//
// # Commands
//
// cmd/qmiloc runs a fix or batching session against a modem channel on NATS
// and logs what the engine reports. cmd/locsim serves the simulated engine
// on the same subjects.
package qmiloc
