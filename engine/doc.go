// Package engine implements a Location Service simulator: the service side
// of the protocol, speaking frames over a transport.Transport.
//
// The simulator answers every request in the catalog the way a location
// engine would. It sends the response first, then the status indication
// when the catalog defines one. It keeps the service-side state a real
// engine keeps: registered events, fix sessions, programmed geofences, the
// batching buffer and partial predicted-orbits uploads.
//
// Unsolicited indications (position reports, breaches, NI requests, NMEA)
// are produced through the Emit methods and are only sent when the client
// has registered the matching event bit, the same gating a real engine
// applies. SendFrame bypasses gating and the codec for fault injection.
//
// # Usage
//
//	svc, cli := transport.NewPipe(16)
//	sim := engine.NewSimulator(svc, catalog.Default(), engine.Config{})
//	go sim.Run(ctx)
//	// ... drive a client over cli ...
//	sim.EmitPosition(ctx, 5, loc.SessionSuccess, pos)
//
// Failures can be scripted per message with FailNext (status indication
// carries the given status) and RejectNext (the response itself fails with
// a QMI error).
package engine
