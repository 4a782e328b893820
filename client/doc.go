// Package client is the Location Service client.
//
// A Client owns one transport. It sends requests, matches responses by
// frame transaction number, and waits for the status indication most
// requests are answered with. Geofence and batching indications are
// matched by transactionId and orbit uploads by partNum. Event indications
// go through a dispatch.Dispatcher to the fix session tracker, the
// geofence and batching managers and the NI manager, and from there to the
// callbacks registered with OnPosition, OnBreach and the like.
//
// Basic usage:
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
//	c.OnPosition(func(ev client.PositionEvent) {
//		logger.Info("Fix", "lat", ev.Position.Latitude, "lon", ev.Position.Longitude)
//	})
//	_, err := c.StartFix(ctx, client.FixRequest{SessionID: 1})
//
// Failures come in two shapes. A *ResponseError means the service refused
// the request outright; a *loc.StatusError means it accepted the request
// and reported failure in the status indication. Both match a bare
// loc.Status with errors.Is. Retryable and Retry decide which failures are
// worth another attempt; the client never retries on its own.
package client
