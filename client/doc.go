// Package client implements the caller/callee/publisher/subscriber side of
// a WAMP session.
//
// A Client owns one realm membership at a time over one transport
// connection. Open starts a background supervisor that dials, runs the
// HELLO/WELCOME handshake and then serves the session until it ends; with a
// ReconnectPolicy it dials again after unexpected disconnects.
//
// Status transitions are observable through StatusChanges. Registrations and
// subscriptions belong to the session they were made on and are not replayed
// after a reconnect: observe StatusConnected and issue them again.
//
//	c := client.New(websocket.Dialer{}, "ws://localhost:8080/ws", "realm1",
//		client.WithReconnect(client.ReconnectPolicy{MaxRetries: client.InfiniteRetries, Interval: 3 * time.Second}))
//	for ev := range c.StatusChanges(ctx) {
//		if ev.Status == client.StatusConnected {
//			_, _ = c.Register(ctx, "com.example.add", add)
//		}
//	}
//
// Every outstanding request resolves exactly once: with the router's reply,
// with a *wamp.ApplicationError, or with one of ErrSessionClosed, ErrTimeout
// or ErrCanceled.
package client
