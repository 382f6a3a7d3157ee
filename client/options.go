package client

import (
	"log/slog"
	"time"

	"github.com/ggoodman/wamp-go/wamp"
)

// Option customizes a Client.
type Option func(*Client)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCallTimeout fails calls locally with ErrTimeout when no RESULT/ERROR
// arrives within d. Zero disables the timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.callTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds dial plus HELLO/WELCOME. Default is 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithGoodbyeTimeout bounds how long Close waits for the router's GOODBYE.
// Default is 2s.
func WithGoodbyeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.goodbyeTimeout = d
		}
	}
}

// WithReconnect enables the reconnection supervisor.
func WithReconnect(p ReconnectPolicy) Option {
	return func(c *Client) { c.reconnect = p }
}

// CallOption customizes a single call.
type CallOption func(wamp.Dict)

// DiscloseMe asks the router to reveal the caller's session id to the callee.
func DiscloseMe() CallOption {
	return func(o wamp.Dict) { o[wamp.OptDiscloseMe] = true }
}

// PublishOption customizes a single publication.
type PublishOption func(wamp.Dict)

// ExcludeMe controls whether the publisher receives its own event when it is
// also subscribed to the topic.
func ExcludeMe(exclude bool) PublishOption {
	return func(o wamp.Dict) { o[wamp.OptExcludeMe] = exclude }
}

// Acknowledge asks the router for a PUBLISHED reply. The reply is consumed
// by the session and not surfaced.
func Acknowledge() PublishOption {
	return func(o wamp.Dict) { o[wamp.OptAcknowledge] = true }
}
