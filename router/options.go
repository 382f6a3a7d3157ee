package router

import (
	"log/slog"
	"time"

	"github.com/ggoodman/wamp-go/relay"
	"github.com/prometheus/client_golang/prometheus"
)

// Option customizes a Router.
type Option func(*Router)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithAutoCreateRealms creates unknown realms on first HELLO instead of
// aborting with wamp.error.no_such_realm.
func WithAutoCreateRealms(enabled bool) Option {
	return func(r *Router) { r.autoCreate = enabled }
}

// WithPublisherExclusion sets whether a publisher subscribed to its own
// topic is skipped by default. A PUBLISH with an explicit exclude_me option
// overrides it. Default is false.
func WithPublisherExclusion(exclude bool) Option {
	return func(r *Router) { r.excludePublisher = exclude }
}

// WithHandshakeTimeout bounds the wait for HELLO. Default is 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.handshakeTimeout = d
		}
	}
}

// WithMetricsRegisterer registers the router's collectors with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(r *Router) { r.registerer = reg }
}

// WithRelay shares publications with other routers through rl. Run must be
// called to consume publications from other nodes.
func WithRelay(rl relay.Relay) Option {
	return func(r *Router) { r.relay = rl }
}
