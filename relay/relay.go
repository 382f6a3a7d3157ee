// Package relay fans publications out between routers that serve the same
// realms, so a subscriber attached to one node sees events published on
// another.
package relay

import (
	"context"

	"github.com/ggoodman/wamp-go/wamp"
)

// Envelope is one publication crossing node boundaries.
type Envelope struct {
	// Origin is the node id of the publishing router. Routers drop their own
	// envelopes.
	Origin      string    `json:"origin"`
	Realm       wamp.URI  `json:"realm"`
	Topic       wamp.URI  `json:"topic"`
	Arguments   wamp.List `json:"args,omitempty"`
	ArgumentsKw wamp.Dict `json:"kwargs,omitempty"`
}

// Handler consumes envelopes. Returning an error ends the subscription.
type Handler func(ctx context.Context, env Envelope) error

// Relay is a cluster-wide publication bus. Delivery is at-most-once and
// ordered per publisher.
type Relay interface {
	// Publish hands env to every current subscriber, including ones on the
	// same node.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe delivers envelopes published after the subscription is
	// established. It blocks until ctx is done or handler fails.
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases the relay's resources.
	Close() error
}
