package client

import (
	"context"
	"sync/atomic"

	"github.com/ggoodman/wamp-go/wamp"
)

// Result is the outcome of a successful call.
type Result struct {
	Arguments   wamp.List
	ArgumentsKw wamp.Dict
	Details     wamp.Dict
}

// Invocation is a call routed to a local procedure.
type Invocation struct {
	Procedure    wamp.URI
	Registration wamp.ID
	Arguments    wamp.List
	ArgumentsKw  wamp.Dict
	Details      wamp.Dict
}

// InvocationHandler implements a registered procedure. Returning a
// *wamp.ApplicationError sends that URI and payload back to the caller; any
// other error is reported as wamp.error.runtime_error. A nil *Result yields
// an empty result.
//
// Handlers run on their own goroutine. ctx is cancelled when the session
// that delivered the invocation ends.
type InvocationHandler func(ctx context.Context, inv *Invocation) (*Result, error)

// Event is a publication delivered to a local subscription.
type Event struct {
	Topic        wamp.URI
	Subscription wamp.ID
	Publication  wamp.ID
	Arguments    wamp.List
	ArgumentsKw  wamp.Dict
	Details      wamp.Dict
}

// EventHandler consumes events. Handlers of one session run sequentially in
// arrival order.
type EventHandler func(ctx context.Context, ev *Event)

// Registration is a procedure registered on one session. It becomes stale
// when unregistered or when its session ends.
type Registration struct {
	id        wamp.ID
	procedure wamp.URI
	handler   InvocationHandler
	sess      *session
	inactive  atomic.Bool
}

func (r *Registration) ID() wamp.ID         { return r.id }
func (r *Registration) Procedure() wamp.URI { return r.procedure }

// Active reports whether the registration still routes invocations.
func (r *Registration) Active() bool { return !r.inactive.Load() }

func (r *Registration) deactivate() { r.inactive.Store(true) }

// Subscription is a topic subscription held by one session.
type Subscription struct {
	id       wamp.ID
	topic    wamp.URI
	handler  EventHandler
	sess     *session
	inactive atomic.Bool
}

func (s *Subscription) ID() wamp.ID     { return s.id }
func (s *Subscription) Topic() wamp.URI { return s.topic }

// Active reports whether events are still delivered to the handler.
func (s *Subscription) Active() bool { return !s.inactive.Load() }

func (s *Subscription) deactivate() { s.inactive.Store(true) }
