// Package transport defines the message-framed duplex channel that client
// sessions and the router run on. The engine only talks to Adapter; concrete
// implementations live in subpackages (memory, websocket).
package transport

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by Send once the adapter is closed.
var ErrTransportClosed = errors.New("transport closed")

// DisconnectReason tells the session layer why a transport closed.
type DisconnectReason int

const (
	ReasonUnknown      DisconnectReason = iota // catch-all
	ReasonNetworkError                         // underlying connection failed
	ReasonClosedClean                          // graceful close by either side
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "network_error"
	case ReasonClosedClean:
		return "closed_clean"
	default:
		return "unknown"
	}
}

// DisconnectEvent is emitted exactly once when a transport closes.
type DisconnectEvent struct {
	Reason DisconnectReason
	Err    error // nil on clean close
}

// Adapter is a reliable, ordered, message-framed duplex channel.
//
// Sending and receiving are independent: Send never waits for the reader and
// a slow consumer of Receive never blocks a concurrent Send.
type Adapter interface {
	// Send queues one frame for delivery. Safe for concurrent use.
	// Returns ErrTransportClosed once the adapter is closed.
	Send(ctx context.Context, frame []byte) error

	// Receive emits inbound frames in order. The channel is closed when the
	// transport closes.
	Receive() <-chan []byte

	// Disconnected emits exactly one event when the transport closes.
	Disconnected() <-chan DisconnectEvent

	// Close shuts the transport down. Safe to call multiple times.
	Close() error
}

// Dialer establishes client-side adapters.
type Dialer interface {
	Dial(ctx context.Context, address string) (Adapter, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (Adapter, error)

func (f DialerFunc) Dial(ctx context.Context, address string) (Adapter, error) {
	return f(ctx, address)
}
