// Package memory provides an in-process implementation of
// transport.Adapter backed by channels. It is suitable for running clients
// and a router in the same process and for tests.
package memory

import (
	"context"
	"sync"

	"github.com/ggoodman/wamp-go/transport"
)

const defaultBuffer = 256

// Adapter is one end of an in-memory pipe.
type Adapter struct {
	peer *Adapter

	incoming   chan []byte
	disconnect chan transport.DisconnectEvent

	// done is closed when either end closes the pipe.
	done      chan struct{}
	closeOnce *sync.Once

	// sendMu orders Send against close so the incoming channel is never
	// written after it was closed.
	sendMu *sync.RWMutex
}

// Pipe returns two connected adapters. Frames sent on one are received on
// the other, in order. Closing either end closes both.
func Pipe() (*Adapter, *Adapter) {
	done := make(chan struct{})
	once := &sync.Once{}
	mu := &sync.RWMutex{}
	a := &Adapter{
		incoming:   make(chan []byte, defaultBuffer),
		disconnect: make(chan transport.DisconnectEvent, 1),
		done:       done,
		closeOnce:  once,
		sendMu:     mu,
	}
	b := &Adapter{
		incoming:   make(chan []byte, defaultBuffer),
		disconnect: make(chan transport.DisconnectEvent, 1),
		done:       done,
		closeOnce:  once,
		sendMu:     mu,
	}
	a.peer, b.peer = b, a
	return a, b
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()

	select {
	case <-a.done:
		return transport.ErrTransportClosed
	default:
	}

	buf := append([]byte(nil), frame...)
	select {
	case a.peer.incoming <- buf:
		return nil
	case <-a.done:
		return transport.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) Receive() <-chan []byte { return a.incoming }

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent { return a.disconnect }

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)

		// Wait for in-flight sends to observe done before closing inboxes.
		a.sendMu.Lock()
		close(a.incoming)
		close(a.peer.incoming)
		a.sendMu.Unlock()

		ev := transport.DisconnectEvent{Reason: transport.ReasonClosedClean}
		a.disconnect <- ev
		a.peer.disconnect <- ev
	})
	return nil
}

// Dialer creates a fresh pipe per Dial and hands the far end to Accept,
// typically a router's Serve method run in its own goroutine.
type Dialer struct {
	Accept func(transport.Adapter)
}

func (d Dialer) Dial(ctx context.Context, address string) (transport.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, remote := Pipe()
	go d.Accept(remote)
	return local, nil
}

var (
	_ transport.Adapter = (*Adapter)(nil)
	_ transport.Dialer  = Dialer{}
)
