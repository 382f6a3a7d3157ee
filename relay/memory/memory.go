// Package memory is an in-process relay.Relay, for tests and for several
// routers sharing one process.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/wamp-go/relay"
)

const subscriberBuffer = 1024

// ErrClosed is returned once the relay has been closed.
var ErrClosed = errors.New("relay closed")

type Relay struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}

	dropped atomic.Uint64
}

type subscriber struct {
	ch chan relay.Envelope
}

func New() *Relay {
	return &Relay{
		subs: make(map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

// Publish never waits on a subscriber. An envelope that does not fit a
// subscriber's buffer is dropped for that subscriber.
func (r *Relay) Publish(ctx context.Context, env relay.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscriber, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- env:
		default:
			r.dropped.Add(1)
		}
	}
	return nil
}

// Dropped reports how many deliveries were discarded because a subscriber
// had fallen behind.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

func (r *Relay) Subscribe(ctx context.Context, handler relay.Handler) error {
	sub := &subscriber{ch: make(chan relay.Envelope, subscriberBuffer)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
	}()

	for {
		select {
		case env := <-sub.ch:
			if err := handler(ctx, env); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrClosed
		}
	}
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	return nil
}

var _ relay.Relay = (*Relay)(nil)
