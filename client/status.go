package client

import (
	"context"
	"sync"

	"github.com/ggoodman/wamp-go/wamp"
)

// Status is the connection state of a Client.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusHandshaking
	StatusConnected
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusHandshaking:
		return "handshaking"
	case StatusConnected:
		return "connected"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// StatusEvent is one status transition.
type StatusEvent struct {
	Status Status
	// SessionID is set while Connected.
	SessionID wamp.ID
	// Err is the cause of a transition to Disconnected, or
	// ErrReconnectExhausted when the supervisor gives up.
	Err error
}

// statusFeed fans status events out to observers in publication order. Each
// observer has its own queue so a slow observer never blocks the session.
type statusFeed struct {
	mu      sync.Mutex
	current StatusEvent
	subs    map[*statusSub]struct{}
}

type statusSub struct {
	mu     sync.Mutex
	queue  []StatusEvent
	signal chan struct{}
}

func newStatusFeed() *statusFeed {
	return &statusFeed{subs: make(map[*statusSub]struct{})}
}

func (f *statusFeed) publish(ev StatusEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ev
	for sub := range f.subs {
		sub.push(ev)
	}
}

func (f *statusFeed) load() StatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *statusFeed) subscribe(ctx context.Context) <-chan StatusEvent {
	sub := &statusSub{signal: make(chan struct{}, 1)}
	f.mu.Lock()
	sub.push(f.current)
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	out := make(chan StatusEvent)
	go func() {
		defer close(out)
		defer func() {
			f.mu.Lock()
			delete(f.subs, sub)
			f.mu.Unlock()
		}()
		for {
			ev, ok := sub.pop()
			if !ok {
				select {
				case <-sub.signal:
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *statusSub) push(ev StatusEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *statusSub) pop() (StatusEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return StatusEvent{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}
