package router

import (
	"sync"

	"github.com/ggoodman/wamp-go/wamp"
)

// outbox is an unbounded FIFO of messages for one session. Routing pushes
// under the realm lock and never blocks on a slow peer; a writer goroutine
// drains it to the transport.
type outbox struct {
	mu     sync.Mutex
	queue  []wamp.Message
	closed bool
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

// push appends msg. It reports false once the outbox is closed.
func (o *outbox) push(msg wamp.Message) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, msg)
	o.mu.Unlock()
	o.notify()
	return true
}

// close stops accepting messages. Queued messages are still drained.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.notify()
}

func (o *outbox) notify() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// take returns everything queued, or ok=false once closed and empty.
func (o *outbox) take() (batch []wamp.Message, ok bool) {
	for {
		o.mu.Lock()
		if len(o.queue) > 0 {
			batch, o.queue = o.queue, nil
			o.mu.Unlock()
			return batch, true
		}
		if o.closed {
			o.mu.Unlock()
			return nil, false
		}
		o.mu.Unlock()
		<-o.signal
	}
}
