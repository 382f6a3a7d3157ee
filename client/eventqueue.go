package client

import "sync"

type delivery struct {
	sub *Subscription
	ev  *Event
}

// eventQueue is an unbounded FIFO between the receive loop and the event
// dispatcher. The receive loop must never wait on a handler: handlers may
// issue calls whose replies only the receive loop can deliver.
type eventQueue struct {
	mu     sync.Mutex
	queue  []delivery
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

// push appends d. It reports false once the queue is closed.
func (q *eventQueue) push(d delivery) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.queue = append(q.queue, d)
	q.mu.Unlock()
	q.notify()
	return true
}

// close stops accepting deliveries. Queued ones are still handed out.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// take returns everything queued, or ok=false once closed and empty.
func (q *eventQueue) take() (batch []delivery, ok bool) {
	for {
		q.mu.Lock()
		if len(q.queue) > 0 {
			batch, q.queue = q.queue, nil
			q.mu.Unlock()
			return batch, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.signal
	}
}
