package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// InfiniteRetries makes the supervisor reconnect forever.
const InfiniteRetries = -1

const defaultReconnectInterval = 5 * time.Second

// ReconnectPolicy controls what happens after a session ends without an
// explicit Close. MaxRetries counts consecutive failed attempts; it starts
// over after every successful WELCOME. Zero disables reconnection.
type ReconnectPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

func (p ReconnectPolicy) enabled() bool { return p.MaxRetries != 0 }

func (p ReconnectPolicy) backOff() backoff.BackOff {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultReconnectInterval
	}
	b := backoff.BackOff(backoff.NewConstantBackOff(interval))
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	return b
}

// supervisor owns the connect/serve/retry loop between Open and the final
// Disconnected.
type supervisor struct {
	c        *Client
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSupervisor(c *Client) *supervisor {
	return &supervisor{c: c, stop: make(chan struct{}), done: make(chan struct{})}
}

func (s *supervisor) run() {
	defer close(s.done)

	c := s.c
	b := c.reconnect.backOff()
	for {
		established, err := c.runSession(s.stop)
		if s.stopped() {
			c.finish(s)
			return
		}
		if !c.reconnect.enabled() {
			c.finish(s)
			return
		}
		if established {
			b.Reset()
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			c.log.Warn("client.reconnect.exhausted", slog.Int("max_retries", c.reconnect.MaxRetries))
			c.finish(s)
			c.setStatus(StatusEvent{Status: StatusDisconnected, Err: ErrReconnectExhausted})
			return
		}

		attrs := []any{slog.Duration("delay", delay)}
		if err != nil {
			attrs = append(attrs, slog.String("err", err.Error()))
		}
		c.log.Info("client.reconnect.wait", attrs...)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.stop:
			timer.Stop()
			c.finish(s)
			return
		}
	}
}

func (s *supervisor) shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *supervisor) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
