// Package relaytest holds the behavioral suite every relay.Relay
// implementation must pass.
package relaytest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/wamp-go/relay"
	"github.com/ggoodman/wamp-go/wamp"
)

// Factory creates a new Relay for one test.
type Factory func(t *testing.T) relay.Relay

// RunRelayTests runs the complete Relay test suite against the provided factory.
func RunRelayTests(t *testing.T, factory Factory) {
	t.Run("FanOut_AllSubscribersReceive", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("Envelope_PayloadPreserved", func(t *testing.T) { testPayloadPreserved(t, factory) })
	t.Run("Ordering_PerPublisher", func(t *testing.T) { testOrdering(t, factory) })
	t.Run("Subscribe_CancellationStops", func(t *testing.T) { testCancellation(t, factory) })
	t.Run("Subscribe_HandlerErrorStops", func(t *testing.T) { testHandlerError(t, factory) })
}

// subscribeAsync starts a subscription and returns the channel it reports
// its exit on. Subscriptions are given time to be established.
func subscribeAsync(ctx context.Context, r relay.Relay, h relay.Handler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Subscribe(ctx, h) }()
	time.Sleep(100 * time.Millisecond)
	return done
}

func testFanOut(t *testing.T, factory Factory) {
	r := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 2)
	for i := 0; i < 2; i++ {
		subscribeAsync(ctx, r, func(ctx context.Context, env relay.Envelope) error {
			got <- string(env.Topic)
			return nil
		})
	}

	if err := r.Publish(ctx, relay.Envelope{Origin: "node-a", Realm: "realm1", Topic: "test.fanout"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case topic := <-got:
			if topic != "test.fanout" {
				t.Fatalf("topic = %q", topic)
			}
		case <-ctx.Done():
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func testPayloadPreserved(t *testing.T, factory Factory) {
	r := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan relay.Envelope, 1)
	subscribeAsync(ctx, r, func(ctx context.Context, env relay.Envelope) error {
		got <- env
		return nil
	})

	sent := relay.Envelope{
		Origin:      "node-a",
		Realm:       "realm1",
		Topic:       "test.payload",
		Arguments:   wamp.List{"Hello 1", 42},
		ArgumentsKw: wamp.Dict{"n": 7},
	}
	if err := r.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var env relay.Envelope
	select {
	case env = <-got:
	case <-ctx.Done():
		t.Fatal("no envelope")
	}
	if env.Origin != sent.Origin || env.Realm != sent.Realm || env.Topic != sent.Topic {
		t.Fatalf("routing fields = %+v", env)
	}
	if len(env.Arguments) != 2 {
		t.Fatalf("args = %v", env.Arguments)
	}
	if s, _ := wamp.ToString(env.Arguments[0]); s != "Hello 1" {
		t.Fatalf("args[0] = %v", env.Arguments[0])
	}
	if n, _ := wamp.ToInt64(env.Arguments[1]); n != 42 {
		t.Fatalf("args[1] = %v", env.Arguments[1])
	}
	if n, _ := wamp.ToInt64(env.ArgumentsKw["n"]); n != 7 {
		t.Fatalf("kwargs = %v", env.ArgumentsKw)
	}
}

func testOrdering(t *testing.T, factory Factory) {
	r := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const count = 20
	var mu sync.Mutex
	var seen []int64
	all := make(chan struct{})
	subscribeAsync(ctx, r, func(ctx context.Context, env relay.Envelope) error {
		n, _ := wamp.ToInt64(env.Arguments[0])
		mu.Lock()
		seen = append(seen, n)
		if len(seen) == count {
			close(all)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < count; i++ {
		if err := r.Publish(ctx, relay.Envelope{Origin: "node-a", Realm: "realm1", Topic: "test.order", Arguments: wamp.List{i}}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	select {
	case <-all:
	case <-ctx.Done():
		t.Fatal("not all envelopes delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, n := range seen {
		if n != int64(i) {
			t.Fatalf("seen = %v", seen)
		}
	}
}

func testCancellation(t *testing.T, factory Factory) {
	r := factory(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := subscribeAsync(ctx, r, func(ctx context.Context, env relay.Envelope) error { return nil })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Subscribe = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func testHandlerError(t *testing.T, factory Factory) {
	r := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	boom := errors.New("boom")
	done := subscribeAsync(ctx, r, func(ctx context.Context, env relay.Envelope) error { return boom })

	if err := r.Publish(ctx, relay.Envelope{Origin: "node-a", Realm: "realm1", Topic: "test.err"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("Subscribe = %v, want boom", err)
		}
	case <-ctx.Done():
		t.Fatal("subscription did not stop")
	}
}
