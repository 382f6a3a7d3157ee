package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/wamp-go/internal/codec"
	relaymemory "github.com/ggoodman/wamp-go/relay/memory"
	"github.com/ggoodman/wamp-go/transport"
	"github.com/ggoodman/wamp-go/transport/memory"
	"github.com/ggoodman/wamp-go/wamp"
	"github.com/prometheus/client_golang/prometheus"
)

const testRealm = wamp.URI("realm1")

// peer speaks raw WAMP to a router over an in-memory pipe.
type peer struct {
	t    *testing.T
	conn transport.Adapter
	id   wamp.ID
}

func newTestRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	r := New(opts...)
	if err := r.AddRealm(testRealm); err != nil {
		t.Fatalf("AddRealm: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func dial(t *testing.T, r *Router) *peer {
	t.Helper()
	local, remote := memory.Pipe()
	go func() { _ = r.Serve(context.Background(), remote) }()
	t.Cleanup(func() { _ = local.Close() })
	return &peer{t: t, conn: local}
}

// join connects a peer and completes the handshake on testRealm.
func join(t *testing.T, r *Router) *peer {
	t.Helper()
	p := dial(t, r)
	p.send(&wamp.Hello{Realm: testRealm, Details: wamp.Dict{}})
	p.id = expect[*wamp.Welcome](p).Session
	return p
}

func (p *peer) send(msg wamp.Message) {
	p.t.Helper()
	frame, err := codec.Encode(msg)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	p.sendRaw(frame)
}

func (p *peer) sendRaw(frame []byte) {
	p.t.Helper()
	if err := p.conn.Send(context.Background(), frame); err != nil {
		p.t.Fatalf("send: %v", err)
	}
}

func (p *peer) recv() wamp.Message {
	p.t.Helper()
	select {
	case frame, ok := <-p.conn.Receive():
		if !ok {
			p.t.Fatal("connection closed while waiting for a message")
		}
		msg, err := codec.Decode(frame)
		if err != nil {
			p.t.Fatalf("decode: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		p.t.Fatal("timed out waiting for a message")
	}
	return nil
}

func expect[T wamp.Message](p *peer) T {
	p.t.Helper()
	msg := p.recv()
	m, ok := msg.(T)
	if !ok {
		var zero T
		p.t.Fatalf("got %s %+v, want %T", msg.MessageType(), msg, zero)
	}
	return m
}

func (p *peer) expectNothing(d time.Duration) {
	p.t.Helper()
	select {
	case frame, ok := <-p.conn.Receive():
		if ok {
			p.t.Fatalf("unexpected frame %s", frame)
		}
	case <-time.After(d):
	}
}

func (p *peer) expectClosed() {
	p.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.conn.Receive():
			if !ok {
				return
			}
		case <-deadline:
			p.t.Fatal("connection not closed")
		}
	}
}

func expectError(p *peer, reqType wamp.MessageType, req wamp.ID, uri wamp.URI) *wamp.Error {
	p.t.Helper()
	e := expect[*wamp.Error](p)
	if e.RequestType != reqType || e.Request != req || e.Error != uri {
		p.t.Fatalf("ERROR = [%s %d %s], want [%s %d %s]", e.RequestType, e.Request, e.Error, reqType, req, uri)
	}
	return e
}

func (p *peer) register(req wamp.ID, procedure wamp.URI) wamp.ID {
	p.t.Helper()
	p.send(&wamp.Register{Request: req, Options: wamp.Dict{}, Procedure: procedure})
	reg := expect[*wamp.Registered](p)
	if reg.Request != req {
		p.t.Fatalf("REGISTERED request = %d, want %d", reg.Request, req)
	}
	return reg.Registration
}

func (p *peer) subscribe(req wamp.ID, topic wamp.URI) wamp.ID {
	p.t.Helper()
	p.send(&wamp.Subscribe{Request: req, Options: wamp.Dict{}, Topic: topic})
	sub := expect[*wamp.Subscribed](p)
	if sub.Request != req {
		p.t.Fatalf("SUBSCRIBED request = %d, want %d", sub.Request, req)
	}
	return sub.Subscription
}

type realmCounts struct {
	sessions, procedures, registrations, topics, subscriptions, invocations int
}

func counts(t *testing.T, r *Router, uri wamp.URI) realmCounts {
	t.Helper()
	rl := r.lookupRealm(uri)
	if rl == nil {
		t.Fatalf("realm %s not found", uri)
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return realmCounts{
		sessions:      len(rl.sessions),
		procedures:    len(rl.procedures),
		registrations: len(rl.registrations),
		topics:        len(rl.topics),
		subscriptions: len(rl.subscriptions),
		invocations:   len(rl.invocations),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandshake(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	p := dial(t, r)
	p.send(&wamp.Hello{Realm: testRealm, Details: wamp.Dict{}})
	w := expect[*wamp.Welcome](p)
	if w.Session == 0 || w.Session > wamp.MaxID {
		t.Fatalf("session id %d out of range", w.Session)
	}
	roles, _ := w.Details[wamp.DetailRoles].(map[string]any)
	if _, ok := roles[wamp.RoleBroker]; !ok {
		t.Fatalf("WELCOME roles = %v, want broker", w.Details)
	}
	if _, ok := roles[wamp.RoleDealer]; !ok {
		t.Fatalf("WELCOME roles = %v, want dealer", w.Details)
	}

	other := join(t, r)
	if other.id == w.Session {
		t.Fatal("two live sessions share an id")
	}
}

func TestHandshakeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opts   []Option
		frame  []byte
		reason wamp.URI
	}{
		{"unknown realm", nil, []byte(`[1,"nope",{}]`), wamp.URINoSuchRealm},
		{"first message not HELLO", nil, []byte(`[48,1,{},"com.example.add"]`), wamp.URIProtocolViolation},
		{"malformed frame", nil, []byte(`{"hello":1}`), wamp.URIProtocolViolation},
		{"invalid realm with auto create", []Option{WithAutoCreateRealms(true)}, []byte(`[1,"bad realm",{}]`), wamp.URINoSuchRealm},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRouter(t, tt.opts...)
			p := dial(t, r)
			p.sendRaw(tt.frame)
			a := expect[*wamp.Abort](p)
			if a.Reason != tt.reason {
				t.Fatalf("ABORT reason = %s, want %s", a.Reason, tt.reason)
			}
			p.expectClosed()
		})
	}
}

func TestAutoCreateRealm(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, WithAutoCreateRealms(true))

	p := dial(t, r)
	p.send(&wamp.Hello{Realm: "realm.dynamic", Details: wamp.Dict{}})
	expect[*wamp.Welcome](p)

	realms := r.Realms()
	if len(realms) != 2 || realms[0] != testRealm || realms[1] != "realm.dynamic" {
		t.Fatalf("Realms = %v", realms)
	}
}

func TestProtocolViolationInSession(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"garbage", []byte(`not json`)},
		{"second HELLO", []byte(`[1,"realm1",{}]`)},
		{"router-only message", []byte(`[36,1,1,{}]`)},
		{"ERROR for CALL", []byte(`[8,48,1,{},"wamp.error.x"]`)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := join(t, r)
			p.sendRaw(tt.frame)
			a := expect[*wamp.Abort](p)
			if a.Reason != wamp.URIProtocolViolation {
				t.Fatalf("ABORT reason = %s", a.Reason)
			}
			p.expectClosed()
		})
	}
}

func TestGoodbyeIsAnswered(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	p := join(t, r)
	p.send(&wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.URICloseNormal})
	g := expect[*wamp.Goodbye](p)
	if g.Reason != wamp.URIGoodbyeAndOut {
		t.Fatalf("GOODBYE reason = %s", g.Reason)
	}
	p.expectClosed()
	waitFor(t, "session detach", func() bool { return counts(t, r, testRealm).sessions == 0 })
}

func TestRegisterExactlyOneWinner(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	const contenders = 8
	peers := make([]*peer, contenders)
	for i := range peers {
		peers[i] = join(t, r)
	}

	var start sync.WaitGroup
	start.Add(1)
	var sent sync.WaitGroup
	for _, p := range peers {
		sent.Add(1)
		go func(p *peer) {
			defer sent.Done()
			start.Wait()
			frame, _ := codec.Encode(&wamp.Register{Request: 1, Options: wamp.Dict{}, Procedure: "com.example.add"})
			_ = p.conn.Send(context.Background(), frame)
		}(p)
	}
	start.Done()
	sent.Wait()

	winners := 0
	for _, p := range peers {
		switch m := p.recv().(type) {
		case *wamp.Registered:
			winners++
		case *wamp.Error:
			if m.Error != wamp.URIProcedureAlreadyExists || m.RequestType != wamp.MessageTypeRegister || m.Request != 1 {
				t.Fatalf("loser got %+v", m)
			}
		default:
			t.Fatalf("unexpected %s", m.MessageType())
		}
	}
	if winners != 1 {
		t.Fatalf("%d sessions won the registration", winners)
	}
}

func TestRegisterInvalidURI(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	p := join(t, r)
	p.send(&wamp.Register{Request: 3, Options: wamp.Dict{}, Procedure: "com..bad"})
	expectError(p, wamp.MessageTypeRegister, 3, wamp.URIInvalidURI)
}

func TestCallRoundTripTranslatesRequestIDs(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	callee := join(t, r)
	caller := join(t, r)

	regID := callee.register(1, "com.example.add")

	caller.send(&wamp.Call{Request: 77, Options: wamp.Dict{}, Procedure: "com.example.add", Arguments: wamp.List{33, 66}})
	inv := expect[*wamp.Invocation](callee)
	if inv.Registration != regID {
		t.Fatalf("INVOCATION registration = %d, want %d", inv.Registration, regID)
	}
	if inv.Details[wamp.DetailProcedure] != "com.example.add" {
		t.Fatalf("INVOCATION details = %v, want procedure", inv.Details)
	}
	if _, disclosed := inv.Details[wamp.DetailCaller]; disclosed {
		t.Fatalf("caller disclosed without disclose_me: %v", inv.Details)
	}
	a, _ := wamp.ToInt64(inv.Arguments[0])
	b, _ := wamp.ToInt64(inv.Arguments[1])

	callee.send(&wamp.Yield{Request: inv.Request, Options: wamp.Dict{}, Arguments: wamp.List{a + b}})
	res := expect[*wamp.Result](caller)
	if res.Request != 77 {
		t.Fatalf("RESULT request = %d, want 77", res.Request)
	}
	if n, _ := wamp.ToInt64(res.Arguments[0]); n != 99 {
		t.Fatalf("RESULT args = %v, want [99]", res.Arguments)
	}
	waitFor(t, "invocation cleanup", func() bool { return counts(t, r, testRealm).invocations == 0 })
}

func TestCallErrorGoesToCallerOnly(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	callee := join(t, r)
	caller := join(t, r)
	callee.register(1, "com.example.add")

	caller.send(&wamp.Call{Request: 5, Options: wamp.Dict{}, Procedure: "com.example.add", Arguments: wamp.List{1, "dafs"}})
	inv := expect[*wamp.Invocation](callee)
	callee.send(&wamp.Error{
		RequestType: wamp.MessageTypeInvocation,
		Request:     inv.Request,
		Details:     wamp.Dict{},
		Error:       wamp.URIInvalidParameter,
		Arguments:   wamp.List{"expected two numbers"},
	})

	e := expectError(caller, wamp.MessageTypeCall, 5, wamp.URIInvalidParameter)
	if len(e.Arguments) != 1 || e.Arguments[0] != "expected two numbers" {
		t.Fatalf("ERROR args = %v", e.Arguments)
	}
	callee.expectNothing(50 * time.Millisecond)

	// The callee's session is unaffected.
	caller.send(&wamp.Call{Request: 6, Options: wamp.Dict{}, Procedure: "com.example.add", Arguments: wamp.List{1, 2}})
	inv = expect[*wamp.Invocation](callee)
	callee.send(&wamp.Yield{Request: inv.Request, Options: wamp.Dict{}, Arguments: wamp.List{3}})
	if res := expect[*wamp.Result](caller); res.Request != 6 {
		t.Fatalf("RESULT request = %d", res.Request)
	}
}

func TestCallUnknownProcedure(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	caller := join(t, r)

	caller.send(&wamp.Call{Request: 1, Options: wamp.Dict{}, Procedure: "com.example.missing"})
	expectError(caller, wamp.MessageTypeCall, 1, wamp.URINoSuchProcedure)

	caller.send(&wamp.Call{Request: 2, Options: wamp.Dict{}, Procedure: "bad uri"})
	expectError(caller, wamp.MessageTypeCall, 2, wamp.URIInvalidURI)
}

func TestDiscloseMe(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	callee := join(t, r)
	caller := join(t, r)
	callee.register(1, "com.example.whoami")

	caller.send(&wamp.Call{Request: 1, Options: wamp.Dict{wamp.OptDiscloseMe: true}, Procedure: "com.example.whoami"})
	inv := expect[*wamp.Invocation](callee)
	if id, _ := wamp.ToID(inv.Details[wamp.DetailCaller]); id != caller.id {
		t.Fatalf("INVOCATION caller = %v, want %d", inv.Details[wamp.DetailCaller], caller.id)
	}
}

func TestStrayYieldsAreIgnored(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	callee := join(t, r)
	caller := join(t, r)
	intruder := join(t, r)
	callee.register(1, "com.example.add")

	// Unknown invocation id.
	callee.send(&wamp.Yield{Request: 999, Options: wamp.Dict{}})
	caller.expectNothing(50 * time.Millisecond)

	caller.send(&wamp.Call{Request: 10, Options: wamp.Dict{}, Procedure: "com.example.add"})
	inv := expect[*wamp.Invocation](callee)

	// A session that is not the callee cannot answer the invocation.
	intruder.send(&wamp.Yield{Request: inv.Request, Options: wamp.Dict{}, Arguments: wamp.List{"forged"}})
	caller.expectNothing(50 * time.Millisecond)

	callee.send(&wamp.Yield{Request: inv.Request, Options: wamp.Dict{}, Arguments: wamp.List{"real"}})
	res := expect[*wamp.Result](caller)
	if res.Arguments[0] != "real" {
		t.Fatalf("RESULT args = %v", res.Arguments)
	}

	// A duplicate YIELD after the result is ignored.
	callee.send(&wamp.Yield{Request: inv.Request, Options: wamp.Dict{}, Arguments: wamp.List{"again"}})
	caller.expectNothing(50 * time.Millisecond)
}

func TestCalleeDisconnectFailsPendingCall(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	callee := join(t, r)
	caller := join(t, r)
	callee.register(1, "com.example.slow")

	caller.send(&wamp.Call{Request: 42, Options: wamp.Dict{}, Procedure: "com.example.slow"})
	expect[*wamp.Invocation](callee)
	_ = callee.conn.Close()

	expectError(caller, wamp.MessageTypeCall, 42, wamp.URICalleeDisconnected)
	waitFor(t, "callee detach", func() bool {
		c := counts(t, r, testRealm)
		return c.sessions == 1 && c.procedures == 0 && c.registrations == 0 && c.invocations == 0
	})

	// The procedure name is free again.
	next := join(t, r)
	next.register(1, "com.example.slow")
}

func TestCallerDisconnectDropsLateYield(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	callee := join(t, r)
	caller := join(t, r)
	callee.register(1, "com.example.slow")

	caller.send(&wamp.Call{Request: 1, Options: wamp.Dict{}, Procedure: "com.example.slow"})
	inv := expect[*wamp.Invocation](callee)
	_ = caller.conn.Close()
	waitFor(t, "caller detach", func() bool { return counts(t, r, testRealm).invocations == 0 })

	callee.send(&wamp.Yield{Request: inv.Request, Options: wamp.Dict{}})
	callee.expectNothing(50 * time.Millisecond)
}

func TestDetachPrunesEverything(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	p := join(t, r)
	other := join(t, r)

	p.register(1, "com.example.a")
	p.register(2, "com.example.b")
	p.subscribe(3, "test.shared")
	p.subscribe(4, "test.private")
	p.subscribe(5, "test.private")
	other.subscribe(1, "test.shared")

	c := counts(t, r, testRealm)
	if c.procedures != 2 || c.topics != 2 || c.subscriptions != 4 || c.sessions != 2 {
		t.Fatalf("before detach: %+v", c)
	}

	p.send(&wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.URICloseNormal})
	expect[*wamp.Goodbye](p)
	waitFor(t, "detach", func() bool {
		c := counts(t, r, testRealm)
		return c == realmCounts{sessions: 1, topics: 1, subscriptions: 1}
	})
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	owner := join(t, r)
	other := join(t, r)
	regID := owner.register(1, "com.example.add")

	other.send(&wamp.Unregister{Request: 1, Registration: regID})
	expectError(other, wamp.MessageTypeUnregister, 1, wamp.URINoSuchRegistration)

	owner.send(&wamp.Unregister{Request: 2, Registration: regID})
	if u := expect[*wamp.Unregistered](owner); u.Request != 2 {
		t.Fatalf("UNREGISTERED request = %d", u.Request)
	}

	owner.send(&wamp.Unregister{Request: 3, Registration: regID})
	expectError(owner, wamp.MessageTypeUnregister, 3, wamp.URINoSuchRegistration)

	other.send(&wamp.Call{Request: 2, Options: wamp.Dict{}, Procedure: "com.example.add"})
	expectError(other, wamp.MessageTypeCall, 2, wamp.URINoSuchProcedure)
}

func TestPublishFanOut(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	pub := join(t, r)
	s1 := join(t, r)
	s2 := join(t, r)
	sub1 := s1.subscribe(1, "test.event")
	sub2 := s2.subscribe(1, "test.event")
	if sub1 == sub2 {
		t.Fatalf("two memberships share subscription id %d", sub1)
	}

	pub.send(&wamp.Publish{Request: 9, Options: wamp.Dict{wamp.OptAcknowledge: true}, Topic: "test.event", Arguments: wamp.List{"Hello 1"}})
	ack := expect[*wamp.Published](pub)
	if ack.Request != 9 {
		t.Fatalf("PUBLISHED request = %d", ack.Request)
	}
	for s, subID := range map[*peer]wamp.ID{s1: sub1, s2: sub2} {
		ev := expect[*wamp.Event](s)
		if ev.Subscription != subID || ev.Publication != ack.Publication || ev.Arguments[0] != "Hello 1" {
			t.Fatalf("EVENT = %+v", ev)
		}
	}
}

func TestSubscribeTwiceDeliversPerMembership(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	pub := join(t, r)
	s := join(t, r)
	first := s.subscribe(1, "test.event")
	second := s.subscribe(2, "test.event")
	if first == second {
		t.Fatalf("second SUBSCRIBE reused subscription id %d", first)
	}

	pub.send(&wamp.Publish{Request: 1, Options: wamp.Dict{}, Topic: "test.event"})
	got := map[wamp.ID]bool{}
	for i := 0; i < 2; i++ {
		got[expect[*wamp.Event](s).Subscription] = true
	}
	if !got[first] || !got[second] {
		t.Fatalf("events delivered to %v, want %d and %d", got, first, second)
	}

	s.send(&wamp.Unsubscribe{Request: 3, Subscription: first})
	expect[*wamp.Unsubscribed](s)
	pub.send(&wamp.Publish{Request: 2, Options: wamp.Dict{}, Topic: "test.event"})
	if ev := expect[*wamp.Event](s); ev.Subscription != second {
		t.Fatalf("EVENT for %d after unsubscribing %d", ev.Subscription, first)
	}
	s.expectNothing(50 * time.Millisecond)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	pub := join(t, r)

	pub.send(&wamp.Publish{Request: 1, Options: wamp.Dict{}, Topic: "test.nobody"})
	pub.expectNothing(50 * time.Millisecond)

	pub.send(&wamp.Publish{Request: 2, Options: wamp.Dict{wamp.OptAcknowledge: true}, Topic: "test.nobody"})
	if ack := expect[*wamp.Published](pub); ack.Request != 2 {
		t.Fatalf("PUBLISHED request = %d", ack.Request)
	}

	pub.send(&wamp.Publish{Request: 3, Options: wamp.Dict{wamp.OptAcknowledge: true}, Topic: "bad topic"})
	expectError(pub, wamp.MessageTypePublish, 3, wamp.URIInvalidURI)
}

func TestPublisherExclusion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		routerEx bool
		options  wamp.Dict
		delivers bool
	}{
		{"default includes publisher", false, wamp.Dict{}, true},
		{"exclude_me true", false, wamp.Dict{wamp.OptExcludeMe: true}, false},
		{"router default excludes", true, wamp.Dict{}, false},
		{"exclude_me false overrides router", true, wamp.Dict{wamp.OptExcludeMe: false}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRouter(t, WithPublisherExclusion(tt.routerEx))
			p := join(t, r)
			p.subscribe(1, "test.self")

			p.send(&wamp.Publish{Request: 2, Options: tt.options, Topic: "test.self"})
			if tt.delivers {
				expect[*wamp.Event](p)
			} else {
				p.expectNothing(50 * time.Millisecond)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	pub := join(t, r)
	s := join(t, r)
	subID := s.subscribe(1, "test.event")

	s.send(&wamp.Unsubscribe{Request: 2, Subscription: subID})
	if u := expect[*wamp.Unsubscribed](s); u.Request != 2 {
		t.Fatalf("UNSUBSCRIBED request = %d", u.Request)
	}

	s.send(&wamp.Unsubscribe{Request: 3, Subscription: subID})
	expectError(s, wamp.MessageTypeUnsubscribe, 3, wamp.URINoSuchSubscription)

	pub.send(&wamp.Publish{Request: 1, Options: wamp.Dict{}, Topic: "test.event"})
	s.expectNothing(50 * time.Millisecond)

	if c := counts(t, r, testRealm); c.topics != 0 || c.subscriptions != 0 {
		t.Fatalf("empty topic not pruned: %+v", c)
	}
}

func TestRealmAdministration(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	if err := r.AddRealm(testRealm); !errors.Is(err, ErrRealmExists) {
		t.Fatalf("duplicate AddRealm = %v", err)
	}
	if err := r.RemoveRealm("realm.unknown"); !errors.Is(err, ErrNoSuchRealm) {
		t.Fatalf("RemoveRealm unknown = %v", err)
	}

	p := join(t, r)
	if err := r.RemoveRealm(testRealm); err != nil {
		t.Fatalf("RemoveRealm: %v", err)
	}
	g := expect[*wamp.Goodbye](p)
	if g.Reason != wamp.URISystemShutdown {
		t.Fatalf("GOODBYE reason = %s", g.Reason)
	}
	p.expectClosed()

	late := dial(t, r)
	late.send(&wamp.Hello{Realm: testRealm, Details: wamp.Dict{}})
	if a := expect[*wamp.Abort](late); a.Reason != wamp.URINoSuchRealm {
		t.Fatalf("ABORT reason = %s", a.Reason)
	}

	if err := r.AddRealm(testRealm); err != nil {
		t.Fatalf("re-AddRealm: %v", err)
	}
	join(t, r)
}

func TestCloseShutsDownSessions(t *testing.T) {
	t.Parallel()
	r := New()
	if err := r.AddRealm(testRealm); err != nil {
		t.Fatal(err)
	}
	p := join(t, r)

	done := make(chan struct{})
	go func() {
		_ = r.Close()
		close(done)
	}()
	if g := expect[*wamp.Goodbye](p); g.Reason != wamp.URISystemShutdown {
		t.Fatalf("GOODBYE reason = %s", g.Reason)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}

	local, remote := memory.Pipe()
	defer local.Close()
	if err := r.Serve(context.Background(), remote); !errors.Is(err, ErrClosed) {
		t.Fatalf("Serve after Close = %v", err)
	}
}

func TestRelayAcrossRouters(t *testing.T) {
	t.Parallel()
	bus := relaymemory.New()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a := newTestRouter(t, WithRelay(bus))
	b := newTestRouter(t, WithRelay(bus))
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	remoteSub := join(t, a)
	localSub := join(t, b)
	pub := join(t, b)
	remoteID := remoteSub.subscribe(1, "test.event")
	localSub.subscribe(1, "test.event")

	pub.send(&wamp.Publish{Request: 1, Options: wamp.Dict{}, Topic: "test.event", Arguments: wamp.List{"Hello 1"}})

	ev := expect[*wamp.Event](remoteSub)
	if ev.Subscription != remoteID || ev.Arguments[0] != "Hello 1" {
		t.Fatalf("relayed EVENT = %+v", ev)
	}
	expect[*wamp.Event](localSub)
	// The publishing router drops its own envelope.
	localSub.expectNothing(100 * time.Millisecond)
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	r := newTestRouter(t, WithMetricsRegisterer(reg))

	p := join(t, r)
	p.send(&wamp.Call{Request: 1, Options: wamp.Dict{}, Procedure: "com.example.missing"})
	expectError(p, wamp.MessageTypeCall, 1, wamp.URINoSuchProcedure)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	if values["wamp_router_sessions"] != 1 {
		t.Fatalf("sessions gauge = %v", values["wamp_router_sessions"])
	}
	if values["wamp_router_messages_total"] < 1 {
		t.Fatalf("messages counter = %v", values["wamp_router_messages_total"])
	}
	if values["wamp_router_errors_total"] != 1 {
		t.Fatalf("errors counter = %v", values["wamp_router_errors_total"])
	}
}
