package router

import (
	"log/slog"
	"sync"

	"github.com/ggoodman/wamp-go/relay"
	"github.com/ggoodman/wamp-go/wamp"
)

type registration struct {
	id        wamp.ID
	procedure wamp.URI
	callee    *session
}

// subscription is one session's membership in a topic. Every SUBSCRIBE
// creates a new one, even for a topic the session already follows.
type subscription struct {
	id         wamp.ID
	topic      wamp.URI
	subscriber *session
}

// invocation maps a router-allocated INVOCATION id back to the caller's
// CALL request id.
type invocation struct {
	id      wamp.ID
	caller  *session
	request wamp.ID
	callee  *session
}

// realm is one routing namespace. All routing state sits behind a single
// lock, and replies are queued on session outboxes while it is held, so the
// order in which peers observe messages matches the order of decisions.
type realm struct {
	uri    wamp.URI
	router *Router

	mu            sync.Mutex
	closed        bool
	sessions      map[wamp.ID]*session
	procedures    map[wamp.URI]*registration
	registrations map[wamp.ID]*registration
	topics        map[wamp.URI]map[wamp.ID]*subscription
	subscriptions map[wamp.ID]*subscription
	invocations   map[wamp.ID]*invocation

	lastRegistration wamp.ID
	lastSubscription wamp.ID
	lastInvocation   wamp.ID
	lastPublication  wamp.ID
}

func newRealm(r *Router, uri wamp.URI) *realm {
	return &realm{
		uri:           uri,
		router:        r,
		sessions:      make(map[wamp.ID]*session),
		procedures:    make(map[wamp.URI]*registration),
		registrations: make(map[wamp.ID]*registration),
		topics:        make(map[wamp.URI]map[wamp.ID]*subscription),
		subscriptions: make(map[wamp.ID]*subscription),
		invocations:   make(map[wamp.ID]*invocation),
	}
}

// nextID advances a realm-scoped counter, wrapping at 2^53 and skipping ids
// still in use.
func nextID[T any](last *wamp.ID, inUse map[wamp.ID]T) wamp.ID {
	for {
		*last++
		if *last > wamp.MaxID {
			*last = 1
		}
		if _, busy := inUse[*last]; !busy {
			return *last
		}
	}
}

// join attaches s and queues its WELCOME ahead of anything routed to it.
func (rl *realm) join(s *session, welcome *wamp.Welcome) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closed {
		return false
	}
	rl.sessions[s.id] = s
	s.out.push(welcome)
	rl.router.metrics.sessionJoined(rl.uri)
	return true
}

// leave detaches s and prunes everything it owned. Calls it was serving
// fail with wamp.error.callee_disconnected; calls it made are forgotten so
// late YIELDs are ignored.
func (rl *realm) leave(s *session) {
	rl.mu.Lock()
	if _, ok := rl.sessions[s.id]; !ok {
		rl.mu.Unlock()
		return
	}
	delete(rl.sessions, s.id)
	for id, reg := range s.registrations {
		delete(rl.registrations, id)
		delete(rl.procedures, reg.procedure)
	}
	for _, sub := range s.subscriptions {
		rl.dropSubscription(sub)
	}
	s.registrations = make(map[wamp.ID]*registration)
	s.subscriptions = make(map[wamp.ID]*subscription)
	for id, inv := range rl.invocations {
		switch {
		case inv.callee == s:
			delete(rl.invocations, id)
			if inv.caller != s {
				inv.caller.replyError(wamp.MessageTypeCall, inv.request, wamp.URICalleeDisconnected)
			}
		case inv.caller == s:
			delete(rl.invocations, id)
		}
	}
	rl.mu.Unlock()

	rl.router.releaseSessionID(s.id)
	rl.router.metrics.sessionLeft(rl.uri)
}

// shutdown says GOODBYE to every attached session and refuses new ones.
func (rl *realm) shutdown() {
	rl.mu.Lock()
	rl.closed = true
	sessions := make([]*session, 0, len(rl.sessions))
	for _, s := range rl.sessions {
		s.out.push(&wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.URISystemShutdown})
		sessions = append(sessions, s)
	}
	rl.mu.Unlock()
	for _, s := range sessions {
		s.detach()
	}
}

// handle routes one message from s. It reports whether the session ended.
func (rl *realm) handle(s *session, msg wamp.Message) bool {
	rl.router.metrics.message(rl.uri, msg.MessageType())
	switch m := msg.(type) {
	case *wamp.Goodbye:
		s.out.push(&wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.URIGoodbyeAndOut})
		return true
	case *wamp.Abort:
		return true
	case *wamp.Register:
		rl.register(s, m)
	case *wamp.Unregister:
		rl.unregister(s, m)
	case *wamp.Call:
		rl.call(s, m)
	case *wamp.Yield:
		rl.yield(s, m)
	case *wamp.Error:
		if m.RequestType != wamp.MessageTypeInvocation {
			return rl.violation(s, "ERROR for "+m.RequestType.String())
		}
		rl.invocationError(s, m)
	case *wamp.Subscribe:
		rl.subscribe(s, m)
	case *wamp.Unsubscribe:
		rl.unsubscribe(s, m)
	case *wamp.Publish:
		rl.publish(s, m)
	default:
		return rl.violation(s, "unexpected "+msg.MessageType().String())
	}
	return false
}

func (rl *realm) violation(s *session, message string) bool {
	s.log.WarnContext(s.ctx, "router.protocol_violation", slog.String("message", message))
	s.abort(wamp.URIProtocolViolation, message)
	return true
}

func (rl *realm) register(s *session, m *wamp.Register) {
	if !wamp.ValidURI(m.Procedure) {
		s.replyError(wamp.MessageTypeRegister, m.Request, wamp.URIInvalidURI)
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, taken := rl.procedures[m.Procedure]; taken {
		s.replyError(wamp.MessageTypeRegister, m.Request, wamp.URIProcedureAlreadyExists)
		return
	}
	reg := &registration{
		id:        nextID(&rl.lastRegistration, rl.registrations),
		procedure: m.Procedure,
		callee:    s,
	}
	rl.procedures[reg.procedure] = reg
	rl.registrations[reg.id] = reg
	s.registrations[reg.id] = reg
	s.out.push(&wamp.Registered{Request: m.Request, Registration: reg.id})
}

func (rl *realm) unregister(s *session, m *wamp.Unregister) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	reg, ok := rl.registrations[m.Registration]
	if !ok || reg.callee != s {
		s.replyError(wamp.MessageTypeUnregister, m.Request, wamp.URINoSuchRegistration)
		return
	}
	delete(rl.registrations, reg.id)
	delete(rl.procedures, reg.procedure)
	delete(s.registrations, reg.id)
	s.out.push(&wamp.Unregistered{Request: m.Request})
}

func (rl *realm) call(s *session, m *wamp.Call) {
	if !wamp.ValidURI(m.Procedure) {
		s.replyError(wamp.MessageTypeCall, m.Request, wamp.URIInvalidURI)
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	reg, ok := rl.procedures[m.Procedure]
	if !ok {
		s.replyError(wamp.MessageTypeCall, m.Request, wamp.URINoSuchProcedure)
		return
	}
	inv := &invocation{
		id:      nextID(&rl.lastInvocation, rl.invocations),
		caller:  s,
		request: m.Request,
		callee:  reg.callee,
	}
	rl.invocations[inv.id] = inv

	details := wamp.Dict{wamp.DetailProcedure: m.Procedure}
	if m.Options.Bool(wamp.OptDiscloseMe, false) {
		details[wamp.DetailCaller] = s.id
	}
	reg.callee.out.push(&wamp.Invocation{
		Request:      inv.id,
		Registration: reg.id,
		Details:      details,
		Arguments:    m.Arguments,
		ArgumentsKw:  m.ArgumentsKw,
	})
}

// claim removes the invocation answered by s. Replies for unknown
// invocations, or from a session that is not the callee, are ignored.
func (rl *realm) claim(s *session, request wamp.ID) *invocation {
	inv, ok := rl.invocations[request]
	if !ok || inv.callee != s {
		s.log.DebugContext(s.ctx, "router.invocation.unknown", slog.Uint64("request", uint64(request)))
		return nil
	}
	delete(rl.invocations, request)
	return inv
}

func (rl *realm) yield(s *session, m *wamp.Yield) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	inv := rl.claim(s, m.Request)
	if inv == nil {
		return
	}
	inv.caller.out.push(&wamp.Result{
		Request:     inv.request,
		Details:     wamp.Dict{},
		Arguments:   m.Arguments,
		ArgumentsKw: m.ArgumentsKw,
	})
}

func (rl *realm) invocationError(s *session, m *wamp.Error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	inv := rl.claim(s, m.Request)
	if inv == nil {
		return
	}
	inv.caller.push(&wamp.Error{
		RequestType: wamp.MessageTypeCall,
		Request:     inv.request,
		Details:     wamp.Dict{},
		Error:       m.Error,
		Arguments:   m.Arguments,
		ArgumentsKw: m.ArgumentsKw,
	})
}

func (rl *realm) subscribe(s *session, m *wamp.Subscribe) {
	if !wamp.ValidURI(m.Topic) {
		s.replyError(wamp.MessageTypeSubscribe, m.Request, wamp.URIInvalidURI)
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	sub := &subscription{
		id:         nextID(&rl.lastSubscription, rl.subscriptions),
		topic:      m.Topic,
		subscriber: s,
	}
	members, ok := rl.topics[sub.topic]
	if !ok {
		members = make(map[wamp.ID]*subscription)
		rl.topics[sub.topic] = members
	}
	members[sub.id] = sub
	rl.subscriptions[sub.id] = sub
	s.subscriptions[sub.id] = sub
	s.out.push(&wamp.Subscribed{Request: m.Request, Subscription: sub.id})
}

func (rl *realm) unsubscribe(s *session, m *wamp.Unsubscribe) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	sub, ok := s.subscriptions[m.Subscription]
	if !ok {
		s.replyError(wamp.MessageTypeUnsubscribe, m.Request, wamp.URINoSuchSubscription)
		return
	}
	rl.dropSubscription(sub)
	s.out.push(&wamp.Unsubscribed{Request: m.Request})
}

// dropSubscription unlinks sub everywhere and prunes its topic once empty.
// It must be called with rl.mu held.
func (rl *realm) dropSubscription(sub *subscription) {
	delete(rl.subscriptions, sub.id)
	delete(sub.subscriber.subscriptions, sub.id)
	members := rl.topics[sub.topic]
	delete(members, sub.id)
	if len(members) == 0 {
		delete(rl.topics, sub.topic)
	}
}

func (rl *realm) publish(s *session, m *wamp.Publish) {
	ack := m.Options.Bool(wamp.OptAcknowledge, false)
	if !wamp.ValidURI(m.Topic) {
		if ack {
			s.replyError(wamp.MessageTypePublish, m.Request, wamp.URIInvalidURI)
		}
		return
	}

	var skip *session
	if m.Options.Bool(wamp.OptExcludeMe, rl.router.excludePublisher) {
		skip = s
	}

	rl.mu.Lock()
	pub := rl.deliver(m.Topic, m.Arguments, m.ArgumentsKw, skip)
	if ack {
		s.out.push(&wamp.Published{Request: m.Request, Publication: pub})
	}
	rl.mu.Unlock()

	rl.router.relayOut(s.ctx, rl.uri, m)
}

// deliverRelayed hands a publication from another router to local
// subscribers only.
func (rl *realm) deliverRelayed(env relay.Envelope) {
	if !wamp.ValidURI(env.Topic) {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.deliver(env.Topic, env.Arguments, env.ArgumentsKw, nil)
}

// deliver must be called with rl.mu held.
func (rl *realm) deliver(topic wamp.URI, args wamp.List, kwargs wamp.Dict, skip *session) wamp.ID {
	pub := nextID[struct{}](&rl.lastPublication, nil)
	for _, sub := range rl.topics[topic] {
		if sub.subscriber == skip {
			continue
		}
		sub.subscriber.out.push(&wamp.Event{
			Subscription: sub.id,
			Publication:  pub,
			Details:      wamp.Dict{},
			Arguments:    args,
			ArgumentsKw:  kwargs,
		})
	}
	return pub
}
