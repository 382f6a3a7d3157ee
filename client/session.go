package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/wamp-go/internal/codec"
	"github.com/ggoodman/wamp-go/internal/logctx"
	"github.com/ggoodman/wamp-go/transport"
	"github.com/ggoodman/wamp-go/wamp"
)

// request is one outstanding intent awaiting its correlated reply. Whoever
// removes it from the pending table resolves it, which makes resolution
// exactly-once.
type request struct {
	id      wamp.ID
	kind    wamp.MessageType
	done    chan struct{}
	reply   wamp.Message
	err     error
	timer   *time.Timer
	onReply func(wamp.Message)
}

func (r *request) resolve(reply wamp.Message, err error) {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.reply, r.err = reply, err
	close(r.done)
}

// session is the state of exactly one connection. A fresh session is built
// for every WELCOME so ids, pending requests and handles never leak across
// reconnects.
type session struct {
	id   wamp.ID
	conn transport.Adapter
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events *eventQueue

	onClosing func()
	closeOnce sync.Once

	mu            sync.Mutex
	closed        bool
	nextID        wamp.ID
	pending       map[wamp.ID]*request
	registrations map[wamp.ID]*Registration
	subscriptions map[wamp.ID]*Subscription
}

func newSession(id wamp.ID, realm wamp.URI, conn transport.Adapter, log *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: uint64(id), Realm: string(realm)})
	return &session{
		id:            id,
		conn:          conn,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		events:        newEventQueue(),
		pending:       make(map[wamp.ID]*request),
		registrations: make(map[wamp.ID]*Registration),
		subscriptions: make(map[wamp.ID]*Subscription),
	}
}

// allocID must be called with s.mu held.
func (s *session) allocID() wamp.ID {
	for {
		s.nextID++
		if s.nextID > wamp.MaxID {
			s.nextID = 1
		}
		if _, busy := s.pending[s.nextID]; !busy {
			return s.nextID
		}
	}
}

func (s *session) send(ctx context.Context, msg wamp.Message) error {
	frame, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.conn.Send(ctx, frame); err != nil {
		if errors.Is(err, transport.ErrTransportClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// request registers a pending entry, then emits the message built for the
// allocated id. The entry exists before the message leaves so the reply can
// never outrun it.
func (s *session) request(ctx context.Context, kind wamp.MessageType, timeout time.Duration, build func(wamp.ID) wamp.Message, onReply func(wamp.Message)) (*request, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	req := &request{
		id:      s.allocID(),
		kind:    kind,
		done:    make(chan struct{}),
		onReply: onReply,
	}
	s.pending[req.id] = req
	if timeout > 0 {
		id := req.id
		req.timer = time.AfterFunc(timeout, func() {
			if r := s.take(id, kind); r != nil {
				r.resolve(nil, ErrTimeout)
			}
		})
	}
	s.mu.Unlock()

	if err := s.send(ctx, build(req.id)); err != nil {
		if r := s.take(req.id, kind); r != nil {
			r.resolve(nil, err)
		}
		return nil, err
	}
	return req, nil
}

// take removes the pending entry for id if it is of the expected kind.
func (s *session) take(id wamp.ID, kind wamp.MessageType) *request {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[id]
	if !ok || req.kind != kind {
		return nil
	}
	delete(s.pending, id)
	return req
}

// cancelRequest resolves req with ErrCanceled unless a reply already won.
func (s *session) cancelRequest(req *request) bool {
	if r := s.take(req.id, req.kind); r != nil {
		r.resolve(nil, ErrCanceled)
		return true
	}
	return false
}

// await blocks for req. Context cancellation resolves the request locally
// with ErrCanceled; a reply racing the cancellation still wins if it got
// there first.
func (s *session) await(ctx context.Context, req *request) (wamp.Message, error) {
	select {
	case <-req.done:
		return req.reply, req.err
	case <-ctx.Done():
		if s.cancelRequest(req) {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		<-req.done
		return req.reply, req.err
	}
}

func (s *session) deliver(id wamp.ID, kind wamp.MessageType, reply wamp.Message, err error) {
	req := s.take(id, kind)
	if req == nil {
		s.log.DebugContext(s.ctx, "client.reply.unmatched", slog.String("type", reply.MessageType().String()), slog.Uint64("request", uint64(id)))
		s.releaseOrphan(reply)
		return
	}
	if err == nil && req.onReply != nil {
		req.onReply(reply)
	}
	req.resolve(reply, err)
}

// releaseOrphan undoes a registration or subscription whose local intent was
// canceled before the router confirmed it. Nobody holds a handle for it, so
// it would otherwise stay claimed until the session ends.
func (s *session) releaseOrphan(reply wamp.Message) {
	var msg wamp.Message
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch m := reply.(type) {
	case *wamp.Registered:
		msg = &wamp.Unregister{Request: s.allocID(), Registration: m.Registration}
	case *wamp.Subscribed:
		msg = &wamp.Unsubscribe{Request: s.allocID(), Subscription: m.Subscription}
	}
	s.mu.Unlock()
	if msg == nil {
		return
	}
	if err := s.send(s.ctx, msg); err != nil {
		s.log.DebugContext(s.ctx, "client.orphan.release_failed", slog.String("err", err.Error()))
	}
}

// serve runs the receive loop until the session ends. It returns the cause
// of the end; nil means the local side closed it.
func (s *session) serve(stop <-chan struct{}, goodbyeTimeout time.Duration) error {
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.dispatchEvents()
	}()
	defer func() {
		s.events.close()
		<-dispatchDone
	}()

	for {
		select {
		case frame, ok := <-s.conn.Receive():
			if !ok {
				return s.teardown(s.transportCause())
			}
			msg, err := codec.Decode(frame)
			if err != nil {
				s.log.WarnContext(s.ctx, "client.decode.fail", slog.String("err", err.Error()))
				s.abort(wamp.URIProtocolViolation, err.Error())
				return s.teardown(err)
			}
			if end, cause := s.handle(msg); end {
				return s.teardown(cause)
			}
		case <-stop:
			s.beginClose()
			s.goodbye(goodbyeTimeout)
			return s.teardown(nil)
		}
	}
}

func (s *session) transportCause() error {
	select {
	case ev := <-s.conn.Disconnected():
		if ev.Err != nil {
			return fmt.Errorf("%w: %w", ErrSessionClosed, ev.Err)
		}
	default:
	}
	return ErrSessionClosed
}

// handle routes one inbound message. It reports whether the session ended
// and why.
func (s *session) handle(msg wamp.Message) (bool, error) {
	switch m := msg.(type) {
	case *wamp.Result:
		s.deliver(m.Request, wamp.MessageTypeCall, m, nil)
	case *wamp.Error:
		s.deliver(m.Request, m.RequestType, m, &wamp.ApplicationError{URI: m.Error, Arguments: m.Arguments, ArgumentsKw: m.ArgumentsKw})
	case *wamp.Registered:
		s.deliver(m.Request, wamp.MessageTypeRegister, m, nil)
	case *wamp.Unregistered:
		s.deliver(m.Request, wamp.MessageTypeUnregister, m, nil)
	case *wamp.Subscribed:
		s.deliver(m.Request, wamp.MessageTypeSubscribe, m, nil)
	case *wamp.Unsubscribed:
		s.deliver(m.Request, wamp.MessageTypeUnsubscribe, m, nil)
	case *wamp.Published:
		// Publications are fire-and-forget locally; acknowledgements are dropped.
	case *wamp.Invocation:
		s.handleInvocation(m)
	case *wamp.Event:
		s.handleEvent(m)
	case *wamp.Goodbye:
		_ = s.send(context.Background(), &wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.URIGoodbyeAndOut})
		return true, &wamp.ApplicationError{URI: m.Reason}
	case *wamp.Abort:
		return true, &wamp.ApplicationError{URI: m.Reason, ArgumentsKw: m.Details}
	default:
		s.log.WarnContext(s.ctx, "client.protocol_violation", slog.String("type", msg.MessageType().String()))
		s.abort(wamp.URIProtocolViolation, fmt.Sprintf("unexpected %s in established session", msg.MessageType()))
		return true, &wamp.ApplicationError{URI: wamp.URIProtocolViolation}
	}
	return false, nil
}

func (s *session) handleInvocation(m *wamp.Invocation) {
	s.mu.Lock()
	reg := s.registrations[m.Registration]
	s.mu.Unlock()
	if reg == nil {
		s.log.DebugContext(s.ctx, "client.invocation.unknown_registration", slog.Uint64("registration", uint64(m.Registration)))
		_ = s.send(s.ctx, &wamp.Error{
			RequestType: wamp.MessageTypeInvocation,
			Request:     m.Request,
			Details:     wamp.Dict{},
			Error:       wamp.URINoSuchRegistration,
		})
		return
	}
	go s.invoke(reg, m)
}

func (s *session) invoke(reg *Registration, m *wamp.Invocation) {
	ctx := logctx.WithMessage(s.ctx, &logctx.Message{Type: wamp.MessageTypeInvocation.String(), Request: uint64(m.Request)})
	inv := &Invocation{
		Procedure:    reg.procedure,
		Registration: reg.id,
		Arguments:    m.Arguments,
		ArgumentsKw:  m.ArgumentsKw,
		Details:      m.Details,
	}

	var out wamp.Message
	res, err := reg.handler(ctx, inv)
	if err != nil {
		var appErr *wamp.ApplicationError
		if !errors.As(err, &appErr) {
			s.log.InfoContext(ctx, "client.invocation.fail", slog.String("procedure", string(reg.procedure)), slog.String("err", err.Error()))
			appErr = &wamp.ApplicationError{URI: wamp.URIRuntimeError, Arguments: wamp.List{err.Error()}}
		}
		out = &wamp.Error{
			RequestType: wamp.MessageTypeInvocation,
			Request:     m.Request,
			Details:     wamp.Dict{},
			Error:       appErr.URI,
			Arguments:   appErr.Arguments,
			ArgumentsKw: appErr.ArgumentsKw,
		}
	} else {
		y := &wamp.Yield{Request: m.Request, Options: wamp.Dict{}}
		if res != nil {
			y.Arguments, y.ArgumentsKw = res.Arguments, res.ArgumentsKw
		}
		out = y
	}
	if err := s.send(ctx, out); err != nil {
		s.log.DebugContext(ctx, "client.invocation.reply_dropped", slog.String("err", err.Error()))
	}
}

func (s *session) handleEvent(m *wamp.Event) {
	s.mu.Lock()
	sub := s.subscriptions[m.Subscription]
	s.mu.Unlock()
	if sub == nil {
		s.log.DebugContext(s.ctx, "client.event.unknown_subscription", slog.Uint64("subscription", uint64(m.Subscription)))
		return
	}
	ev := &Event{
		Topic:        sub.topic,
		Subscription: sub.id,
		Publication:  m.Publication,
		Arguments:    m.Arguments,
		ArgumentsKw:  m.ArgumentsKw,
		Details:      m.Details,
	}
	s.events.push(delivery{sub: sub, ev: ev})
}

// dispatchEvents runs subscriber handlers one at a time so each subscription
// observes events in arrival order.
func (s *session) dispatchEvents() {
	for {
		batch, ok := s.events.take()
		if !ok {
			return
		}
		for _, d := range batch {
			if !d.sub.Active() {
				continue
			}
			d.sub.handler(s.ctx, d.ev)
		}
	}
}

func (s *session) abort(reason wamp.URI, message string) {
	_ = s.send(context.Background(), &wamp.Abort{Details: wamp.Dict{"message": message}, Reason: reason})
}

// goodbye sends GOODBYE and waits for the router's reply, the transport to
// drop, or the timeout. Anything else arriving meanwhile is discarded.
func (s *session) goodbye(timeout time.Duration) {
	if err := s.send(context.Background(), &wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.URICloseRealm}); err != nil {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case frame, ok := <-s.conn.Receive():
			if !ok {
				return
			}
			msg, err := codec.Decode(frame)
			if err != nil {
				return
			}
			if _, ok := msg.(*wamp.Goodbye); ok {
				return
			}
		case <-timer.C:
			s.log.DebugContext(s.ctx, "client.goodbye.timeout")
			return
		}
	}
}

func (s *session) beginClose() {
	s.closeOnce.Do(func() {
		if s.onClosing != nil {
			s.onClosing()
		}
	})
}

// teardown fails every pending request with ErrSessionClosed, invalidates
// handles and releases the transport.
func (s *session) teardown(cause error) error {
	s.beginClose()
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[wamp.ID]*request)
	for _, reg := range s.registrations {
		reg.deactivate()
	}
	for _, sub := range s.subscriptions {
		sub.deactivate()
	}
	s.registrations = make(map[wamp.ID]*Registration)
	s.subscriptions = make(map[wamp.ID]*Subscription)
	s.mu.Unlock()

	for _, req := range pending {
		req.resolve(nil, ErrSessionClosed)
	}
	s.cancel()
	_ = s.conn.Close()
	return cause
}
