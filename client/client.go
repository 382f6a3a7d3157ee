package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/wamp-go/internal/codec"
	"github.com/ggoodman/wamp-go/transport"
	"github.com/ggoodman/wamp-go/wamp"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultGoodbyeTimeout   = 2 * time.Second
)

// Client is a WAMP peer acting as caller, callee, publisher and subscriber
// on a single realm.
type Client struct {
	dialer  transport.Dialer
	address string
	realm   wamp.URI
	log     *slog.Logger

	callTimeout      time.Duration
	handshakeTimeout time.Duration
	goodbyeTimeout   time.Duration
	reconnect        ReconnectPolicy

	status *statusFeed

	mu   sync.Mutex
	sess *session
	sup  *supervisor
}

// New constructs a Client. Nothing is dialed until Open.
func New(dialer transport.Dialer, address string, realm wamp.URI, opts ...Option) *Client {
	c := &Client{
		dialer:           dialer,
		address:          address,
		realm:            realm,
		log:              slog.Default(),
		handshakeTimeout: defaultHandshakeTimeout,
		goodbyeTimeout:   defaultGoodbyeTimeout,
		status:           newStatusFeed(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Open starts connecting in the background. Progress is reported through
// StatusChanges.
func (c *Client) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup != nil {
		return ErrAlreadyOpen
	}
	c.sup = newSupervisor(c)
	go c.sup.run()
	return nil
}

// Close ends the current session with GOODBYE, cancels any pending
// reconnect and waits until the client is Disconnected. Pending requests
// fail with ErrSessionClosed. The client may be opened again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	sup := c.sup
	c.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.shutdown()
	<-sup.done
	return nil
}

// Status returns the current connection status.
func (c *Client) Status() Status { return c.status.load().Status }

// SessionID returns the router-assigned id of the current session, or 0.
func (c *Client) SessionID() wamp.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return c.sess.id
}

// StatusChanges streams status transitions until ctx is done, starting with
// the current status.
func (c *Client) StatusChanges(ctx context.Context) <-chan StatusEvent {
	return c.status.subscribe(ctx)
}

func (c *Client) setStatus(ev StatusEvent) {
	attrs := []any{slog.String("status", ev.Status.String())}
	if ev.SessionID != 0 {
		attrs = append(attrs, slog.Uint64("session", uint64(ev.SessionID)))
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("err", ev.Err.Error()))
	}
	c.log.Debug("client.status", attrs...)
	c.status.publish(ev)
}

// runSession dials, handshakes and serves one session. It reports whether a
// WELCOME was received and why the session ended.
func (c *Client) runSession(stop <-chan struct{}) (bool, error) {
	c.setStatus(StatusEvent{Status: StatusConnecting})

	ctx, cancel := context.WithTimeout(context.Background(), c.handshakeTimeout)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := c.dialer.Dial(ctx, c.address)
	if err != nil {
		err = fmt.Errorf("%w: dial %s: %w", ErrHandshakeFailed, c.address, err)
		c.setStatus(StatusEvent{Status: StatusDisconnected, Err: err})
		return false, err
	}

	c.setStatus(StatusEvent{Status: StatusHandshaking})
	sess, err := c.handshake(ctx, conn)
	cancel()
	if err != nil {
		_ = conn.Close()
		c.log.Info("client.handshake.fail", slog.String("realm", string(c.realm)), slog.String("err", err.Error()))
		c.setStatus(StatusEvent{Status: StatusDisconnected, Err: err})
		return false, err
	}
	sess.onClosing = func() { c.setStatus(StatusEvent{Status: StatusClosing}) }

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	c.log.Info("client.session.established", slog.Uint64("session", uint64(sess.id)), slog.String("realm", string(c.realm)))
	c.setStatus(StatusEvent{Status: StatusConnected, SessionID: sess.id})

	cause := sess.serve(stop, c.goodbyeTimeout)

	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()
	attrs := []any{slog.Uint64("session", uint64(sess.id))}
	if cause != nil {
		attrs = append(attrs, slog.String("err", cause.Error()))
	}
	c.log.Info("client.session.closed", attrs...)
	c.setStatus(StatusEvent{Status: StatusDisconnected, Err: cause})
	return true, cause
}

func (c *Client) handshake(ctx context.Context, conn transport.Adapter) (*session, error) {
	hello := &wamp.Hello{
		Realm: c.realm,
		Details: wamp.Dict{wamp.DetailRoles: wamp.Dict{
			wamp.RoleCaller:     wamp.Dict{},
			wamp.RoleCallee:     wamp.Dict{},
			wamp.RolePublisher:  wamp.Dict{},
			wamp.RoleSubscriber: wamp.Dict{},
		}},
	}
	frame, err := codec.Encode(hello)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(ctx, frame); err != nil {
		return nil, fmt.Errorf("%w: send HELLO: %w", ErrHandshakeFailed, err)
	}

	select {
	case frame, ok := <-conn.Receive():
		if !ok {
			return nil, fmt.Errorf("%w: transport closed before WELCOME", ErrHandshakeFailed)
		}
		msg, err := codec.Decode(frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		}
		switch m := msg.(type) {
		case *wamp.Welcome:
			return newSession(m.Session, c.realm, conn, c.log), nil
		case *wamp.Abort:
			return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, &wamp.ApplicationError{URI: m.Reason, ArgumentsKw: m.Details})
		default:
			if f, err := codec.Encode(&wamp.Abort{Details: wamp.Dict{}, Reason: wamp.URIProtocolViolation}); err == nil {
				_ = conn.Send(ctx, f)
			}
			return nil, fmt.Errorf("%w: unexpected %s during handshake", ErrHandshakeFailed, msg.MessageType())
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, ctx.Err())
	}
}

// finish detaches the supervisor so the client can be opened again.
func (c *Client) finish(s *supervisor) {
	c.mu.Lock()
	if c.sup == s {
		c.sup = nil
	}
	c.mu.Unlock()
}

func (c *Client) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// CallAsync issues a call and returns immediately. ctx only bounds handing
// the CALL to the transport.
func (c *Client) CallAsync(ctx context.Context, procedure wamp.URI, args wamp.List, kwargs wamp.Dict, opts ...CallOption) (*Future, error) {
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	options := wamp.Dict{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	req, err := sess.request(ctx, wamp.MessageTypeCall, c.callTimeout, func(id wamp.ID) wamp.Message {
		return &wamp.Call{Request: id, Options: options, Procedure: procedure, Arguments: args, ArgumentsKw: kwargs}
	}, nil)
	if err != nil {
		return nil, err
	}
	return &Future{req: req, sess: sess}, nil
}

// Call issues a call and waits for its result.
func (c *Client) Call(ctx context.Context, procedure wamp.URI, args wamp.List, kwargs wamp.Dict, opts ...CallOption) (*Result, error) {
	f, err := c.CallAsync(ctx, procedure, args, kwargs, opts...)
	if err != nil {
		return nil, err
	}
	return f.Await(ctx)
}

// Register offers handler under procedure. The returned handle is usable
// once Register returns; invocations may already be arriving by then.
func (c *Client) Register(ctx context.Context, procedure wamp.URI, handler InvocationHandler) (*Registration, error) {
	if handler == nil {
		return nil, errors.New("client: nil invocation handler")
	}
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	reg := &Registration{procedure: procedure, handler: handler, sess: sess}
	req, err := sess.request(ctx, wamp.MessageTypeRegister, 0, func(id wamp.ID) wamp.Message {
		return &wamp.Register{Request: id, Options: wamp.Dict{}, Procedure: procedure}
	}, func(reply wamp.Message) {
		// Runs on the receive loop before Register returns so an INVOCATION
		// following REGISTERED always finds its handler.
		reg.id = reply.(*wamp.Registered).Registration
		sess.mu.Lock()
		if !sess.closed {
			sess.registrations[reg.id] = reg
		}
		sess.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	if _, err := sess.await(ctx, req); err != nil {
		return nil, err
	}
	return reg, nil
}

// Unregister withdraws a registration. Handles from a previous session, or
// already unregistered ones, fail with wamp.ErrNoSuchRegistration without
// contacting the router.
func (c *Client) Unregister(ctx context.Context, reg *Registration) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if reg == nil || reg.sess != sess || !reg.Active() {
		return wamp.ErrNoSuchRegistration
	}
	req, err := sess.request(ctx, wamp.MessageTypeUnregister, 0, func(id wamp.ID) wamp.Message {
		return &wamp.Unregister{Request: id, Registration: reg.id}
	}, func(wamp.Message) {
		sess.mu.Lock()
		delete(sess.registrations, reg.id)
		sess.mu.Unlock()
		reg.deactivate()
	})
	if err != nil {
		return err
	}
	_, err = sess.await(ctx, req)
	return err
}

// Subscribe delivers events published to topic to handler.
func (c *Client) Subscribe(ctx context.Context, topic wamp.URI, handler EventHandler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("client: nil event handler")
	}
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	sub := &Subscription{topic: topic, handler: handler, sess: sess}
	req, err := sess.request(ctx, wamp.MessageTypeSubscribe, 0, func(id wamp.ID) wamp.Message {
		return &wamp.Subscribe{Request: id, Options: wamp.Dict{}, Topic: topic}
	}, func(reply wamp.Message) {
		sub.id = reply.(*wamp.Subscribed).Subscription
		sess.mu.Lock()
		if !sess.closed {
			sess.subscriptions[sub.id] = sub
		}
		sess.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	if _, err := sess.await(ctx, req); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe stops a subscription. Stale handles fail with
// wamp.ErrNoSuchSubscription without contacting the router.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if sub == nil || sub.sess != sess || !sub.Active() {
		return wamp.ErrNoSuchSubscription
	}
	req, err := sess.request(ctx, wamp.MessageTypeUnsubscribe, 0, func(id wamp.ID) wamp.Message {
		return &wamp.Unsubscribe{Request: id, Subscription: sub.id}
	}, func(wamp.Message) {
		sess.mu.Lock()
		delete(sess.subscriptions, sub.id)
		sess.mu.Unlock()
		sub.deactivate()
	})
	if err != nil {
		return err
	}
	_, err = sess.await(ctx, req)
	return err
}

// Publish sends an event to topic. It returns once the PUBLISH is handed to
// the transport.
func (c *Client) Publish(ctx context.Context, topic wamp.URI, args wamp.List, kwargs wamp.Dict, opts ...PublishOption) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	options := wamp.Dict{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return ErrNotConnected
	}
	id := sess.allocID()
	sess.mu.Unlock()
	return sess.send(ctx, &wamp.Publish{Request: id, Options: options, Topic: topic, Arguments: args, ArgumentsKw: kwargs})
}
