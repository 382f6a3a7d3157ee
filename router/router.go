package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/ggoodman/wamp-go/internal/codec"
	"github.com/ggoodman/wamp-go/relay"
	"github.com/ggoodman/wamp-go/transport"
	"github.com/ggoodman/wamp-go/wamp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	flushTimeout            = time.Second
	abortSendTimeout        = time.Second
)

var (
	// ErrRealmExists is returned by AddRealm for a realm already served.
	ErrRealmExists = errors.New("router: realm already exists")
	// ErrNoSuchRealm is returned by RemoveRealm for an unknown realm.
	ErrNoSuchRealm = errors.New("router: no such realm")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("router: closed")
)

// Router hosts realms and routes calls and publications between the
// sessions attached to them.
type Router struct {
	log              *slog.Logger
	nodeID           string
	autoCreate       bool
	excludePublisher bool
	handshakeTimeout time.Duration
	registerer       prometheus.Registerer
	relay            relay.Relay
	metrics          *metrics

	done chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	realms     map[wamp.URI]*realm
	sessionIDs map[wamp.ID]struct{}
}

// New constructs a Router with no realms.
func New(opts ...Option) *Router {
	r := &Router{
		log:              slog.Default(),
		nodeID:           uuid.NewString(),
		handshakeTimeout: defaultHandshakeTimeout,
		done:             make(chan struct{}),
		realms:           make(map[wamp.URI]*realm),
		sessionIDs:       make(map[wamp.ID]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.metrics = newMetrics(r.registerer)
	return r
}

// NodeID identifies this router on the relay.
func (r *Router) NodeID() string { return r.nodeID }

// AddRealm starts serving uri.
func (r *Router) AddRealm(uri wamp.URI) error {
	if !wamp.ValidURI(uri) {
		return fmt.Errorf("router: invalid realm %q", uri)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.realms[uri]; ok {
		return ErrRealmExists
	}
	r.realms[uri] = newRealm(r, uri)
	r.log.Info("router.realm.add", slog.String("realm", string(uri)))
	return nil
}

// RemoveRealm stops serving uri. Attached sessions are sent GOODBYE with
// wamp.close.system_shutdown and detached.
func (r *Router) RemoveRealm(uri wamp.URI) error {
	r.mu.Lock()
	rl, ok := r.realms[uri]
	if ok {
		delete(r.realms, uri)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNoSuchRealm
	}
	rl.shutdown()
	r.log.Info("router.realm.remove", slog.String("realm", string(uri)))
	return nil
}

// Realms lists the served realms in lexical order.
func (r *Router) Realms() []wamp.URI {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wamp.URI, 0, len(r.realms))
	for uri := range r.realms {
		out = append(out, uri)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close shuts every realm down and waits for attached sessions to detach.
// Subsequent Serve calls fail with ErrClosed.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	realms := r.realms
	r.realms = make(map[wamp.URI]*realm)
	r.mu.Unlock()

	for _, rl := range realms {
		rl.shutdown()
	}
	r.wg.Wait()
	return nil
}

// Serve runs one peer connection: the HELLO/WELCOME handshake followed by
// message routing until the session ends. The adapter is closed on return.
func (r *Router) Serve(ctx context.Context, conn transport.Adapter) error {
	defer conn.Close()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	sess, err := r.handshake(ctx, conn)
	if err != nil {
		return err
	}
	return sess.run(ctx)
}

func (r *Router) handshake(ctx context.Context, conn transport.Adapter) (*session, error) {
	hctx, cancel := context.WithTimeout(ctx, r.handshakeTimeout)
	defer cancel()

	var frame []byte
	select {
	case f, ok := <-conn.Receive():
		if !ok {
			return nil, fmt.Errorf("await HELLO: %w", transport.ErrTransportClosed)
		}
		frame = f
	case <-r.done:
		return nil, ErrClosed
	case <-hctx.Done():
		return nil, fmt.Errorf("await HELLO: %w", hctx.Err())
	}

	msg, err := codec.Decode(frame)
	if err != nil {
		r.abort(ctx, conn, "", wamp.URIProtocolViolation, err.Error())
		return nil, err
	}
	hello, ok := msg.(*wamp.Hello)
	if !ok {
		r.abort(ctx, conn, "", wamp.URIProtocolViolation, "expected HELLO, got "+msg.MessageType().String())
		return nil, fmt.Errorf("expected HELLO, got %s", msg.MessageType())
	}

	rl, err := r.realmFor(hello.Realm)
	if err != nil {
		r.abort(ctx, conn, hello.Realm, wamp.URINoSuchRealm, "no such realm: "+string(hello.Realm))
		return nil, err
	}

	sess := newSession(ctx, r.allocSessionID(), rl, conn, r.log)
	welcome := &wamp.Welcome{
		Session: sess.id,
		Details: wamp.Dict{wamp.DetailRoles: wamp.Dict{
			wamp.RoleBroker: wamp.Dict{},
			wamp.RoleDealer: wamp.Dict{},
		}},
	}
	if !rl.join(sess, welcome) {
		r.releaseSessionID(sess.id)
		r.abort(ctx, conn, hello.Realm, wamp.URINoSuchRealm, "realm is shutting down")
		return nil, ErrNoSuchRealm
	}
	r.log.InfoContext(sess.ctx, "router.session.join")
	return sess, nil
}

// abort sends ABORT directly on a connection that has no session yet.
func (r *Router) abort(ctx context.Context, conn transport.Adapter, realm, reason wamp.URI, message string) {
	r.metrics.error(realm, reason)
	r.log.InfoContext(ctx, "router.handshake.abort", slog.String("realm", string(realm)), slog.String("reason", string(reason)), slog.String("message", message))
	frame, err := codec.Encode(&wamp.Abort{Details: wamp.Dict{"message": message}, Reason: reason})
	if err != nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortSendTimeout)
	defer cancel()
	_ = conn.Send(sctx, frame)
}

func (r *Router) realmFor(uri wamp.URI) (*realm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if rl, ok := r.realms[uri]; ok {
		return rl, nil
	}
	if r.autoCreate && wamp.ValidURI(uri) {
		rl := newRealm(r, uri)
		r.realms[uri] = rl
		r.log.Info("router.realm.auto_create", slog.String("realm", string(uri)))
		return rl, nil
	}
	return nil, ErrNoSuchRealm
}

func (r *Router) lookupRealm(uri wamp.URI) *realm {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.realms[uri]
}

// allocSessionID picks a random id in [1, 2^53] not used by any live
// session of this router.
func (r *Router) allocSessionID() wamp.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id := wamp.ID(rand.Uint64N(uint64(wamp.MaxID))) + 1
		if _, taken := r.sessionIDs[id]; !taken {
			r.sessionIDs[id] = struct{}{}
			return id
		}
	}
}

func (r *Router) releaseSessionID(id wamp.ID) {
	r.mu.Lock()
	delete(r.sessionIDs, id)
	r.mu.Unlock()
}

// Run consumes publications relayed from other routers and delivers them
// to local subscribers. Without a relay it returns nil immediately.
func (r *Router) Run(ctx context.Context) error {
	if r.relay == nil {
		return nil
	}
	return r.relay.Subscribe(ctx, func(ctx context.Context, env relay.Envelope) error {
		if env.Origin == r.nodeID {
			return nil
		}
		rl := r.lookupRealm(env.Realm)
		if rl == nil {
			return nil
		}
		r.metrics.relay(env.Realm, "in")
		rl.deliverRelayed(env)
		return nil
	})
}

func (r *Router) relayOut(ctx context.Context, realm wamp.URI, m *wamp.Publish) {
	if r.relay == nil {
		return
	}
	env := relay.Envelope{
		Origin:      r.nodeID,
		Realm:       realm,
		Topic:       m.Topic,
		Arguments:   m.Arguments,
		ArgumentsKw: m.ArgumentsKw,
	}
	if err := r.relay.Publish(ctx, env); err != nil {
		r.log.WarnContext(ctx, "router.relay.publish.fail", slog.String("topic", string(m.Topic)), slog.String("err", err.Error()))
		return
	}
	r.metrics.relay(realm, "out")
}
