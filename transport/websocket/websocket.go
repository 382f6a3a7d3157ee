// Package websocket implements transport.Adapter over a WebSocket connection
// carrying the wamp.2.json subprotocol. WebSocket already provides message
// boundaries, so each text message is exactly one frame.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ggoodman/wamp-go/internal/codec"
	"github.com/ggoodman/wamp-go/internal/logctx"
	"github.com/ggoodman/wamp-go/transport"
	"nhooyr.io/websocket"
)

const (
	defaultReadLimit  = 16 << 20
	defaultQueueSize  = 256
	closeFlushTimeout = time.Second
)

// Adapter implements transport.Adapter over a *websocket.Conn. Outbound
// frames are queued and written by a dedicated goroutine; Close drains the
// queue first so a final GOODBYE or ABORT reaches the peer.
type Adapter struct {
	conn       *websocket.Conn
	incoming   chan []byte
	outgoing   chan []byte
	disconnect chan transport.DisconnectEvent

	closing   chan struct{}
	writeDone chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	eventOnce sync.Once
}

// New wraps an established connection and starts its read and write loops.
func New(conn *websocket.Conn) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan []byte, defaultQueueSize),
		outgoing:   make(chan []byte, defaultQueueSize),
		disconnect: make(chan transport.DisconnectEvent, 1),
		closing:    make(chan struct{}),
		writeDone:  make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	go a.readLoop()
	go a.writeLoop()
	return a
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	select {
	case <-a.closing:
		return transport.ErrTransportClosed
	default:
	}
	select {
	case a.outgoing <- frame:
		return nil
	case <-a.closing:
		return transport.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) Receive() <-chan []byte { return a.incoming }

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent { return a.disconnect }

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closing)
		select {
		case <-a.writeDone:
		case <-time.After(closeFlushTimeout):
		}
		a.cancel()
		err = a.conn.Close(websocket.StatusNormalClosure, "closed")
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		typ, data, err := a.conn.Read(a.ctx)
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		if typ != websocket.MessageText {
			a.signalDisconnect(fmt.Errorf("unexpected websocket message type %v", typ))
			return
		}
		select {
		case a.incoming <- data:
		case <-a.ctx.Done():
			a.signalDisconnect(a.ctx.Err())
			return
		}
	}
}

func (a *Adapter) writeLoop() {
	err := a.writeFrames()
	close(a.writeDone)
	if err != nil {
		a.signalDisconnect(err)
		a.Close()
	}
}

func (a *Adapter) writeFrames() error {
	for {
		select {
		case frame := <-a.outgoing:
			if err := a.conn.Write(a.ctx, websocket.MessageText, frame); err != nil {
				return err
			}
		case <-a.closing:
			// Drain frames queued before close. Errors are ignored since the
			// connection is going away.
			for {
				select {
				case frame := <-a.outgoing:
					_ = a.conn.Write(a.ctx, websocket.MessageText, frame)
				default:
					return nil
				}
			}
		}
	}
}

// signalDisconnect sends exactly one disconnect event. Status 1000/1001 and
// local cancellation are clean closes.
func (a *Adapter) signalDisconnect(err error) {
	a.eventOnce.Do(func() {
		event := transport.DisconnectEvent{}
		status := websocket.CloseStatus(err)
		switch {
		case status == websocket.StatusNormalClosure,
			status == websocket.StatusGoingAway,
			a.isClosing():
			event.Reason = transport.ReasonClosedClean
		default:
			event.Reason = transport.ReasonNetworkError
			event.Err = err
		}
		a.disconnect <- event
	})
}

func (a *Adapter) isClosing() bool {
	select {
	case <-a.closing:
		return true
	default:
		return false
	}
}

// Dialer connects to a WAMP router over WebSocket.
type Dialer struct {
	// HTTPHeader is sent with the upgrade request.
	HTTPHeader http.Header
	// ReadLimit caps inbound message size. Defaults to 16 MiB.
	ReadLimit int64
}

func (d Dialer) Dial(ctx context.Context, address string) (transport.Adapter, error) {
	conn, _, err := websocket.Dial(ctx, address, &websocket.DialOptions{
		HTTPHeader:   d.HTTPHeader,
		Subprotocols: []string{codec.Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", address, err)
	}
	if conn.Subprotocol() != codec.Subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return nil, fmt.Errorf("websocket dial %s: server did not accept %s", address, codec.Subprotocol)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)
	return New(conn), nil
}

// ServeFunc runs one accepted connection until it ends.
type ServeFunc func(ctx context.Context, a transport.Adapter) error

// Handler accepts WebSocket upgrades and hands each connection to a
// ServeFunc, typically a router's Serve method.
type Handler struct {
	serve ServeFunc
	log   *slog.Logger

	readLimit      int64
	originPatterns []string
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithReadLimit caps inbound message size.
func WithReadLimit(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithOriginPatterns allows cross-origin upgrades from matching hosts.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) { h.originPatterns = append(h.originPatterns, patterns...) }
}

// NewHandler constructs a Handler.
func NewHandler(serve ServeFunc, opts ...HandlerOption) *Handler {
	h := &Handler{
		serve:     serve,
		log:       slog.Default(),
		readLimit: defaultReadLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{codec.Subprotocol},
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.InfoContext(r.Context(), "websocket.accept.fail", slog.String("err", err.Error()), slog.String("remote_addr", r.RemoteAddr))
		return
	}
	if conn.Subprotocol() != codec.Subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "client must speak "+codec.Subprotocol)
		return
	}
	conn.SetReadLimit(h.readLimit)

	a := New(conn)
	defer a.Close()

	ctx := logctx.WithConnData(r.Context(), &logctx.ConnData{
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
		UserAgent:  r.UserAgent(),
	})
	if err := h.serve(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
		h.log.InfoContext(ctx, "websocket.serve.end", slog.String("err", err.Error()))
	}
}

var (
	_ transport.Adapter = (*Adapter)(nil)
	_ transport.Dialer  = Dialer{}
	_ http.Handler      = (*Handler)(nil)
)
