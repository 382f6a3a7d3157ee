package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/wamp-go/internal/codec"
	"github.com/ggoodman/wamp-go/internal/logctx"
	"github.com/ggoodman/wamp-go/transport"
	"github.com/ggoodman/wamp-go/wamp"
)

// session is a peer attached to a realm. Its registrations and
// subscriptions are guarded by the realm lock.
type session struct {
	id    wamp.ID
	realm *realm
	conn  transport.Adapter
	log   *slog.Logger
	ctx   context.Context
	out   *outbox

	kick     chan struct{}
	kickOnce sync.Once

	registrations map[wamp.ID]*registration
	subscriptions map[wamp.ID]*subscription
}

func newSession(ctx context.Context, id wamp.ID, rl *realm, conn transport.Adapter, log *slog.Logger) *session {
	return &session{
		id:            id,
		realm:         rl,
		conn:          conn,
		log:           log,
		ctx:           logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: uint64(id), Realm: string(rl.uri)}),
		out:           newOutbox(),
		kick:          make(chan struct{}),
		registrations: make(map[wamp.ID]*registration),
		subscriptions: make(map[wamp.ID]*subscription),
	}
}

func (s *session) push(msg wamp.Message) {
	if e, ok := msg.(*wamp.Error); ok {
		s.realm.router.metrics.error(s.realm.uri, e.Error)
	}
	s.out.push(msg)
}

func (s *session) replyError(requestType wamp.MessageType, request wamp.ID, uri wamp.URI) {
	s.push(&wamp.Error{RequestType: requestType, Request: request, Details: wamp.Dict{}, Error: uri})
}

func (s *session) abort(reason wamp.URI, message string) {
	s.realm.router.metrics.error(s.realm.uri, reason)
	s.out.push(&wamp.Abort{Details: wamp.Dict{"message": message}, Reason: reason})
}

// detach asks run to end the session.
func (s *session) detach() {
	s.kickOnce.Do(func() { close(s.kick) })
}

// run routes inbound messages until the peer leaves, the transport drops,
// the realm shuts down or ctx is done.
func (s *session) run(ctx context.Context) error {
	writeCtx, cancelWrite := context.WithCancel(context.WithoutCancel(s.ctx))
	defer cancelWrite()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.write(writeCtx)
	}()

	defer func() {
		s.realm.leave(s)
		s.out.close()
		select {
		case <-writerDone:
		case <-time.After(flushTimeout):
			cancelWrite()
			<-writerDone
		}
		s.log.InfoContext(s.ctx, "router.session.leave")
	}()

	for {
		select {
		case frame, ok := <-s.conn.Receive():
			if !ok {
				return nil
			}
			msg, err := codec.Decode(frame)
			if err != nil {
				s.log.WarnContext(s.ctx, "router.protocol_violation", slog.String("err", err.Error()))
				s.abort(wamp.URIProtocolViolation, err.Error())
				return err
			}
			if end := s.realm.handle(s, msg); end {
				return nil
			}
		case <-s.kick:
			return nil
		case <-ctx.Done():
			s.out.push(&wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.URISystemShutdown})
			return ctx.Err()
		}
	}
}

// write drains the outbox to the transport in order. A failed send ends the
// session.
func (s *session) write(ctx context.Context) {
	for {
		batch, ok := s.out.take()
		if !ok {
			return
		}
		for _, msg := range batch {
			frame, err := codec.Encode(msg)
			if err != nil {
				s.log.ErrorContext(s.ctx, "router.encode.fail", slog.String("type", msg.MessageType().String()), slog.String("err", err.Error()))
				continue
			}
			if err := s.conn.Send(ctx, frame); err != nil {
				s.log.DebugContext(s.ctx, "router.send.fail", slog.String("err", err.Error()))
				s.detach()
				return
			}
		}
	}
}
