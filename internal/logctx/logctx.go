package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with whatever connection, session and message
// data the context carries.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("remote_addr", cd.RemoteAddr),
			slog.String("path", cd.Path),
			slog.String("user_agent", cd.UserAgent),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.Uint64("id", sd.SessionID),
			slog.String("realm", sd.Realm),
		))
	}

	if msg, ok := ctx.Value(messageKey{}).(*Message); ok {
		r.AddAttrs(slog.Group("wamp",
			slog.String("type", msg.Type),
			slog.Uint64("request", msg.Request),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type connDataKey struct{}

type ConnData struct {
	RemoteAddr string
	Path       string
	UserAgent  string
}

func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID uint64
	Realm     string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type messageKey struct{}

type Message struct {
	Type    string
	Request uint64
}

func WithMessage(ctx context.Context, msg *Message) context.Context {
	return context.WithValue(ctx, messageKey{}, msg)
}
