package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("component", "router")

	ctx := WithConnData(context.Background(), &ConnData{RemoteAddr: "10.0.0.1:5555", Path: "/ws1"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: 42, Realm: "realm1"})
	ctx = WithMessage(ctx, &Message{Type: "CALL", Request: 7})
	log.InfoContext(ctx, "router.call")

	var rec struct {
		Msg       string `json:"msg"`
		Component string `json:"component"`
		Conn      struct {
			RemoteAddr string `json:"remote_addr"`
			Path       string `json:"path"`
		} `json:"conn"`
		Sess struct {
			ID    uint64 `json:"id"`
			Realm string `json:"realm"`
		} `json:"sess"`
		Wamp struct {
			Type    string `json:"type"`
			Request uint64 `json:"request"`
		} `json:"wamp"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal %s: %v", buf.Bytes(), err)
	}
	if rec.Component != "router" {
		t.Fatalf("WithAttrs dropped the wrapper: %s", buf.Bytes())
	}
	if rec.Conn.RemoteAddr != "10.0.0.1:5555" || rec.Conn.Path != "/ws1" {
		t.Fatalf("conn group = %+v", rec.Conn)
	}
	if rec.Sess.ID != 42 || rec.Sess.Realm != "realm1" {
		t.Fatalf("sess group = %+v", rec.Sess)
	}
	if rec.Wamp.Type != "CALL" || rec.Wamp.Request != 7 {
		t.Fatalf("wamp group = %+v", rec.Wamp)
	}
	if rec.Msg != "router.call" {
		t.Fatalf("record message = %q", rec.Msg)
	}
}

func TestHandlerWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})
	log.Info("router.realm.add")

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"conn", "sess", "wamp"} {
		if _, ok := raw[k]; ok {
			t.Fatalf("unexpected %s group in %s", k, buf.Bytes())
		}
	}
}
