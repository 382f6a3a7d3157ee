// Package codec converts WAMP messages to and from transport frames using
// the WAMP v2 JSON serialization: every frame is a JSON array whose first
// element is the integer message code.
//
// The codec is stateless. Any decode failure is a protocol violation and
// must be treated as fatal for the connection that produced the frame.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/wamp-go/wamp"
)

// Subprotocol is the WebSocket subprotocol name for this serialization.
const Subprotocol = "wamp.2.json"

// ErrDecode is wrapped by every DecodeError.
var ErrDecode = errors.New("codec: decode failed")

// DecodeError describes a malformed frame.
type DecodeError struct {
	// Type is the message code when it could be read, otherwise zero.
	Type   wamp.MessageType
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Type == 0 {
		return "codec: " + e.Reason
	}
	return fmt.Sprintf("codec: %s: %s", e.Type, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// arity is the allowed element count (including the code) per message type.
var arity = map[wamp.MessageType][2]int{
	wamp.MessageTypeHello:        {3, 3},
	wamp.MessageTypeWelcome:      {3, 3},
	wamp.MessageTypeAbort:        {3, 3},
	wamp.MessageTypeGoodbye:      {3, 3},
	wamp.MessageTypeError:        {5, 7},
	wamp.MessageTypePublish:      {4, 6},
	wamp.MessageTypePublished:    {3, 3},
	wamp.MessageTypeSubscribe:    {4, 4},
	wamp.MessageTypeSubscribed:   {3, 3},
	wamp.MessageTypeUnsubscribe:  {3, 3},
	wamp.MessageTypeUnsubscribed: {2, 2},
	wamp.MessageTypeEvent:        {4, 6},
	wamp.MessageTypeCall:         {4, 6},
	wamp.MessageTypeResult:       {3, 5},
	wamp.MessageTypeRegister:     {4, 4},
	wamp.MessageTypeRegistered:   {3, 3},
	wamp.MessageTypeUnregister:   {3, 3},
	wamp.MessageTypeUnregistered: {2, 2},
	wamp.MessageTypeInvocation:   {4, 6},
	wamp.MessageTypeYield:        {3, 5},
}

// Encode renders msg as a single frame.
func Encode(msg wamp.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("codec: nil message")
	}
	var arr []any
	switch m := msg.(type) {
	case *wamp.Hello:
		arr = []any{m.MessageType(), m.Realm, dict(m.Details)}
	case *wamp.Welcome:
		arr = []any{m.MessageType(), m.Session, dict(m.Details)}
	case *wamp.Abort:
		arr = []any{m.MessageType(), dict(m.Details), m.Reason}
	case *wamp.Goodbye:
		arr = []any{m.MessageType(), dict(m.Details), m.Reason}
	case *wamp.Error:
		arr = withPayload([]any{m.MessageType(), m.RequestType, m.Request, dict(m.Details), m.Error}, m.Arguments, m.ArgumentsKw)
	case *wamp.Publish:
		arr = withPayload([]any{m.MessageType(), m.Request, dict(m.Options), m.Topic}, m.Arguments, m.ArgumentsKw)
	case *wamp.Published:
		arr = []any{m.MessageType(), m.Request, m.Publication}
	case *wamp.Subscribe:
		arr = []any{m.MessageType(), m.Request, dict(m.Options), m.Topic}
	case *wamp.Subscribed:
		arr = []any{m.MessageType(), m.Request, m.Subscription}
	case *wamp.Unsubscribe:
		arr = []any{m.MessageType(), m.Request, m.Subscription}
	case *wamp.Unsubscribed:
		arr = []any{m.MessageType(), m.Request}
	case *wamp.Event:
		arr = withPayload([]any{m.MessageType(), m.Subscription, m.Publication, dict(m.Details)}, m.Arguments, m.ArgumentsKw)
	case *wamp.Call:
		arr = withPayload([]any{m.MessageType(), m.Request, dict(m.Options), m.Procedure}, m.Arguments, m.ArgumentsKw)
	case *wamp.Result:
		arr = withPayload([]any{m.MessageType(), m.Request, dict(m.Details)}, m.Arguments, m.ArgumentsKw)
	case *wamp.Register:
		arr = []any{m.MessageType(), m.Request, dict(m.Options), m.Procedure}
	case *wamp.Registered:
		arr = []any{m.MessageType(), m.Request, m.Registration}
	case *wamp.Unregister:
		arr = []any{m.MessageType(), m.Request, m.Registration}
	case *wamp.Unregistered:
		arr = []any{m.MessageType(), m.Request}
	case *wamp.Invocation:
		arr = withPayload([]any{m.MessageType(), m.Request, m.Registration, dict(m.Details)}, m.Arguments, m.ArgumentsKw)
	case *wamp.Yield:
		arr = withPayload([]any{m.MessageType(), m.Request, dict(m.Options)}, m.Arguments, m.ArgumentsKw)
	default:
		return nil, fmt.Errorf("codec: unsupported message %T", msg)
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", msg.MessageType(), err)
	}
	return b, nil
}

func dict(d wamp.Dict) wamp.Dict {
	if d == nil {
		return wamp.Dict{}
	}
	return d
}

func withPayload(arr []any, args wamp.List, kwargs wamp.Dict) []any {
	if len(kwargs) > 0 {
		if args == nil {
			args = wamp.List{}
		}
		return append(arr, args, kwargs)
	}
	if len(args) > 0 {
		return append(arr, args)
	}
	return arr
}

// Decode parses one frame.
func Decode(frame []byte) (wamp.Message, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, &DecodeError{Reason: "frame is not a JSON array: " + err.Error()}
	}
	if dec.More() {
		return nil, &DecodeError{Reason: "trailing data after message"}
	}
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty message"}
	}

	code, ok := wamp.ToInt64(raw[0])
	if !ok {
		return nil, &DecodeError{Reason: "message type is not an integer"}
	}
	typ := wamp.MessageType(code)
	bounds, ok := arity[typ]
	if !ok {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message type %d", code)}
	}
	if len(raw) < bounds[0] || len(raw) > bounds[1] {
		return nil, &DecodeError{Type: typ, Reason: fmt.Sprintf("expected %d..%d elements, got %d", bounds[0], bounds[1], len(raw))}
	}

	r := &reader{typ: typ, raw: raw, pos: 1}
	msg := r.message()
	if r.err != nil {
		return nil, r.err
	}
	return msg, nil
}

// reader walks the decoded array, recording the first failure.
type reader struct {
	typ wamp.MessageType
	raw []any
	pos int
	err error
}

func (r *reader) fail(at int, what string) {
	if r.err == nil {
		r.err = &DecodeError{Type: r.typ, Reason: fmt.Sprintf("element %d: %s", at, what)}
	}
}

func (r *reader) next() (v any, at int, ok bool) {
	if r.pos >= len(r.raw) {
		return nil, r.pos, false
	}
	at = r.pos
	r.pos++
	return r.raw[at], at, true
}

func (r *reader) id() wamp.ID {
	v, at, _ := r.next()
	id, ok := wamp.ToID(v)
	if !ok {
		r.fail(at, "expected id")
	}
	return id
}

func (r *reader) uri() wamp.URI {
	v, at, _ := r.next()
	s, ok := v.(string)
	if !ok {
		r.fail(at, "expected uri")
	}
	return wamp.URI(s)
}

func (r *reader) dict() wamp.Dict {
	v, at, _ := r.next()
	m, ok := v.(map[string]any)
	if !ok {
		r.fail(at, "expected dict")
	}
	return wamp.Dict(m)
}

// payload reads the optional trailing argument list and keyword dict.
func (r *reader) payload() (wamp.List, wamp.Dict) {
	var args wamp.List
	var kwargs wamp.Dict
	if v, at, ok := r.next(); ok {
		l, isList := v.([]any)
		if !isList {
			r.fail(at, "expected argument list")
		}
		args = wamp.List(l)
	}
	if v, at, ok := r.next(); ok {
		m, isDict := v.(map[string]any)
		if !isDict {
			r.fail(at, "expected keyword argument dict")
		}
		kwargs = wamp.Dict(m)
	}
	return args, kwargs
}

func (r *reader) message() wamp.Message {
	switch r.typ {
	case wamp.MessageTypeHello:
		return &wamp.Hello{Realm: r.uri(), Details: r.dict()}
	case wamp.MessageTypeWelcome:
		return &wamp.Welcome{Session: r.id(), Details: r.dict()}
	case wamp.MessageTypeAbort:
		return &wamp.Abort{Details: r.dict(), Reason: r.uri()}
	case wamp.MessageTypeGoodbye:
		return &wamp.Goodbye{Details: r.dict(), Reason: r.uri()}
	case wamp.MessageTypeError:
		m := &wamp.Error{}
		v, at, _ := r.next()
		code, ok := wamp.ToInt64(v)
		if !ok || !wamp.MessageType(code).Known() {
			r.fail(at, "expected request message type")
		}
		m.RequestType = wamp.MessageType(code)
		m.Request = r.id()
		m.Details = r.dict()
		m.Error = r.uri()
		m.Arguments, m.ArgumentsKw = r.payload()
		return m
	case wamp.MessageTypePublish:
		m := &wamp.Publish{Request: r.id(), Options: r.dict(), Topic: r.uri()}
		m.Arguments, m.ArgumentsKw = r.payload()
		return m
	case wamp.MessageTypePublished:
		return &wamp.Published{Request: r.id(), Publication: r.id()}
	case wamp.MessageTypeSubscribe:
		return &wamp.Subscribe{Request: r.id(), Options: r.dict(), Topic: r.uri()}
	case wamp.MessageTypeSubscribed:
		return &wamp.Subscribed{Request: r.id(), Subscription: r.id()}
	case wamp.MessageTypeUnsubscribe:
		return &wamp.Unsubscribe{Request: r.id(), Subscription: r.id()}
	case wamp.MessageTypeUnsubscribed:
		return &wamp.Unsubscribed{Request: r.id()}
	case wamp.MessageTypeEvent:
		m := &wamp.Event{Subscription: r.id(), Publication: r.id(), Details: r.dict()}
		m.Arguments, m.ArgumentsKw = r.payload()
		return m
	case wamp.MessageTypeCall:
		m := &wamp.Call{Request: r.id(), Options: r.dict(), Procedure: r.uri()}
		m.Arguments, m.ArgumentsKw = r.payload()
		return m
	case wamp.MessageTypeResult:
		m := &wamp.Result{Request: r.id(), Details: r.dict()}
		m.Arguments, m.ArgumentsKw = r.payload()
		return m
	case wamp.MessageTypeRegister:
		return &wamp.Register{Request: r.id(), Options: r.dict(), Procedure: r.uri()}
	case wamp.MessageTypeRegistered:
		return &wamp.Registered{Request: r.id(), Registration: r.id()}
	case wamp.MessageTypeUnregister:
		return &wamp.Unregister{Request: r.id(), Registration: r.id()}
	case wamp.MessageTypeUnregistered:
		return &wamp.Unregistered{Request: r.id()}
	case wamp.MessageTypeInvocation:
		m := &wamp.Invocation{Request: r.id(), Registration: r.id(), Details: r.dict()}
		m.Arguments, m.ArgumentsKw = r.payload()
		return m
	case wamp.MessageTypeYield:
		m := &wamp.Yield{Request: r.id(), Options: r.dict()}
		m.Arguments, m.ArgumentsKw = r.payload()
		return m
	}
	r.fail(0, "unsupported message type")
	return nil
}
