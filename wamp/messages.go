package wamp

import "strconv"

// MessageType is the integer code that leads every WAMP frame.
type MessageType int

const (
	MessageTypeHello        MessageType = 1
	MessageTypeWelcome      MessageType = 2
	MessageTypeAbort        MessageType = 3
	MessageTypeGoodbye      MessageType = 6
	MessageTypeError        MessageType = 8
	MessageTypePublish      MessageType = 16
	MessageTypePublished    MessageType = 17
	MessageTypeSubscribe    MessageType = 32
	MessageTypeSubscribed   MessageType = 33
	MessageTypeUnsubscribe  MessageType = 34
	MessageTypeUnsubscribed MessageType = 35
	MessageTypeEvent        MessageType = 36
	MessageTypeCall         MessageType = 48
	MessageTypeResult       MessageType = 50
	MessageTypeRegister     MessageType = 64
	MessageTypeRegistered   MessageType = 65
	MessageTypeUnregister   MessageType = 66
	MessageTypeUnregistered MessageType = 67
	MessageTypeInvocation   MessageType = 68
	MessageTypeYield        MessageType = 70
)

var messageTypeNames = map[MessageType]string{
	MessageTypeHello:        "HELLO",
	MessageTypeWelcome:      "WELCOME",
	MessageTypeAbort:        "ABORT",
	MessageTypeGoodbye:      "GOODBYE",
	MessageTypeError:        "ERROR",
	MessageTypePublish:      "PUBLISH",
	MessageTypePublished:    "PUBLISHED",
	MessageTypeSubscribe:    "SUBSCRIBE",
	MessageTypeSubscribed:   "SUBSCRIBED",
	MessageTypeUnsubscribe:  "UNSUBSCRIBE",
	MessageTypeUnsubscribed: "UNSUBSCRIBED",
	MessageTypeEvent:        "EVENT",
	MessageTypeCall:         "CALL",
	MessageTypeResult:       "RESULT",
	MessageTypeRegister:     "REGISTER",
	MessageTypeRegistered:   "REGISTERED",
	MessageTypeUnregister:   "UNREGISTER",
	MessageTypeUnregistered: "UNREGISTERED",
	MessageTypeInvocation:   "INVOCATION",
	MessageTypeYield:        "YIELD",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "MessageType(" + strconv.Itoa(int(t)) + ")"
}

// Known reports whether t is part of the supported message set.
func (t MessageType) Known() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// Message is implemented by every WAMP message struct.
type Message interface {
	MessageType() MessageType
}

// Hello opens a session on a realm.
type Hello struct {
	Realm   URI
	Details Dict
}

// Welcome confirms a session.
type Welcome struct {
	Session ID
	Details Dict
}

// Abort rejects or tears down a session before/without GOODBYE.
type Abort struct {
	Details Dict
	Reason  URI
}

// Goodbye closes an established session.
type Goodbye struct {
	Details Dict
	Reason  URI
}

// Error answers a request of RequestType with a failure.
type Error struct {
	RequestType MessageType
	Request     ID
	Details     Dict
	Error       URI
	Arguments   List
	ArgumentsKw Dict
}

// Publish emits an event to a topic.
type Publish struct {
	Request     ID
	Options     Dict
	Topic       URI
	Arguments   List
	ArgumentsKw Dict
}

// Published acknowledges a Publish that asked for it.
type Published struct {
	Request     ID
	Publication ID
}

// Subscribe requests topic membership.
type Subscribe struct {
	Request ID
	Options Dict
	Topic   URI
}

// Subscribed confirms a Subscribe.
type Subscribed struct {
	Request      ID
	Subscription ID
}

// Unsubscribe ends a topic membership.
type Unsubscribe struct {
	Request      ID
	Subscription ID
}

// Unsubscribed confirms an Unsubscribe.
type Unsubscribed struct {
	Request ID
}

// Event delivers a publication to one subscription.
type Event struct {
	Subscription ID
	Publication  ID
	Details      Dict
	Arguments    List
	ArgumentsKw  Dict
}

// Call invokes a remote procedure.
type Call struct {
	Request     ID
	Options     Dict
	Procedure   URI
	Arguments   List
	ArgumentsKw Dict
}

// Result answers a Call.
type Result struct {
	Request     ID
	Details     Dict
	Arguments   List
	ArgumentsKw Dict
}

// Register claims a procedure name.
type Register struct {
	Request   ID
	Options   Dict
	Procedure URI
}

// Registered confirms a Register.
type Registered struct {
	Request      ID
	Registration ID
}

// Unregister releases a registration.
type Unregister struct {
	Request      ID
	Registration ID
}

// Unregistered confirms an Unregister.
type Unregistered struct {
	Request ID
}

// Invocation asks a callee to run a registered procedure.
type Invocation struct {
	Request      ID
	Registration ID
	Details      Dict
	Arguments    List
	ArgumentsKw  Dict
}

// Yield returns the outcome of an Invocation.
type Yield struct {
	Request     ID
	Options     Dict
	Arguments   List
	ArgumentsKw Dict
}

func (*Hello) MessageType() MessageType        { return MessageTypeHello }
func (*Welcome) MessageType() MessageType      { return MessageTypeWelcome }
func (*Abort) MessageType() MessageType        { return MessageTypeAbort }
func (*Goodbye) MessageType() MessageType      { return MessageTypeGoodbye }
func (*Error) MessageType() MessageType        { return MessageTypeError }
func (*Publish) MessageType() MessageType      { return MessageTypePublish }
func (*Published) MessageType() MessageType    { return MessageTypePublished }
func (*Subscribe) MessageType() MessageType    { return MessageTypeSubscribe }
func (*Subscribed) MessageType() MessageType   { return MessageTypeSubscribed }
func (*Unsubscribe) MessageType() MessageType  { return MessageTypeUnsubscribe }
func (*Unsubscribed) MessageType() MessageType { return MessageTypeUnsubscribed }
func (*Event) MessageType() MessageType        { return MessageTypeEvent }
func (*Call) MessageType() MessageType         { return MessageTypeCall }
func (*Result) MessageType() MessageType       { return MessageTypeResult }
func (*Register) MessageType() MessageType     { return MessageTypeRegister }
func (*Registered) MessageType() MessageType   { return MessageTypeRegistered }
func (*Unregister) MessageType() MessageType   { return MessageTypeUnregister }
func (*Unregistered) MessageType() MessageType { return MessageTypeUnregistered }
func (*Invocation) MessageType() MessageType   { return MessageTypeInvocation }
func (*Yield) MessageType() MessageType        { return MessageTypeYield }

// RequestID returns the request identifier carried by msg, if any. For
// INVOCATION and YIELD this is the router-allocated invocation id.
func RequestID(msg Message) (ID, bool) {
	switch m := msg.(type) {
	case *Error:
		return m.Request, true
	case *Publish:
		return m.Request, true
	case *Published:
		return m.Request, true
	case *Subscribe:
		return m.Request, true
	case *Subscribed:
		return m.Request, true
	case *Unsubscribe:
		return m.Request, true
	case *Unsubscribed:
		return m.Request, true
	case *Call:
		return m.Request, true
	case *Result:
		return m.Request, true
	case *Register:
		return m.Request, true
	case *Registered:
		return m.Request, true
	case *Unregister:
		return m.Request, true
	case *Unregistered:
		return m.Request, true
	case *Invocation:
		return m.Request, true
	case *Yield:
		return m.Request, true
	}
	return 0, false
}
