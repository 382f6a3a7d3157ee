package client

import "errors"

var (
	// ErrNotConnected is returned for intents issued outside an established session.
	ErrNotConnected = errors.New("client: not connected")
	// ErrSessionClosed fails every request still pending when a session ends.
	ErrSessionClosed = errors.New("client: session closed")
	// ErrTimeout fails a call that got no RESULT/ERROR within the call timeout.
	ErrTimeout = errors.New("client: call timed out")
	// ErrCanceled resolves a request cancelled locally before its reply arrived.
	ErrCanceled = errors.New("client: request canceled")
	// ErrReconnectExhausted is reported once the reconnect policy gives up.
	ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")
	// ErrAlreadyOpen is returned by Open while a previous Open is still active.
	ErrAlreadyOpen = errors.New("client: already open")
	// ErrHandshakeFailed wraps failures between dial and WELCOME.
	ErrHandshakeFailed = errors.New("client: handshake failed")
)
