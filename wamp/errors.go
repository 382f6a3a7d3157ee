package wamp

import (
	"fmt"
	"strings"
)

// Well-known error and close reasons.
const (
	URIInvalidURI             URI = "wamp.error.invalid_uri"
	URINoSuchProcedure        URI = "wamp.error.no_such_procedure"
	URIProcedureAlreadyExists URI = "wamp.error.procedure_already_exists"
	URINoSuchRegistration     URI = "wamp.error.no_such_registration"
	URINoSuchSubscription     URI = "wamp.error.no_such_subscription"
	URINoSuchRealm            URI = "wamp.error.no_such_realm"
	URIInvalidParameter       URI = "wamp.error.invalid_parameter"
	URIRuntimeError           URI = "wamp.error.runtime_error"
	URICalleeDisconnected     URI = "wamp.error.callee_disconnected"
	URIProtocolViolation      URI = "wamp.error.protocol_violation"

	URICloseNormal    URI = "wamp.close.normal"
	URICloseRealm     URI = "wamp.close.close_realm"
	URIGoodbyeAndOut  URI = "wamp.close.goodbye_and_out"
	URISystemShutdown URI = "wamp.close.system_shutdown"
)

// Sentinels for errors.Is matching against router- or peer-reported errors.
var (
	ErrInvalidURI             = &ApplicationError{URI: URIInvalidURI}
	ErrNoSuchProcedure        = &ApplicationError{URI: URINoSuchProcedure}
	ErrProcedureAlreadyExists = &ApplicationError{URI: URIProcedureAlreadyExists}
	ErrNoSuchRegistration     = &ApplicationError{URI: URINoSuchRegistration}
	ErrNoSuchSubscription     = &ApplicationError{URI: URINoSuchSubscription}
	ErrNoSuchRealm            = &ApplicationError{URI: URINoSuchRealm}
	ErrInvalidParameter       = &ApplicationError{URI: URIInvalidParameter}
	ErrRuntimeError           = &ApplicationError{URI: URIRuntimeError}
	ErrCalleeDisconnected     = &ApplicationError{URI: URICalleeDisconnected}
	ErrProtocolViolation      = &ApplicationError{URI: URIProtocolViolation}
)

// ApplicationError is a URI-identified failure with optional payload. It is
// returned to callers for ERROR and ABORT messages, and may be returned by
// procedure handlers to control the ERROR sent back to the caller.
type ApplicationError struct {
	URI         URI
	Arguments   List
	ArgumentsKw Dict
}

// NewError builds an application error with positional arguments.
func NewError(uri URI, args ...any) *ApplicationError {
	return &ApplicationError{URI: uri, Arguments: args}
}

func (e *ApplicationError) Error() string {
	if len(e.Arguments) == 0 {
		return string(e.URI)
	}
	parts := make([]string, 0, len(e.Arguments))
	for _, a := range e.Arguments {
		parts = append(parts, fmt.Sprint(a))
	}
	return string(e.URI) + ": " + strings.Join(parts, ", ")
}

// Is matches any *ApplicationError with the same URI.
func (e *ApplicationError) Is(target error) bool {
	t, ok := target.(*ApplicationError)
	if !ok {
		return false
	}
	return e.URI == t.URI
}
