// Package wamp contains the protocol data types and constants shared by the
// client session, the realm router and the wire codec. It mirrors the WAMP v2
// message set while keeping the surface Go-friendly: one exported struct per
// message kind, string constants for well-known URIs and a single error type
// for wire-level failures.
//
// The package is free of transport and serialization logic. Framing lives in
// internal/codec; connection handling lives in the client and router
// packages.
//
// # Identifiers
//
// Session, request, registration, subscription, publication and invocation
// identifiers are all ID values. Request identifiers are only unique within
// the session (and direction) that allocated them; every other identifier is
// allocated by the router.
//
// # Errors
//
// ApplicationError is both the decoded form of an ERROR/ABORT reason and a
// Go error. Errors compare by URI, so
//
//	errors.Is(err, wamp.ErrNoSuchProcedure)
//
// matches any *ApplicationError carrying "wamp.error.no_such_procedure"
// regardless of its arguments.
package wamp
