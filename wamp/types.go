package wamp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ID identifies sessions, requests, registrations, subscriptions,
// publications and invocations. Valid values lie in [1, MaxID].
type ID uint64

// MaxID is the largest identifier representable without loss in an IEEE-754
// double, as required for interoperability with JSON peers.
const MaxID ID = 1 << 53

// URI names realms, procedures, topics and error kinds.
type URI string

// Dict is a details/options/kwargs dictionary.
type Dict map[string]any

// List is a positional argument list.
type List []any

// Roles advertised in HELLO/WELCOME details.
const (
	RoleBroker     = "broker"
	RoleDealer     = "dealer"
	RoleCallee     = "callee"
	RoleCaller     = "caller"
	RolePublisher  = "publisher"
	RoleSubscriber = "subscriber"
)

// Options and details keys understood by the router.
const (
	OptAcknowledge = "acknowledge"
	OptExcludeMe   = "exclude_me"
	OptDiscloseMe  = "disclose_me"

	DetailProcedure = "procedure"
	DetailCaller    = "caller"
	DetailRoles     = "roles"
)

// ValidURI reports whether u is a usable procedure or topic name: non-empty,
// no whitespace and no empty dot-separated components.
func ValidURI(u URI) bool {
	s := string(u)
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, " \t\r\n#") {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
	}
	return true
}

// Bool reads a boolean option, returning def when absent or mistyped.
func (d Dict) Bool(key string, def bool) bool {
	if d == nil {
		return def
	}
	if v, ok := d[key].(bool); ok {
		return v
	}
	return def
}

// ToInt64 converts a decoded argument value to an int64. It accepts
// json.Number, Go integer kinds and floats that hold an integral value.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// ToFloat64 converts a decoded numeric argument to a float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// ToString converts a decoded string argument. Numbers are not coerced.
func ToString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case URI:
		return string(s), true
	}
	return "", false
}

// ToID converts a decoded identifier value.
func ToID(v any) (ID, bool) {
	switch n := v.(type) {
	case ID:
		return n, true
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil || ID(u) > MaxID {
			return 0, false
		}
		return ID(u), true
	}
	i, ok := ToInt64(v)
	if !ok || i < 0 || ID(i) > MaxID {
		return 0, false
	}
	return ID(i), true
}
