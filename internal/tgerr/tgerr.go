// Package tgerr parses RPC errors returned by a DC and sorts them into the
// categories the sender policy is keyed by.
package tgerr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Category int

const (
	// Fatal errors are returned to the caller as is.
	Fatal Category = iota
	// Transient errors are retried after a short delay.
	Transient
	// Flood errors carry the number of seconds to wait.
	Flood
	// Migrate errors name the DC the request belongs to.
	Migrate
	// AuthKey errors mean the DC dropped our key.
	AuthKey
	// Transport marks failures below the RPC layer: lost connections and
	// timeouts.
	Transport
	// Integrity marks envelopes that failed verification.
	Integrity
	// Handshake marks failed key exchanges.
	Handshake
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Flood:
		return "flood"
	case Migrate:
		return "migrate"
	case AuthKey:
		return "auth_key"
	case Transport:
		return "transport"
	case Integrity:
		return "integrity"
	case Handshake:
		return "handshake"
	}
	return "fatal"
}

// Error is an rpc_error. Messages of the form FLOOD_WAIT_30 are split into
// Type "FLOOD_WAIT" and Argument 30.
type Error struct {
	Code     int
	Message  string
	Type     string
	Argument int
}

func New(code int, message string) *Error {
	e := &Error{Code: code, Message: message, Type: message}
	if i := strings.LastIndexByte(message, '_'); i > 0 && i < len(message)-1 {
		if n, err := strconv.Atoi(message[i+1:]); err == nil {
			e.Type = message[:i]
			e.Argument = n
		}
	}
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Is matches errors with the same type, so errors.Is(err, New(420,
// "FLOOD_WAIT_0")) works for any wait.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Code == 0 || t.Code == e.Code)
}

var transientTypes = map[string]bool{
	"RPC_CALL_FAIL":                    true,
	"RPC_MCGET_FAIL":                   true,
	"WORKER_BUSY_TOO_LONG_RETRY":       true,
	"TIMEOUT":                          true,
	"MSG_WAIT_FAILED":                  true,
	"MEMBER_OCCUPY_PRIMARY_LOC_FAILED": true,
}

var floodTypes = map[string]bool{
	"FLOOD_WAIT":         true,
	"FLOOD_PREMIUM_WAIT": true,
	"SLOWMODE_WAIT":      true,
}

// primary migrations move the whole session, the others only the request
var migrateTypes = map[string]bool{
	"PHONE_MIGRATE":   true,
	"USER_MIGRATE":    true,
	"NETWORK_MIGRATE": true,
	"FILE_MIGRATE":    false,
	"STATS_MIGRATE":   false,
}

// AUTH_KEY_UNREGISTERED is not here: the key is fine, the user just has to
// sign in.
var authKeyTypes = map[string]bool{
	"AUTH_KEY_INVALID":    true,
	"AUTH_KEY_PERM_EMPTY": true,
}

func (e *Error) Category() Category {
	switch {
	case floodTypes[e.Type] || e.Code == 420:
		return Flood
	case e.isMigrate():
		return Migrate
	case e.Code == 500 || e.Code == -500 || e.Code == -503 || e.isTransient():
		return Transient
	case authKeyTypes[e.Type]:
		return AuthKey
	}
	return Fatal
}

// INTERDC_2_CALL_ERROR and friends carry the DC in the middle.
func (e *Error) isTransient() bool {
	if transientTypes[e.Type] {
		return true
	}
	return strings.HasPrefix(e.Type, "INTERDC_") &&
		(strings.HasSuffix(e.Type, "_CALL_ERROR") || strings.HasSuffix(e.Type, "_CALL_RICH_ERROR"))
}

func (e *Error) isMigrate() bool {
	_, ok := migrateTypes[e.Type]
	return ok && e.Code == 303
}

// PrimaryMigration reports whether the error moves the session itself to
// another DC rather than just this request.
func (e *Error) PrimaryMigration() bool {
	return e.isMigrate() && migrateTypes[e.Type]
}

// As extracts *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is an rpc error of one of the given types.
func Is(err error, types ...string) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	for _, t := range types {
		if e.Type == t {
			return true
		}
	}
	return false
}
