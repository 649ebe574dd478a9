package sender

import (
	"errors"
	"fmt"
	"time"

	"github.com/geovex/mtcore/internal/tgerr"
	"github.com/geovex/mtcore/internal/transport"
)

type action uint8

const (
	actFail action = iota
	actRetry
	actFloodWait
	actMigrate
	actRekey
	actReconnect
)

// policy decides what the invoke loop does with a failed attempt.
var policy = map[tgerr.Category]action{
	tgerr.Fatal:     actFail,
	tgerr.Transient: actRetry,
	tgerr.Flood:     actFloodWait,
	tgerr.Migrate:   actMigrate,
	tgerr.AuthKey:   actRekey,
	tgerr.Transport: actReconnect,
	tgerr.Integrity: actReconnect,
	tgerr.Handshake: actFail,
}

// Error is the terminal error of a request. Code is the rpc or transport
// error code when there is one.
type Error struct {
	Category tgerr.Category
	Code     int
	Attempts int
	Err      error
}

func terminal(cat tgerr.Category, err error, attempts int) *Error {
	return &Error{Category: cat, Code: codeOf(err), Attempts: attempts, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error after %d attempts: %v", e.Category, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func codeOf(err error) int {
	if e, ok := tgerr.As(err); ok {
		return e.Code
	}
	var perr *transport.ProtocolError
	if errors.As(err, &perr) {
		return int(perr.Code)
	}
	var bad *BadMsgError
	if errors.As(err, &bad) {
		return int(bad.Code)
	}
	return 0
}

// FloodWaitError is returned when a request type is flood limited for
// longer than the sender is willing to sleep.
type FloodWaitError struct {
	Type string
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait for %s: %v", e.Type, e.Wait)
}

func (e *FloodWaitError) Category() tgerr.Category {
	return tgerr.Flood
}

// Code is the code of FLOOD_WAIT rpc errors.
func (e *FloodWaitError) Code() int {
	return 420
}
