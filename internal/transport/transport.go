// Package transport frames opaque packets over a byte stream to a DC. The
// framing variant and the optional obfuscation layer are picked when the
// connection is made and do not change the Conn contract.
package transport

import (
	"errors"
	"fmt"
)

// MaxPacketSize bounds the payload of a single frame.
const MaxPacketSize = 16 << 20

// ErrConnectionLost wraps every read or write failure of a Conn. The
// connection is unusable afterwards.
var ErrConnectionLost = errors.New("connection lost")

// Transport error codes sent by the server as a bare negative int32.
const (
	CodeAuthKeyNotFound = -404
	CodeTransportFlood  = -429
	CodeInvalidDC       = -444
)

// ProtocolError is a transport level error reported by the remote side
// instead of a packet.
type ProtocolError struct {
	Code int32
}

func (e *ProtocolError) Error() string {
	switch e.Code {
	case CodeAuthKeyNotFound:
		return "transport error -404: auth key not found"
	case CodeTransportFlood:
		return "transport error -429: transport flood"
	case CodeInvalidDC:
		return "transport error -444: invalid dc"
	}
	return fmt.Sprintf("transport error %d", e.Code)
}
