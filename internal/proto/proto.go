// Package proto wraps payloads into MTProto 2.0 envelopes and keeps the
// counters every envelope needs: message ids, sequence numbers, the replay
// window and server salts.
package proto

import "errors"

// ErrIntegrity marks an envelope that failed verification. The connection it
// came from must be torn down.
var ErrIntegrity = errors.New("envelope integrity check failed")

// ErrAuthKeyMismatch is returned when an envelope is tagged with a key id
// other than the one in use.
var ErrAuthKeyMismatch = errors.New("envelope auth key id mismatch")

const (
	// accepted age of an incoming message id
	maxPast = 300
	// accepted skew of an incoming message id into the future
	maxFuture = 30

	minPadding = 12
	maxPadding = 1024

	// salt + session id + msg id + seq no + length
	innerHeaderLen = 32
	// auth key id + msg key
	outerHeaderLen = 24
)
