package tgcrypt

import (
	"encoding/binary"
	"fmt"
)

const AuthKeySize = 256

// Key is the raw 2048 bit authorization key shared with one DC.
type Key [AuthKeySize]byte

// ID returns the 64 lower-order bits of SHA1(key), the tag of every envelope.
func (k Key) ID() [8]byte {
	h := SHA1(k[:])
	var id [8]byte
	copy(id[:], h[12:20])
	return id
}

// AuxHash returns the 64 higher-order bits of SHA1(key).
func (k Key) AuxHash() [8]byte {
	h := SHA1(k[:])
	var aux [8]byte
	copy(aux[:], h[0:8])
	return aux
}

func (k Key) Zero() bool {
	return k == Key{}
}

// WithID pairs the key with its identifier.
func (k Key) WithID() AuthKey {
	return AuthKey{Value: k, ID: k.ID()}
}

// AuthKey is a key together with its precomputed identifier. The zero value
// means no key.
type AuthKey struct {
	Value Key
	ID    [8]byte
}

func (a AuthKey) Zero() bool {
	return a.Value.Zero()
}

// IntID returns the key id the way it is written on the wire.
func (a AuthKey) IntID() int64 {
	return int64(binary.LittleEndian.Uint64(a.ID[:]))
}

func (a AuthKey) String() string {
	if a.Zero() {
		return "AuthKey(none)"
	}
	return fmt.Sprintf("AuthKey(%x)", a.ID)
}

// AuthKeyFromBytes validates length and builds an AuthKey.
func AuthKeyFromBytes(b []byte) (AuthKey, error) {
	if len(b) == 0 {
		return AuthKey{}, nil
	}
	if len(b) != AuthKeySize {
		return AuthKey{}, fmt.Errorf("auth key must be %d bytes, got %d", AuthKeySize, len(b))
	}
	var k Key
	copy(k[:], b)
	return k.WithID(), nil
}
