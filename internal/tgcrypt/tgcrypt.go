// Package tgcrypt holds the cryptographic primitives of the MTProto engine:
// transport obfuscation, AES-IGE, key derivation, RSA_PAD and the helpers the
// key exchange needs.
package tgcrypt

// Transport protocol tags. The tag is repeated four times inside an
// obfuscation nonce; Abridged is sent as a single byte on plain sockets.
const (
	Abridged     = 0xef
	Intermediate = 0xee //0xeeeeeeee
	Padded       = 0xdd //0xdddddddd
	Full         = 0
)
