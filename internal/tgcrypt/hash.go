package tgcrypt

import (
	"crypto/sha1"
	"crypto/sha256"
)

// SHA1 hashes the concatenation of parts.
func SHA1(parts ...[]byte) [sha1.Size]byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [sha1.Size]byte
	h.Sum(out[:0])
	return out
}

// SHA256 hashes the concatenation of parts.
func SHA256(parts ...[]byte) [sha256.Size]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [sha256.Size]byte
	h.Sum(out[:0])
	return out
}
