package tgcrypt

// Side selects the direction for message key derivation.
type Side int

const (
	// Client is used for messages sent by the client (x = 0).
	Client Side = 0
	// Server is used for messages sent by the server (x = 8).
	Server Side = 8
)

// MessageKey computes msg_key for a padded plaintext:
// the middle 128 bits of SHA256(substr(auth_key, 88+x, 32) + plaintext).
func MessageKey(k Key, plaintext []byte, side Side) (msgKey [16]byte) {
	x := int(side)
	large := SHA256(k[88+x:88+x+32], plaintext)
	copy(msgKey[:], large[8:24])
	return
}

// MessageKeys derives the AES-IGE key and iv for an envelope.
func MessageKeys(k Key, msgKey [16]byte, side Side) (key, iv [32]byte) {
	x := int(side)
	a := SHA256(msgKey[:], k[x:x+36])
	b := SHA256(k[40+x:40+x+36], msgKey[:])

	copy(key[0:8], a[0:8])
	copy(key[8:24], b[8:24])
	copy(key[24:32], a[24:32])

	copy(iv[0:8], b[0:8])
	copy(iv[8:24], a[8:24])
	copy(iv[24:32], b[24:32])
	return
}
