package tgcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
)

const NonceSize = 64

// Nonce is the 64 byte header that starts an obfuscated connection.
type Nonce [NonceSize]byte

// prefixes a nonce must not start with, the peer would take it for a plain
// transport or HTTP
var reservedPrefixes = [...][]byte{
	{Abridged},
	{0x48, 0x45, 0x41, 0x44}, // HEAD
	{0x50, 0x4f, 0x53, 0x54}, // POST
	{0x47, 0x45, 0x54, 0x20}, // GET
	{0x4f, 0x50, 0x54, 0x49}, // OPTI
	{0x16, 0x03, 0x01, 0x02}, // tls client hello
	{Padded, Padded, Padded, Padded},
	{Intermediate, Intermediate, Intermediate, Intermediate},
}

// Reserved reports whether n can't be used as an obfuscation header.
func (n *Nonce) Reserved() bool {
	for _, p := range reservedPrefixes {
		if bytes.HasPrefix(n[:], p) {
			return true
		}
	}
	return binary.LittleEndian.Uint32(n[4:8]) == 0
}

type ErrObfuscatedHeader struct {
	Tag [4]byte
}

func (e *ErrObfuscatedHeader) Error() string {
	return fmt.Sprintf("invalid obfuscated protocol tag %x", e.Tag[:])
}

// Obfuscation is the AES-CTR state of one obfuscated connection.
type Obfuscation struct {
	// Nonce is the header as sent on the wire.
	Nonce    Nonce
	Protocol uint8
	// DC is negative for media DCs.
	DC int16

	enc, dec cipher.Stream
}

// Encrypt and Decrypt advance the stream state, calls must follow the byte
// order on the wire.
func (o *Obfuscation) Encrypt(buf []byte) {
	o.enc.XORKeyStream(buf, buf)
}

func (o *Obfuscation) Decrypt(buf []byte) {
	o.dec.XORKeyStream(buf, buf)
}

func newCTR(key, iv []byte) cipher.Stream {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	return cipher.NewCTR(block, iv)
}

// streams returns the cipher of the side that generated the nonce and the
// cipher of the other direction.
func (n *Nonce) streams(secret *Secret) (initiator, responder cipher.Stream) {
	var rev [48]byte
	for i := range rev {
		rev[i] = n[55-i]
	}
	fwdKey, fwdIV := n[8:40], n[40:56]
	bwdKey, bwdIV := rev[:32], rev[32:48]
	if secret != nil {
		fwdKey = mixSecret(fwdKey, secret)
		bwdKey = mixSecret(bwdKey, secret)
	}
	return newCTR(fwdKey, fwdIV), newCTR(bwdKey, bwdIV)
}

func mixSecret(key []byte, secret *Secret) []byte {
	h := SHA256(key, secret.Key[:])
	return h[:]
}

// NewObfuscation starts an obfuscated connection to dc. secret is set when
// connecting through an MTProxy.
func NewObfuscation(random io.Reader, dc int16, protocol uint8, secret *Secret) (*Obfuscation, error) {
	var header Nonce
	for {
		if _, err := io.ReadFull(random, header[:]); err != nil {
			return nil, err
		}
		if !header.Reserved() {
			break
		}
	}
	for i := 56; i < 60; i++ {
		header[i] = protocol
	}
	binary.LittleEndian.PutUint16(header[60:62], uint16(dc))

	enc, dec := header.streams(secret)
	o := &Obfuscation{Protocol: protocol, DC: dc, enc: enc, dec: dec}
	var encrypted Nonce
	enc.XORKeyStream(encrypted[:], header[:])
	copy(o.Nonce[:56], header[:56])
	copy(o.Nonce[56:], encrypted[56:])
	return o, nil
}

// AcceptObfuscation restores the state of an obfuscated connection from the
// header a client sent.
func AcceptObfuscation(header Nonce, secret *Secret) (*Obfuscation, error) {
	dec, enc := header.streams(secret)
	var plain Nonce
	dec.XORKeyStream(plain[:], header[:])
	var tag [4]byte
	copy(tag[:], plain[56:60])
	switch tag[0] {
	case Abridged, Intermediate, Padded:
	default:
		return nil, &ErrObfuscatedHeader{Tag: tag}
	}
	if tag[1] != tag[0] || tag[2] != tag[0] || tag[3] != tag[0] {
		return nil, &ErrObfuscatedHeader{Tag: tag}
	}
	return &Obfuscation{
		Nonce:    header,
		Protocol: tag[0],
		DC:       int16(binary.LittleEndian.Uint16(plain[60:62])),
		enc:      enc,
		dec:      dec,
	}, nil
}
