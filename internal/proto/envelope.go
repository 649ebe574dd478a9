package proto

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/geovex/mtcore/internal/tgcrypt"
)

// Message is the decrypted content of an envelope.
type Message struct {
	Salt      int64
	SessionID int64
	MsgID     int64
	SeqNo     int32
	Body      []byte
}

// Cipher encrypts envelopes for one direction and decrypts the other. A
// client encrypts with x = 0 and decrypts with x = 8, a server the reverse.
type Cipher struct {
	encrypt, decrypt tgcrypt.Side
	random           io.Reader
}

func NewClientCipher(random io.Reader) Cipher {
	return Cipher{encrypt: tgcrypt.Client, decrypt: tgcrypt.Server, random: random}
}

func NewServerCipher(random io.Reader) Cipher {
	return Cipher{encrypt: tgcrypt.Server, decrypt: tgcrypt.Client, random: random}
}

func (c Cipher) paddingLen(bodyLen int) (int, error) {
	pad := minPadding + (16-(innerHeaderLen+bodyLen+minPadding)%16)%16
	var r [1]byte
	if _, err := io.ReadFull(c.random, r[:]); err != nil {
		return 0, err
	}
	// a few extra blocks hide the exact length
	pad += 16 * int(r[0]%8)
	return pad, nil
}

// Encrypt wraps m for key.
func (c Cipher) Encrypt(key tgcrypt.AuthKey, m Message) ([]byte, error) {
	if len(m.Body)%4 != 0 {
		return nil, fmt.Errorf("body length %d is not a multiple of 4", len(m.Body))
	}
	pad, err := c.paddingLen(len(m.Body))
	if err != nil {
		return nil, err
	}
	plain := make([]byte, 0, innerHeaderLen+len(m.Body)+pad)
	plain = binary.LittleEndian.AppendUint64(plain, uint64(m.Salt))
	plain = binary.LittleEndian.AppendUint64(plain, uint64(m.SessionID))
	plain = binary.LittleEndian.AppendUint64(plain, uint64(m.MsgID))
	plain = binary.LittleEndian.AppendUint32(plain, uint32(m.SeqNo))
	plain = binary.LittleEndian.AppendUint32(plain, uint32(len(m.Body)))
	plain = append(plain, m.Body...)
	padding := make([]byte, pad)
	if _, err := io.ReadFull(c.random, padding); err != nil {
		return nil, err
	}
	plain = append(plain, padding...)

	msgKey := tgcrypt.MessageKey(key.Value, plain, c.encrypt)
	aesKey, aesIV := tgcrypt.MessageKeys(key.Value, msgKey, c.encrypt)
	enc, err := tgcrypt.IGEEncrypt(plain, aesKey[:], aesIV[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, outerHeaderLen+len(enc))
	out = append(out, key.ID[:]...)
	out = append(out, msgKey[:]...)
	return append(out, enc...), nil
}

// Decrypt unwraps an envelope and checks everything that does not need
// session state: key id, message key, length and padding bounds.
func (c Cipher) Decrypt(key tgcrypt.AuthKey, b []byte) (*Message, error) {
	if len(b) < outerHeaderLen+innerHeaderLen+16 {
		return nil, fmt.Errorf("%w: envelope too short: %d", ErrIntegrity, len(b))
	}
	if subtle.ConstantTimeCompare(b[0:8], key.ID[:]) != 1 {
		return nil, fmt.Errorf("%w: got %x, want %x", ErrAuthKeyMismatch, b[0:8], key.ID)
	}
	var msgKey [16]byte
	copy(msgKey[:], b[8:24])
	enc := b[outerHeaderLen:]
	// padded transport may append up to 15 random bytes
	enc = enc[:len(enc)-len(enc)%16]

	aesKey, aesIV := tgcrypt.MessageKeys(key.Value, msgKey, c.decrypt)
	plain, err := tgcrypt.IGEDecrypt(enc, aesKey[:], aesIV[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	want := tgcrypt.MessageKey(key.Value, plain, c.decrypt)
	if subtle.ConstantTimeCompare(want[:], msgKey[:]) != 1 {
		return nil, fmt.Errorf("%w: message key mismatch", ErrIntegrity)
	}
	m := &Message{
		Salt:      int64(binary.LittleEndian.Uint64(plain[0:8])),
		SessionID: int64(binary.LittleEndian.Uint64(plain[8:16])),
		MsgID:     int64(binary.LittleEndian.Uint64(plain[16:24])),
		SeqNo:     int32(binary.LittleEndian.Uint32(plain[24:28])),
	}
	l := int(binary.LittleEndian.Uint32(plain[28:32]))
	pad := len(plain) - innerHeaderLen - l
	if l < 0 || l%4 != 0 || pad < minPadding || pad > maxPadding {
		return nil, fmt.Errorf("%w: bad body length %d for %d bytes", ErrIntegrity, l, len(plain))
	}
	m.Body = plain[innerHeaderLen : innerHeaderLen+l]
	return m, nil
}

// RandomInt64 reads a random non zero id, used for session and ping ids.
func RandomInt64(random io.Reader) (int64, error) {
	var b [8]byte
	for {
		if _, err := io.ReadFull(random, b[:]); err != nil {
			return 0, err
		}
		if v := int64(binary.LittleEndian.Uint64(b[:])); v != 0 {
			return v, nil
		}
	}
}
