package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	mrand "math/rand"

	"github.com/geovex/mtcore/internal/tgcrypt"
)

// Codec produces the length prefix (and suffix) around each packet.
type Codec interface {
	Protocol() uint8
	// Tag is sent once at the start of a non obfuscated connection.
	Tag() []byte
	WritePacket(w io.Writer, b []byte) error
	ReadPacket(r io.Reader) ([]byte, error)
}

// NewCodec returns a fresh codec for the protocol tag. Codecs carry state
// (the full transport counts frames), so one codec serves one connection.
func NewCodec(protocol uint8) (Codec, error) {
	switch protocol {
	case tgcrypt.Abridged:
		return abridged{}, nil
	case tgcrypt.Intermediate:
		return intermediate{}, nil
	case tgcrypt.Padded:
		return padded{}, nil
	case tgcrypt.Full:
		return &full{}, nil
	}
	return nil, fmt.Errorf("unknown protocol: %x", protocol)
}

// ProtocolByName maps configuration names to protocol tags.
func ProtocolByName(name string) (uint8, error) {
	switch name {
	case "abridged":
		return tgcrypt.Abridged, nil
	case "intermediate":
		return tgcrypt.Intermediate, nil
	case "padded", "padded_intermediate":
		return tgcrypt.Padded, nil
	case "full":
		return tgcrypt.Full, nil
	}
	return 0, fmt.Errorf("unknown transport %q", name)
}

func checkSize(l int) error {
	if l > MaxPacketSize {
		return fmt.Errorf("message too big: %d", l)
	}
	return nil
}

type abridged struct{}

func (abridged) Protocol() uint8 { return tgcrypt.Abridged }

func (abridged) Tag() []byte { return []byte{tgcrypt.Abridged} }

func (abridged) WritePacket(w io.Writer, b []byte) error {
	l := uint32(len(b))
	if l%4 != 0 {
		return fmt.Errorf("message size not multiple of 4")
	}
	if err := checkSize(len(b)); err != nil {
		return err
	}
	l = l / 4
	sendmsg := make([]byte, 0, len(b)+4)
	if l >= 0x7f {
		sendmsg = append(sendmsg, 0x7f)
		sendmsg = append(sendmsg, binary.LittleEndian.AppendUint32([]byte{}, l)[:3]...)
	} else {
		sendmsg = append(sendmsg, byte(l))
	}
	sendmsg = append(sendmsg, b...)
	_, err := w.Write(sendmsg)
	return err
}

func (abridged) ReadPacket(r io.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:1]); err != nil {
		return nil, err
	}
	// quick ack flag
	l[0] &= 0x7f
	var msgLen uint32
	if l[0] < 0x7f {
		msgLen = uint32(l[0])
	} else {
		if _, err := io.ReadFull(r, l[:3]); err != nil {
			return nil, err
		}
		l[3] = 0
		msgLen = binary.LittleEndian.Uint32(l[:])
	}
	msgLen *= 4
	if err := checkSize(int(msgLen)); err != nil {
		return nil, err
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

type intermediate struct{}

func (intermediate) Protocol() uint8 { return tgcrypt.Intermediate }

func (intermediate) Tag() []byte {
	return []byte{tgcrypt.Intermediate, tgcrypt.Intermediate, tgcrypt.Intermediate, tgcrypt.Intermediate}
}

func (intermediate) WritePacket(w io.Writer, b []byte) error {
	return writeLenPrefixed(w, b, nil)
}

func (intermediate) ReadPacket(r io.Reader) ([]byte, error) {
	return readLenPrefixed(r)
}

// padded appends 0..15 random bytes to every packet. The receiver strips
// them by looking at the envelope itself.
type padded struct{}

func (padded) Protocol() uint8 { return tgcrypt.Padded }

func (padded) Tag() []byte {
	return []byte{tgcrypt.Padded, tgcrypt.Padded, tgcrypt.Padded, tgcrypt.Padded}
}

func (padded) WritePacket(w io.Writer, b []byte) error {
	pad := make([]byte, mrand.Intn(16))
	if _, err := rand.Read(pad); err != nil {
		return err
	}
	return writeLenPrefixed(w, b, pad)
}

func (padded) ReadPacket(r io.Reader) ([]byte, error) {
	return readLenPrefixed(r)
}

func writeLenPrefixed(w io.Writer, b, pad []byte) error {
	if err := checkSize(len(b)); err != nil {
		return err
	}
	sendmsg := make([]byte, 0, 4+len(b)+len(pad))
	sendmsg = binary.LittleEndian.AppendUint32(sendmsg, uint32(len(b)+len(pad)))
	sendmsg = append(sendmsg, b...)
	sendmsg = append(sendmsg, pad...)
	_, err := w.Write(sendmsg)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	msgLen := binary.LittleEndian.Uint32(l[:]) & 0x7fffffff
	if err := checkSize(int(msgLen)); err != nil {
		return nil, err
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// full frames carry their total length, a per direction sequence number and
// a CRC32 of everything before it.
type full struct {
	sendSeq, recvSeq uint32
}

func (*full) Protocol() uint8 { return tgcrypt.Full }

func (*full) Tag() []byte { return nil }

func (f *full) WritePacket(w io.Writer, b []byte) error {
	if err := checkSize(len(b)); err != nil {
		return err
	}
	sendmsg := make([]byte, 0, len(b)+12)
	sendmsg = binary.LittleEndian.AppendUint32(sendmsg, uint32(len(b)+12))
	sendmsg = binary.LittleEndian.AppendUint32(sendmsg, f.sendSeq)
	sendmsg = append(sendmsg, b...)
	sendmsg = binary.LittleEndian.AppendUint32(sendmsg, crc32.ChecksumIEEE(sendmsg))
	f.sendSeq++
	_, err := w.Write(sendmsg)
	return err
}

func (f *full) ReadPacket(r io.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	msgLen := binary.LittleEndian.Uint32(l[:])
	if msgLen < 12 {
		return nil, fmt.Errorf("full frame too short: %d", msgLen)
	}
	if err := checkSize(int(msgLen) - 12); err != nil {
		return nil, err
	}
	rawmsg := make([]byte, msgLen)
	copy(rawmsg, l[:])
	if _, err := io.ReadFull(r, rawmsg[4:]); err != nil {
		return nil, err
	}
	crc := binary.LittleEndian.Uint32(rawmsg[msgLen-4:])
	if crcreal := crc32.ChecksumIEEE(rawmsg[:msgLen-4]); crc != crcreal {
		return nil, fmt.Errorf("bad crc: %x != %x", crc, crcreal)
	}
	seq := binary.LittleEndian.Uint32(rawmsg[4:8])
	if seq != f.recvSeq {
		return nil, fmt.Errorf("bad frame seq: %d, expected %d", seq, f.recvSeq)
	}
	f.recvSeq++
	return rawmsg[8 : msgLen-4], nil
}
