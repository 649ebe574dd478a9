// Package bin implements the TL binary layout used by the handshake and
// service messages of the engine.
package bin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	TypeVector uint32 = 0x1cb5c415
	TypeTrue   uint32 = 0x997275b5
	TypeFalse  uint32 = 0xbc799737
)

// ErrUnexpectedID is returned when a constructor id does not match.
var ErrUnexpectedID = errors.New("unexpected constructor id")

// Buffer is a TL encoding/decoding buffer. Consume* methods read from the
// head of Buf, Put* methods append to it.
type Buffer struct {
	Buf []byte
}

func (b *Buffer) Len() int {
	return len(b.Buf)
}

func (b *Buffer) Raw() []byte {
	return b.Buf
}

func (b *Buffer) Reset() {
	b.Buf = b.Buf[:0]
}

// Copy returns a copy of the unread bytes.
func (b *Buffer) Copy() []byte {
	return append([]byte{}, b.Buf...)
}

func (b *Buffer) PutID(id uint32) {
	b.PutUint32(id)
}

func (b *Buffer) PutUint32(v uint32) {
	b.Buf = binary.LittleEndian.AppendUint32(b.Buf, v)
}

func (b *Buffer) PutInt32(v int32) {
	b.PutUint32(uint32(v))
}

func (b *Buffer) PutInt(v int) {
	b.PutUint32(uint32(int32(v)))
}

func (b *Buffer) PutLong(v int64) {
	b.Buf = binary.LittleEndian.AppendUint64(b.Buf, uint64(v))
}

func (b *Buffer) PutInt128(v [16]byte) {
	b.Buf = append(b.Buf, v[:]...)
}

func (b *Buffer) PutInt256(v [32]byte) {
	b.Buf = append(b.Buf, v[:]...)
}

func (b *Buffer) PutBool(v bool) {
	if v {
		b.PutID(TypeTrue)
	} else {
		b.PutID(TypeFalse)
	}
}

// PutBytes writes a TL string: a short or long length prefix, the data and
// zero padding up to a multiple of four.
func (b *Buffer) PutBytes(v []byte) {
	l := len(v)
	var hdr int
	if l <= 253 {
		b.Buf = append(b.Buf, byte(l))
		hdr = 1
	} else {
		b.Buf = append(b.Buf, 0xfe, byte(l), byte(l>>8), byte(l>>16))
		hdr = 4
	}
	b.Buf = append(b.Buf, v...)
	for pad := (hdr + l) % 4; pad != 0 && pad < 4; pad++ {
		b.Buf = append(b.Buf, 0)
	}
}

func (b *Buffer) PutString(s string) {
	b.PutBytes([]byte(s))
}

// PutVectorHeader writes the boxed vector id and the element count.
func (b *Buffer) PutVectorHeader(n int) {
	b.PutID(TypeVector)
	b.PutInt(n)
}

func (b *Buffer) PutLongVector(v []int64) {
	b.PutVectorHeader(len(v))
	for _, x := range v {
		b.PutLong(x)
	}
}

// Put appends raw bytes.
func (b *Buffer) Put(raw []byte) {
	b.Buf = append(b.Buf, raw...)
}

func (b *Buffer) need(n int) error {
	if len(b.Buf) < n {
		return fmt.Errorf("need %d bytes, have %d: %w", n, len(b.Buf), io.ErrUnexpectedEOF)
	}
	return nil
}

// PeekID returns the next constructor id without consuming it.
func (b *Buffer) PeekID() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.Buf), nil
}

func (b *Buffer) ID() (uint32, error) {
	return b.Uint32()
}

// ConsumeID reads an id and checks it equals want.
func (b *Buffer) ConsumeID(want uint32) error {
	id, err := b.ID()
	if err != nil {
		return err
	}
	if id != want {
		return fmt.Errorf("%w: got %#x, want %#x", ErrUnexpectedID, id, want)
	}
	return nil
}

func (b *Buffer) Uint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.Buf)
	b.Buf = b.Buf[4:]
	return v, nil
}

func (b *Buffer) Int32() (int32, error) {
	v, err := b.Uint32()
	return int32(v), err
}

func (b *Buffer) Int() (int, error) {
	v, err := b.Int32()
	return int(v), err
}

func (b *Buffer) Long() (int64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(b.Buf)
	b.Buf = b.Buf[8:]
	return int64(v), nil
}

func (b *Buffer) Int128() (v [16]byte, err error) {
	if err = b.need(16); err != nil {
		return
	}
	copy(v[:], b.Buf)
	b.Buf = b.Buf[16:]
	return
}

func (b *Buffer) Int256() (v [32]byte, err error) {
	if err = b.need(32); err != nil {
		return
	}
	copy(v[:], b.Buf)
	b.Buf = b.Buf[32:]
	return
}

func (b *Buffer) Bool() (bool, error) {
	id, err := b.ID()
	if err != nil {
		return false, err
	}
	switch id {
	case TypeTrue:
		return true, nil
	case TypeFalse:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %#x is not a bool", ErrUnexpectedID, id)
	}
}

// Bytes reads a TL string and returns a copy of its data.
func (b *Buffer) Bytes() ([]byte, error) {
	if err := b.need(1); err != nil {
		return nil, err
	}
	l := int(b.Buf[0])
	hdr := 1
	if l == 0xfe {
		if err := b.need(4); err != nil {
			return nil, err
		}
		l = int(b.Buf[1]) | int(b.Buf[2])<<8 | int(b.Buf[3])<<16
		hdr = 4
	} else if l == 0xff {
		return nil, fmt.Errorf("invalid string length prefix 0xff")
	}
	total := hdr + l
	if total%4 != 0 {
		total += 4 - total%4
	}
	if err := b.need(total); err != nil {
		return nil, err
	}
	v := append([]byte{}, b.Buf[hdr:hdr+l]...)
	b.Buf = b.Buf[total:]
	return v, nil
}

func (b *Buffer) String() (string, error) {
	v, err := b.Bytes()
	return string(v), err
}

// VectorHeader reads a boxed vector header and returns the element count.
func (b *Buffer) VectorHeader() (int, error) {
	if err := b.ConsumeID(TypeVector); err != nil {
		return 0, err
	}
	n, err := b.Int()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative vector length %d", n)
	}
	return n, nil
}

func (b *Buffer) LongVector() ([]int64, error) {
	n, err := b.VectorHeader()
	if err != nil {
		return nil, err
	}
	if err := b.need(n * 8); err != nil {
		return nil, err
	}
	v := make([]int64, n)
	for i := range v {
		v[i], _ = b.Long()
	}
	return v, nil
}

// Skip drops n bytes.
func (b *Buffer) Skip(n int) error {
	if err := b.need(n); err != nil {
		return err
	}
	b.Buf = b.Buf[n:]
	return nil
}
