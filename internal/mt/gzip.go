package mt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/geovex/mtcore/internal/bin"
)

// upper bound for an unpacked gzip_packed payload
const maxUnpacked = 16 << 20

// GzipPacked holds the compressed bytes of a boxed object.
type GzipPacked struct {
	Data []byte
}

func (m *GzipPacked) TypeID() uint32 { return GzipPackedID }

func (m *GzipPacked) Encode(b *bin.Buffer) {
	b.PutID(GzipPackedID)
	b.PutBytes(m.Data)
}

func (m *GzipPacked) decode(b *bin.Buffer) (err error) {
	m.Data, err = b.Bytes()
	return
}

// Pack compresses a boxed object.
func Pack(obj []byte) (*GzipPacked, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(obj); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &GzipPacked{Data: buf.Bytes()}, nil
}

// Unpack returns the compressed boxed object.
func (m *GzipPacked) Unpack() ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(m.Data))
	if err != nil {
		return nil, fmt.Errorf("gzip_packed: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxUnpacked+1))
	if err != nil {
		return nil, fmt.Errorf("gzip_packed: %w", err)
	}
	if len(out) > maxUnpacked {
		return nil, fmt.Errorf("gzip_packed: payload over %d bytes", maxUnpacked)
	}
	return out, nil
}

// Unwrap strips any number of gzip_packed layers from a boxed object.
func Unwrap(obj []byte) ([]byte, error) {
	for {
		b := bin.Buffer{Buf: obj}
		id, err := b.PeekID()
		if err != nil || id != GzipPackedID {
			return obj, err
		}
		m, err := Decode(obj)
		if err != nil {
			return nil, err
		}
		if obj, err = m.(*GzipPacked).Unpack(); err != nil {
			return nil, err
		}
	}
}
