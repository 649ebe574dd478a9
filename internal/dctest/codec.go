package dctest

import (
	"fmt"

	"github.com/geovex/mtcore/internal/bin"
	"github.com/geovex/mtcore/internal/sender"
)

// Constructor ids of the test schema.
const (
	CallID   uint32 = 0x1cfa0a11
	AnswerID uint32 = 0x2a5e0b22
	UpdateID uint32 = 0x3bd9c033
)

// Call is the only request type of the test schema. Method doubles as the
// flood limit type name.
type Call struct {
	Method string
	Arg    string
}

func (c *Call) TypeName() string {
	return c.Method
}

type Answer struct {
	Text string
}

type Update struct {
	Text string
}

// Codec encodes the test schema.
type Codec struct{}

var _ sender.Codec = Codec{}

func (Codec) Encode(req sender.Request) ([]byte, error) {
	c, ok := req.(*Call)
	if !ok {
		return nil, fmt.Errorf("unsupported request %T", req)
	}
	var b bin.Buffer
	b.PutID(CallID)
	b.PutString(c.Method)
	b.PutString(c.Arg)
	return b.Buf, nil
}

func (Codec) Decode(data []byte) (any, error) {
	b := &bin.Buffer{Buf: data}
	id, err := b.ID()
	if err != nil {
		return nil, err
	}
	switch id {
	case CallID:
		c := &Call{}
		if c.Method, err = b.String(); err != nil {
			return nil, err
		}
		if c.Arg, err = b.String(); err != nil {
			return nil, err
		}
		return c, nil
	case AnswerID:
		s, err := b.String()
		return &Answer{Text: s}, err
	case UpdateID:
		s, err := b.String()
		return &Update{Text: s}, err
	}
	return nil, fmt.Errorf("unknown constructor %08x", id)
}

func encodeText(id uint32, s string) []byte {
	var b bin.Buffer
	b.PutID(id)
	b.PutString(s)
	return b.Buf
}
