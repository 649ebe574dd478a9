package mt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geovex/mtcore/internal/bin"
)

func TestDecodeService(t *testing.T) {
	msgs := []Message{
		&ResPQ{Nonce: [16]byte{1}, ServerNonce: [16]byte{2}, PQ: []byte{0x17, 0xed}, Fingerprints: []int64{-5, 7}},
		&BadServerSalt{BadMsgID: 10, BadMsgSeqNo: 3, Code: CodeBadServerSalt, NewServerSalt: 99},
		&NewSessionCreated{FirstMsgID: 1, UniqueID: 2, ServerSalt: 3},
		&PingDelayDisconnect{PingID: 42, DisconnectDelay: 75},
		&FutureSalts{ReqMsgID: 5, Now: 100, Salts: []FutureSalt{{ValidSince: 1, ValidUntil: 2, Salt: 3}}},
		&MsgsAck{MsgIDs: []int64{1, 2, 3}},
		&RPCError{Code: 420, Message: "FLOOD_WAIT_30"},
	}
	for _, m := range msgs {
		got, err := Decode(Encode(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestDecodeUnknown(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04, 0xaa, 0xbb, 0xcc, 0xdd}
	m, err := Decode(raw)
	require.NoError(t, err)
	u, ok := m.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, uint32(0x04030201), u.ID)
	assert.Equal(t, raw, u.Raw)
	assert.Equal(t, raw, Encode(u))
}

func TestDecodeTruncated(t *testing.T) {
	data := Encode(&BadMsgNotification{BadMsgID: 1, BadMsgSeqNo: 2, Code: 16})
	_, err := Decode(data[:len(data)-2])
	assert.Error(t, err)
}

func TestContainer(t *testing.T) {
	ping := Encode(&Ping{PingID: 1})
	c := &MsgContainer{Messages: []Inner{
		{MsgID: 4, SeqNo: 1, Body: ping},
		{MsgID: 8, SeqNo: 2, Body: Encode(&MsgsAck{MsgIDs: []int64{4}})},
	}}
	m, err := Decode(Encode(c))
	require.NoError(t, err)
	got := m.(*MsgContainer)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, ping, got.Messages[0].Body)

	bad := Encode(c)
	// first inner length field
	bad[4+4+8+4] = 0xff
	_, err = Decode(bad)
	assert.Error(t, err)
}

func TestRPCResultKeepsBody(t *testing.T) {
	var b bin.Buffer
	b.PutID(0x11223344)
	b.PutLong(7)
	r := &RPCResult{ReqMsgID: 77, Result: b.Copy()}
	m, err := Decode(Encode(r))
	require.NoError(t, err)
	assert.Equal(t, r, m)
}

func TestGzipUnwrap(t *testing.T) {
	inner := Encode(&RPCError{Code: 500, Message: strings.Repeat("INTERNAL", 50)})
	packed, err := Pack(inner)
	require.NoError(t, err)
	assert.Less(t, len(packed.Data), len(inner))

	twice, err := Pack(Encode(packed))
	require.NoError(t, err)
	out, err := Unwrap(Encode(twice))
	require.NoError(t, err)
	assert.Equal(t, inner, out)

	plain, err := Unwrap(inner)
	require.NoError(t, err)
	assert.Equal(t, inner, plain)

	_, err = (&GzipPacked{Data: []byte("not gzip")}).Unpack()
	assert.Error(t, err)
}

func TestIsContent(t *testing.T) {
	assert.True(t, IsContent(&PingDelayDisconnect{}))
	assert.False(t, IsContent(&MsgsAck{}))
	assert.False(t, IsContent(&MsgContainer{}))
}
