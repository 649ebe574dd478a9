// Package mt holds the handshake and service messages of the protocol as a
// closed set of Go types. Application schema objects never pass through here;
// they stay opaque byte slices.
package mt

import (
	"fmt"

	"github.com/geovex/mtcore/internal/bin"
)

// Constructor ids.
const (
	ReqPQMultiID          uint32 = 0xbe7e8ef1
	ResPQID               uint32 = 0x05162463
	PQInnerDataDCID       uint32 = 0xa9f55f95
	ReqDHParamsID         uint32 = 0xd712e4be
	ServerDHParamsFailID  uint32 = 0x79cb045d
	ServerDHParamsOKID    uint32 = 0xd0e8075c
	ServerDHInnerDataID   uint32 = 0xb5890dba
	ClientDHInnerDataID   uint32 = 0x6643b654
	SetClientDHParamsID   uint32 = 0xf5045f1f
	DHGenOKID             uint32 = 0x3bcbf734
	DHGenRetryID          uint32 = 0x46dc1fb9
	DHGenFailID           uint32 = 0xa69dae02
	RPCResultID           uint32 = 0xf35c6d01
	RPCErrorID            uint32 = 0x2144ca19
	MsgContainerID        uint32 = 0x73f1f8dc
	GzipPackedID          uint32 = 0x3072cfa1
	MsgsAckID             uint32 = 0x62d6b459
	BadMsgNotificationID  uint32 = 0xa7eff811
	BadServerSaltID       uint32 = 0xedab447b
	NewSessionCreatedID   uint32 = 0x9ec20908
	PingID                uint32 = 0x7abe77ec
	PongID                uint32 = 0x347773c5
	PingDelayDisconnectID uint32 = 0xf3427b8c
	MsgDetailedInfoID     uint32 = 0x276d3ec6
	MsgNewDetailedInfoID  uint32 = 0x809db6df
	GetFutureSaltsID      uint32 = 0xb921bd04
	FutureSaltsID         uint32 = 0xae500895
	MsgResendReqID        uint32 = 0x7d861a08
	DestroySessionID      uint32 = 0xe7512126
)

// Message is implemented only by the types of this package.
type Message interface {
	TypeID() uint32
	Encode(b *bin.Buffer)
	decode(b *bin.Buffer) error
}

// Unknown is any object that is not a handshake or service message. Raw
// includes the constructor id.
type Unknown struct {
	ID  uint32
	Raw []byte
}

func (u *Unknown) TypeID() uint32 { return u.ID }

func (u *Unknown) Encode(b *bin.Buffer) { b.Put(u.Raw) }

func (u *Unknown) decode(b *bin.Buffer) error {
	u.Raw = b.Copy()
	b.Reset()
	return nil
}

func newMessage(id uint32) Message {
	switch id {
	case ReqPQMultiID:
		return &ReqPQMulti{}
	case ResPQID:
		return &ResPQ{}
	case PQInnerDataDCID:
		return &PQInnerDataDC{}
	case ReqDHParamsID:
		return &ReqDHParams{}
	case ServerDHParamsFailID:
		return &ServerDHParamsFail{}
	case ServerDHParamsOKID:
		return &ServerDHParamsOK{}
	case ServerDHInnerDataID:
		return &ServerDHInnerData{}
	case ClientDHInnerDataID:
		return &ClientDHInnerData{}
	case SetClientDHParamsID:
		return &SetClientDHParams{}
	case DHGenOKID:
		return &DHGenOK{}
	case DHGenRetryID:
		return &DHGenRetry{}
	case DHGenFailID:
		return &DHGenFail{}
	case RPCResultID:
		return &RPCResult{}
	case RPCErrorID:
		return &RPCError{}
	case MsgContainerID:
		return &MsgContainer{}
	case GzipPackedID:
		return &GzipPacked{}
	case MsgsAckID:
		return &MsgsAck{}
	case BadMsgNotificationID:
		return &BadMsgNotification{}
	case BadServerSaltID:
		return &BadServerSalt{}
	case NewSessionCreatedID:
		return &NewSessionCreated{}
	case PingID:
		return &Ping{}
	case PongID:
		return &Pong{}
	case PingDelayDisconnectID:
		return &PingDelayDisconnect{}
	case MsgDetailedInfoID:
		return &MsgDetailedInfo{}
	case MsgNewDetailedInfoID:
		return &MsgNewDetailedInfo{}
	case GetFutureSaltsID:
		return &GetFutureSalts{}
	case FutureSaltsID:
		return &FutureSalts{}
	case MsgResendReqID:
		return &MsgResendReq{}
	case DestroySessionID:
		return &DestroySession{}
	}
	return nil
}

// Decode parses one boxed object. Objects outside this package come back as
// *Unknown.
func Decode(data []byte) (Message, error) {
	b := &bin.Buffer{Buf: data}
	id, err := b.PeekID()
	if err != nil {
		return nil, err
	}
	m := newMessage(id)
	if m == nil {
		u := &Unknown{ID: id}
		_ = u.decode(b)
		return u, nil
	}
	_, _ = b.ID()
	if err := m.decode(b); err != nil {
		return nil, fmt.Errorf("decode %T: %w", m, err)
	}
	return m, nil
}

// Encode serializes m into a fresh slice.
func Encode(m Message) []byte {
	var b bin.Buffer
	m.Encode(&b)
	return b.Buf
}

// IsContent reports whether m is content related, i.e. needs an odd seqno
// and an acknowledgement.
func IsContent(m Message) bool {
	switch m.(type) {
	case *MsgsAck, *MsgContainer:
		return false
	}
	return true
}
