package mt

import (
	"errors"
	"fmt"

	"github.com/geovex/mtcore/internal/bin"
)

// RPCResult carries the answer for the request with ReqMsgID. Result is the
// raw boxed answer, possibly rpc_error or gzip_packed.
type RPCResult struct {
	ReqMsgID int64
	Result   []byte
}

func (m *RPCResult) TypeID() uint32 { return RPCResultID }

func (m *RPCResult) Encode(b *bin.Buffer) {
	b.PutID(RPCResultID)
	b.PutLong(m.ReqMsgID)
	b.Put(m.Result)
}

func (m *RPCResult) decode(b *bin.Buffer) (err error) {
	if m.ReqMsgID, err = b.Long(); err != nil {
		return
	}
	m.Result = b.Copy()
	b.Reset()
	return nil
}

type RPCError struct {
	Code    int32
	Message string
}

func (m *RPCError) TypeID() uint32 { return RPCErrorID }

func (m *RPCError) Encode(b *bin.Buffer) {
	b.PutID(RPCErrorID)
	b.PutInt32(m.Code)
	b.PutString(m.Message)
}

func (m *RPCError) decode(b *bin.Buffer) (err error) {
	if m.Code, err = b.Int32(); err != nil {
		return
	}
	m.Message, err = b.String()
	return
}

// maximum number of messages accepted in one container
const maxContainerLen = 1024

// Inner is one message of a container.
type Inner struct {
	MsgID int64
	SeqNo int32
	Body  []byte
}

type MsgContainer struct {
	Messages []Inner
}

func (m *MsgContainer) TypeID() uint32 { return MsgContainerID }

func (m *MsgContainer) Encode(b *bin.Buffer) {
	b.PutID(MsgContainerID)
	b.PutInt(len(m.Messages))
	for _, msg := range m.Messages {
		b.PutLong(msg.MsgID)
		b.PutInt32(msg.SeqNo)
		b.PutInt(len(msg.Body))
		b.Put(msg.Body)
	}
}

func (m *MsgContainer) decode(b *bin.Buffer) error {
	n, err := b.Int()
	if err != nil {
		return err
	}
	if n < 0 || n > maxContainerLen {
		return fmt.Errorf("container of %d messages", n)
	}
	m.Messages = make([]Inner, 0, n)
	for i := 0; i < n; i++ {
		var msg Inner
		if msg.MsgID, err = b.Long(); err != nil {
			return err
		}
		if msg.SeqNo, err = b.Int32(); err != nil {
			return err
		}
		l, err := b.Int()
		if err != nil {
			return err
		}
		if l < 0 || l%4 != 0 || l > b.Len() {
			return fmt.Errorf("bad inner message length %d", l)
		}
		msg.Body = append([]byte{}, b.Buf[:l]...)
		_ = b.Skip(l)
		m.Messages = append(m.Messages, msg)
	}
	return nil
}

type MsgsAck struct {
	MsgIDs []int64
}

func (m *MsgsAck) TypeID() uint32 { return MsgsAckID }

func (m *MsgsAck) Encode(b *bin.Buffer) {
	b.PutID(MsgsAckID)
	b.PutLongVector(m.MsgIDs)
}

func (m *MsgsAck) decode(b *bin.Buffer) (err error) {
	m.MsgIDs, err = b.LongVector()
	return
}

type MsgResendReq struct {
	MsgIDs []int64
}

func (m *MsgResendReq) TypeID() uint32 { return MsgResendReqID }

func (m *MsgResendReq) Encode(b *bin.Buffer) {
	b.PutID(MsgResendReqID)
	b.PutLongVector(m.MsgIDs)
}

func (m *MsgResendReq) decode(b *bin.Buffer) (err error) {
	m.MsgIDs, err = b.LongVector()
	return
}

// Codes of bad_msg_notification.
const (
	CodeMsgIDTooLow      = 16
	CodeMsgIDTooHigh     = 17
	CodeMsgIDNotMod4     = 18
	CodeMsgIDDuplicate   = 19
	CodeMsgTooOld        = 20
	CodeSeqNoTooLow      = 32
	CodeSeqNoTooHigh     = 33
	CodeSeqNoNotEven     = 34
	CodeSeqNoNotOdd      = 35
	CodeBadServerSalt    = 48
	CodeInvalidContainer = 64
)

type BadMsgNotification struct {
	BadMsgID    int64
	BadMsgSeqNo int32
	Code        int32
}

func (m *BadMsgNotification) TypeID() uint32 { return BadMsgNotificationID }

func (m *BadMsgNotification) Encode(b *bin.Buffer) {
	b.PutID(BadMsgNotificationID)
	b.PutLong(m.BadMsgID)
	b.PutInt32(m.BadMsgSeqNo)
	b.PutInt32(m.Code)
}

func (m *BadMsgNotification) decode(b *bin.Buffer) (err error) {
	if m.BadMsgID, err = b.Long(); err != nil {
		return
	}
	if m.BadMsgSeqNo, err = b.Int32(); err != nil {
		return
	}
	m.Code, err = b.Int32()
	return
}

type BadServerSalt struct {
	BadMsgID      int64
	BadMsgSeqNo   int32
	Code          int32
	NewServerSalt int64
}

func (m *BadServerSalt) TypeID() uint32 { return BadServerSaltID }

func (m *BadServerSalt) Encode(b *bin.Buffer) {
	b.PutID(BadServerSaltID)
	b.PutLong(m.BadMsgID)
	b.PutInt32(m.BadMsgSeqNo)
	b.PutInt32(m.Code)
	b.PutLong(m.NewServerSalt)
}

func (m *BadServerSalt) decode(b *bin.Buffer) (err error) {
	if m.BadMsgID, err = b.Long(); err != nil {
		return
	}
	if m.BadMsgSeqNo, err = b.Int32(); err != nil {
		return
	}
	if m.Code, err = b.Int32(); err != nil {
		return
	}
	m.NewServerSalt, err = b.Long()
	return
}

type NewSessionCreated struct {
	FirstMsgID int64
	UniqueID   int64
	ServerSalt int64
}

func (m *NewSessionCreated) TypeID() uint32 { return NewSessionCreatedID }

func (m *NewSessionCreated) Encode(b *bin.Buffer) {
	b.PutID(NewSessionCreatedID)
	b.PutLong(m.FirstMsgID)
	b.PutLong(m.UniqueID)
	b.PutLong(m.ServerSalt)
}

func (m *NewSessionCreated) decode(b *bin.Buffer) (err error) {
	if m.FirstMsgID, err = b.Long(); err != nil {
		return
	}
	if m.UniqueID, err = b.Long(); err != nil {
		return
	}
	m.ServerSalt, err = b.Long()
	return
}

type Ping struct {
	PingID int64
}

func (m *Ping) TypeID() uint32 { return PingID }

func (m *Ping) Encode(b *bin.Buffer) {
	b.PutID(PingID)
	b.PutLong(m.PingID)
}

func (m *Ping) decode(b *bin.Buffer) (err error) {
	m.PingID, err = b.Long()
	return
}

// PingDelayDisconnect asks the server to close the connection when no
// further ping arrives within DisconnectDelay seconds.
type PingDelayDisconnect struct {
	PingID          int64
	DisconnectDelay int32
}

func (m *PingDelayDisconnect) TypeID() uint32 { return PingDelayDisconnectID }

func (m *PingDelayDisconnect) Encode(b *bin.Buffer) {
	b.PutID(PingDelayDisconnectID)
	b.PutLong(m.PingID)
	b.PutInt32(m.DisconnectDelay)
}

func (m *PingDelayDisconnect) decode(b *bin.Buffer) (err error) {
	if m.PingID, err = b.Long(); err != nil {
		return
	}
	m.DisconnectDelay, err = b.Int32()
	return
}

type Pong struct {
	MsgID  int64
	PingID int64
}

func (m *Pong) TypeID() uint32 { return PongID }

func (m *Pong) Encode(b *bin.Buffer) {
	b.PutID(PongID)
	b.PutLong(m.MsgID)
	b.PutLong(m.PingID)
}

func (m *Pong) decode(b *bin.Buffer) (err error) {
	if m.MsgID, err = b.Long(); err != nil {
		return
	}
	m.PingID, err = b.Long()
	return
}

type MsgDetailedInfo struct {
	MsgID       int64
	AnswerMsgID int64
	Bytes       int32
	Status      int32
}

func (m *MsgDetailedInfo) TypeID() uint32 { return MsgDetailedInfoID }

func (m *MsgDetailedInfo) Encode(b *bin.Buffer) {
	b.PutID(MsgDetailedInfoID)
	b.PutLong(m.MsgID)
	b.PutLong(m.AnswerMsgID)
	b.PutInt32(m.Bytes)
	b.PutInt32(m.Status)
}

func (m *MsgDetailedInfo) decode(b *bin.Buffer) (err error) {
	if m.MsgID, err = b.Long(); err != nil {
		return
	}
	if m.AnswerMsgID, err = b.Long(); err != nil {
		return
	}
	if m.Bytes, err = b.Int32(); err != nil {
		return
	}
	m.Status, err = b.Int32()
	return
}

type MsgNewDetailedInfo struct {
	AnswerMsgID int64
	Bytes       int32
	Status      int32
}

func (m *MsgNewDetailedInfo) TypeID() uint32 { return MsgNewDetailedInfoID }

func (m *MsgNewDetailedInfo) Encode(b *bin.Buffer) {
	b.PutID(MsgNewDetailedInfoID)
	b.PutLong(m.AnswerMsgID)
	b.PutInt32(m.Bytes)
	b.PutInt32(m.Status)
}

func (m *MsgNewDetailedInfo) decode(b *bin.Buffer) (err error) {
	if m.AnswerMsgID, err = b.Long(); err != nil {
		return
	}
	if m.Bytes, err = b.Int32(); err != nil {
		return
	}
	m.Status, err = b.Int32()
	return
}

type GetFutureSalts struct {
	Num int32
}

func (m *GetFutureSalts) TypeID() uint32 { return GetFutureSaltsID }

func (m *GetFutureSalts) Encode(b *bin.Buffer) {
	b.PutID(GetFutureSaltsID)
	b.PutInt32(m.Num)
}

func (m *GetFutureSalts) decode(b *bin.Buffer) (err error) {
	m.Num, err = b.Int32()
	return
}

type FutureSalt struct {
	ValidSince int32
	ValidUntil int32
	Salt       int64
}

type FutureSalts struct {
	ReqMsgID int64
	Now      int32
	Salts    []FutureSalt
}

func (m *FutureSalts) TypeID() uint32 { return FutureSaltsID }

func (m *FutureSalts) Encode(b *bin.Buffer) {
	b.PutID(FutureSaltsID)
	b.PutLong(m.ReqMsgID)
	b.PutInt32(m.Now)
	b.PutInt(len(m.Salts))
	for _, s := range m.Salts {
		b.PutInt32(s.ValidSince)
		b.PutInt32(s.ValidUntil)
		b.PutLong(s.Salt)
	}
}

func (m *FutureSalts) decode(b *bin.Buffer) (err error) {
	if m.ReqMsgID, err = b.Long(); err != nil {
		return
	}
	if m.Now, err = b.Int32(); err != nil {
		return
	}
	n, err := b.Int()
	if err != nil {
		return err
	}
	if n < 0 || n*16 > b.Len() {
		return errors.New("bad future salts count")
	}
	m.Salts = make([]FutureSalt, n)
	for i := range m.Salts {
		m.Salts[i].ValidSince, _ = b.Int32()
		m.Salts[i].ValidUntil, _ = b.Int32()
		m.Salts[i].Salt, _ = b.Long()
	}
	return nil
}

type DestroySession struct {
	SessionID int64
}

func (m *DestroySession) TypeID() uint32 { return DestroySessionID }

func (m *DestroySession) Encode(b *bin.Buffer) {
	b.PutID(DestroySessionID)
	b.PutLong(m.SessionID)
}

func (m *DestroySession) decode(b *bin.Buffer) (err error) {
	m.SessionID, err = b.Long()
	return
}
