package proto

import (
	"sync"
	"time"
)

// Clock is time.Now, replaceable in tests.
type Clock func() time.Time

// MsgIDGen issues strictly increasing client message ids. An id is the unix
// time shifted by 32 bits plus the sub-second part, divisible by 4.
type MsgIDGen struct {
	mu     sync.Mutex
	clock  Clock
	offset time.Duration
	last   int64
}

func NewMsgIDGen(clock Clock) *MsgIDGen {
	if clock == nil {
		clock = time.Now
	}
	return &MsgIDGen{clock: clock}
}

// Now returns the local time corrected by the server offset.
func (g *MsgIDGen) Now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clock().Add(g.offset)
}

func (g *MsgIDGen) New() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock().Add(g.offset)
	id := now.Unix()<<32 | int64(now.Nanosecond())
	id &^= 3
	if id <= g.last {
		id = g.last + 4
	}
	g.last = id
	return id
}

// SetOffset sets the server time offset in seconds.
func (g *MsgIDGen) SetOffset(seconds int64) {
	g.mu.Lock()
	g.offset = time.Duration(seconds) * time.Second
	g.mu.Unlock()
}

func (g *MsgIDGen) Offset() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(g.offset / time.Second)
}

// SyncWith derives the offset from a message id generated by the server.
func (g *MsgIDGen) SyncWith(serverMsgID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	serverTime := serverMsgID >> 32
	g.offset = time.Duration(serverTime-g.clock().Unix()) * time.Second
}

// MsgIDTime extracts the unix time of a message id.
func MsgIDTime(id int64) time.Time {
	return time.Unix(id>>32, 0)
}

// SeqNo numbers messages of one session: content related messages take
// 2n+1 and bump n, others take 2n.
type SeqNo struct {
	mu sync.Mutex
	n  int32
}

func (s *SeqNo) Next(content bool) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if content {
		v := s.n*2 + 1
		s.n++
		return v
	}
	return s.n * 2
}

func (s *SeqNo) Reset() {
	s.mu.Lock()
	s.n = 0
	s.mu.Unlock()
}

// Shift moves the counter after the server rejected a seqno as too low
// (positive delta) or too high (negative delta).
func (s *SeqNo) Shift(delta int32) {
	s.mu.Lock()
	s.n += delta
	if s.n < 0 {
		s.n = 0
	}
	s.mu.Unlock()
}
