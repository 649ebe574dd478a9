package proto

import (
	"fmt"
	"time"
)

// Checker validates decrypted envelopes against session state.
type Checker struct {
	SessionID int64
	// FromServer selects the parity rule: server message ids are 1 or 3
	// mod 4, client ones are divisible by 4.
	FromServer bool
	Now        func() time.Time
	Replay     *Replay
}

func (c *Checker) Check(m *Message) error {
	if m.SessionID != c.SessionID {
		return fmt.Errorf("%w: session id %d, want %d", ErrIntegrity, m.SessionID, c.SessionID)
	}
	mod := m.MsgID & 3
	if c.FromServer && mod != 1 && mod != 3 {
		return fmt.Errorf("%w: server message id %d has parity %d", ErrIntegrity, m.MsgID, mod)
	}
	if !c.FromServer && mod != 0 {
		return fmt.Errorf("%w: client message id %d not divisible by 4", ErrIntegrity, m.MsgID)
	}
	now := c.Now().Unix()
	t := m.MsgID >> 32
	if t < now-maxPast {
		return fmt.Errorf("%w: message id %d is %ds old", ErrIntegrity, m.MsgID, now-t)
	}
	if t > now+maxFuture {
		return fmt.Errorf("%w: message id %d is %ds in the future", ErrIntegrity, m.MsgID, t-now)
	}
	if c.Replay != nil {
		return c.Replay.Observe(m.MsgID)
	}
	return nil
}
