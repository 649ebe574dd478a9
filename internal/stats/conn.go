package stats

import "time"

type ConnState uint8

const (
	Idle ConnState = iota
	Connecting
	Handshaking
	Connected
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Conn is the recorded state of one sender connection.
type Conn struct {
	DC       int
	Exported bool
	State    ConnState
	Requests uint64
	Failures uint64
	RTT      time.Duration
}

type StatsHandle struct {
	stats *Stats
	conn  *Conn
}

func (sh *StatsHandle) Close() {
	sh.SetState(Closed)
	sh.stats.removeConn(sh.conn)
}

func (sh *StatsHandle) SetState(state ConnState) {
	sh.stats.lock.Lock()
	sh.conn.State = state
	sh.stats.lock.Unlock()
}

// AddRequest counts a finished request.
func (sh *StatsHandle) AddRequest(failed bool) {
	sh.stats.lock.Lock()
	sh.conn.Requests++
	if failed {
		sh.conn.Failures++
	}
	sh.stats.lock.Unlock()
}

func (sh *StatsHandle) SetRTT(rtt time.Duration) {
	sh.stats.lock.Lock()
	sh.conn.RTT = rtt
	sh.stats.lock.Unlock()
}
