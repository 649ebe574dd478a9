// Package stats records the state of sender connections.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Stats struct {
	lock  sync.RWMutex
	conns []*Conn
}

func New() *Stats {
	return &Stats{
		lock:  sync.RWMutex{},
		conns: []*Conn{},
	}
}

func (s *Stats) AllocConn(dc int, exported bool) *StatsHandle {
	s.lock.Lock()
	defer s.lock.Unlock()
	conn := &Conn{DC: dc, Exported: exported, State: Idle}
	s.conns = append(s.conns, conn)
	return &StatsHandle{
		conn:  conn,
		stats: s,
	}
}

func (s *Stats) removeConn(conn *Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
}

// Snapshot copies the live connections ordered by DC.
func (s *Stats) Snapshot() []Conn {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DC < out[j].DC })
	return out
}

func (s *Stats) AsString() string {
	conns := s.Snapshot()
	perState := map[ConnState]int{}
	for _, c := range conns {
		perState[c.State]++
	}
	b := &strings.Builder{}
	fmt.Fprintf(b, "Connections:\nTotal: %d\n\n", len(conns))
	for _, c := range conns {
		kind := "main"
		if c.Exported {
			kind = "exported"
		}
		fmt.Fprintf(b, "dc%d %s: %s, requests %d, failures %d, rtt %v\n",
			c.DC, kind, c.State, c.Requests, c.Failures, c.RTT)
	}
	fmt.Fprintf(b, "\nconnected: %d\n", perState[Connected])
	return b.String()
}
