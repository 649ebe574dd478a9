package proto

import (
	"sync"
	"time"

	"github.com/geovex/mtcore/internal/mt"
)

// Salts keeps the current server salt and any future salts announced by the
// server.
type Salts struct {
	mu      sync.Mutex
	current int64
	future  []mt.FutureSalt
}

func (s *Salts) Set(salt int64) {
	s.mu.Lock()
	s.current = salt
	s.mu.Unlock()
}

// Store remembers salts from future_salts.
func (s *Salts) Store(salts []mt.FutureSalt) {
	s.mu.Lock()
	s.future = append([]mt.FutureSalt{}, salts...)
	s.mu.Unlock()
}

// Get returns the salt to use at now. A future salt valid at now replaces
// the current one.
func (s *Salts) Get(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := int32(now.Unix())
	kept := s.future[:0]
	for _, f := range s.future {
		if f.ValidUntil <= t {
			continue
		}
		kept = append(kept, f)
		if f.ValidSince <= t {
			s.current = f.Salt
		}
	}
	s.future = kept
	return s.current
}

// NeedMore reports whether fewer than n future salts are known.
func (s *Salts) NeedMore(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.future) < n
}
