// Package session keeps the per-DC state of one client: auth keys, salts
// and time offsets, and serializes it to an opaque versioned blob.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/geovex/mtcore/internal/tgcrypt"
)

var (
	// ErrNotFound is returned by storages that hold no session yet.
	ErrNotFound = errors.New("session not found")
	// ErrKeyBound is returned when an auth key is offered for a second DC.
	ErrKeyBound = errors.New("auth key is bound to another dc")
)

// DCState is what the session remembers about one DC.
type DCState struct {
	ID         int
	Addr       string
	AuthKey    tgcrypt.AuthKey
	Salt       int64
	TimeOffset int64
}

// Session is safe for concurrent use. Only the sender owning the connection
// to a DC is expected to mutate that DC's state.
type Session struct {
	mu      sync.RWMutex
	primary int
	dcs     map[int]*DCState
}

func New(primary int) *Session {
	return &Session{
		primary: primary,
		dcs:     map[int]*DCState{},
	}
}

func (s *Session) PrimaryDC() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

func (s *Session) SetPrimary(id int) {
	s.mu.Lock()
	s.primary = id
	s.mu.Unlock()
}

// DC returns a copy of the state of DC id.
func (s *Session) DC(id int) (DCState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.dcs[id]
	if !ok {
		return DCState{ID: id}, false
	}
	return *st, true
}

// DCs lists known DC ids in order.
func (s *Session) DCs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.dcs))
	for id := range s.dcs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Session) state(id int) *DCState {
	st, ok := s.dcs[id]
	if !ok {
		st = &DCState{ID: id}
		s.dcs[id] = st
	}
	return st
}

// SetAuthKey stores a fresh key for DC id. A key already used by another DC
// is refused.
func (s *Session) SetAuthKey(id int, addr string, key tgcrypt.AuthKey, salt, timeOffset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for other, st := range s.dcs {
		if other != id && !st.AuthKey.Zero() && bytes.Equal(st.AuthKey.ID[:], key.ID[:]) {
			return fmt.Errorf("%w: %v already used by dc %d", ErrKeyBound, key, other)
		}
	}
	st := s.state(id)
	st.Addr = addr
	st.AuthKey = key
	st.Salt = salt
	st.TimeOffset = timeOffset
	return nil
}

func (s *Session) SetSalt(id int, salt int64) {
	s.mu.Lock()
	s.state(id).Salt = salt
	s.mu.Unlock()
}

func (s *Session) SetTimeOffset(id int, offset int64) {
	s.mu.Lock()
	s.state(id).TimeOffset = offset
	s.mu.Unlock()
}

// Invalidate drops the auth key of DC id, forcing a new exchange.
func (s *Session) Invalidate(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.dcs[id]; ok {
		st.AuthKey = tgcrypt.AuthKey{}
		st.Salt = 0
	}
}
