package proto

import (
	"fmt"
	"slices"
	"sync"
)

const replayWindow = 512

// Replay remembers recent incoming message ids.
type Replay struct {
	mu   sync.Mutex
	seen map[int64]struct{}
	ids  []int64
}

func NewReplay() *Replay {
	return &Replay{seen: map[int64]struct{}{}}
}

// Observe records id and fails when it was already seen or is older than
// everything the full window still remembers.
func (r *Replay) Observe(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		return fmt.Errorf("%w: replayed message id %d", ErrIntegrity, id)
	}
	if len(r.ids) >= replayWindow && id < r.ids[0] {
		return fmt.Errorf("%w: message id %d below replay window", ErrIntegrity, id)
	}
	i, _ := slices.BinarySearch(r.ids, id)
	r.ids = slices.Insert(r.ids, i, id)
	r.seen[id] = struct{}{}
	if len(r.ids) > replayWindow {
		delete(r.seen, r.ids[0])
		r.ids = r.ids[1:]
	}
	return nil
}
