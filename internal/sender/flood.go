package sender

import (
	"context"
	"sync"
	"time"
)

// floodRegistry remembers until when each request type is flood limited.
// Deadlines only move forward.
type floodRegistry struct {
	mu        sync.Mutex
	now       func() time.Time
	deadlines map[string]time.Time
}

func newFloodRegistry(now func() time.Time) *floodRegistry {
	return &floodRegistry{now: now, deadlines: map[string]time.Time{}}
}

// record extends the deadline of name by wait from now and returns the
// resulting deadline.
func (f *floodRegistry) record(name string, wait time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	until := f.now().Add(wait)
	if cur, ok := f.deadlines[name]; ok && cur.After(until) {
		return cur
	}
	f.deadlines[name] = until
	return until
}

// remaining returns how long name stays limited.
func (f *floodRegistry) remaining(name string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.deadlines[name]
	if !ok {
		return 0
	}
	left := until.Sub(f.now())
	if left <= 0 {
		delete(f.deadlines, name)
		return 0
	}
	return left
}

// wait sleeps out an active limit up to threshold and fails with
// *FloodWaitError beyond it.
func (f *floodRegistry) wait(ctx context.Context, name string, threshold time.Duration) error {
	left := f.remaining(name)
	if left == 0 {
		return nil
	}
	if left > threshold {
		return &FloodWaitError{Type: name, Wait: left}
	}
	return sleep(ctx, left)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
