package sender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geovex/mtcore/internal/stats"
)

type poolEntry struct {
	ready chan struct{}
	c     *conn
	stats *stats.StatsHandle
	err   error
}

// Pool shares exported connections to secondary DCs. Concurrent callers
// asking for the same DC wait for a single creation. The creation runs on
// the pool's own context, a caller giving up only stops its own wait.
type Pool struct {
	mu      sync.Mutex
	entries map[int]*poolEntry
	base    context.Context
	timeout time.Duration
	create  func(ctx context.Context, dc int) (*conn, *stats.StatsHandle, error)
	created atomic.Int32
}

func newPool(base context.Context, timeout time.Duration, create func(ctx context.Context, dc int) (*conn, *stats.StatsHandle, error)) *Pool {
	return &Pool{entries: map[int]*poolEntry{}, base: base, timeout: timeout, create: create}
}

// Created counts the connections the pool has made so far.
func (p *Pool) Created() int {
	return int(p.created.Load())
}

func (p *Pool) get(ctx context.Context, dc int) (*conn, *stats.StatsHandle, error) {
	for {
		p.mu.Lock()
		e, ok := p.entries[dc]
		if !ok {
			e = &poolEntry{ready: make(chan struct{})}
			p.entries[dc] = e
			go p.build(dc, e)
		}
		p.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if e.err == nil && e.c.alive() {
			return e.c, e.stats, nil
		}
		if e.err != nil {
			if p.base.Err() != nil {
				return nil, nil, ErrClosed
			}
			if errors.Is(e.err, context.Canceled) {
				continue
			}
			return nil, nil, e.err
		}
		p.drop(dc, e.c)
	}
}

func (p *Pool) build(dc int, e *poolEntry) {
	defer close(e.ready)
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(p.base, p.timeout)
	} else {
		ctx, cancel = context.WithCancel(p.base)
	}
	defer cancel()
	e.c, e.stats, e.err = p.create(ctx, dc)
	if e.err != nil {
		p.remove(dc, e)
		return
	}
	p.created.Add(1)
}

func (p *Pool) remove(dc int, e *poolEntry) {
	p.mu.Lock()
	if p.entries[dc] == e {
		delete(p.entries, dc)
	}
	p.mu.Unlock()
}

func ready(e *poolEntry) bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// drop closes c and forgets it so that the next get dials again.
func (p *Pool) drop(dc int, c *conn) {
	c.close()
	p.mu.Lock()
	e, ok := p.entries[dc]
	if ok && ready(e) && e.c == c {
		delete(p.entries, dc)
	} else {
		e = nil
	}
	p.mu.Unlock()
	if e != nil && e.stats != nil {
		e.stats.Close()
	}
}

func (p *Pool) conns() []*conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*conn
	for _, e := range p.entries {
		if ready(e) && e.c != nil {
			out = append(out, e.c)
		}
	}
	return out
}

func (p *Pool) close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = map[int]*poolEntry{}
	p.mu.Unlock()
	for _, e := range entries {
		<-e.ready
		if e.c != nil {
			e.c.close()
		}
		if e.stats != nil {
			e.stats.Close()
		}
	}
}
