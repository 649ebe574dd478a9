package sender

import (
	"context"
	"time"
)

func (s *Sender) keepaliveTick() time.Duration {
	tick := s.opts.PingInterval
	if s.opts.Keepalive != nil && s.opts.KeepaliveInterval > 0 && (tick <= 0 || s.opts.KeepaliveInterval < tick) {
		tick = s.opts.KeepaliveInterval
	}
	return tick / 2
}

// keepalive pings idle connections and periodically invokes the content
// keepalive request so the server keeps sending updates.
func (s *Sender) keepalive(ctx context.Context) {
	tick := s.keepaliveTick()
	if tick <= 0 {
		return
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if s.opts.PingInterval > 0 {
			s.pingIdle(ctx)
		}
		if s.opts.Keepalive != nil && s.opts.KeepaliveInterval > 0 &&
			time.Since(time.Unix(0, s.lastRequest.Load())) >= s.opts.KeepaliveInterval {
			s.lastRequest.Store(time.Now().UnixNano())
			go func() {
				req := s.opts.Keepalive()
				if _, err := s.Invoke(ctx, req); err != nil && ctx.Err() == nil {
					s.log.WithError(err).WithField("request", req.TypeName()).Warn("keepalive request failed")
				}
			}()
		}
	}
}

func (s *Sender) pingIdle(ctx context.Context) {
	s.mu.Lock()
	conns := []*conn{}
	if s.primary != nil {
		conns = append(conns, s.primary)
	}
	s.mu.Unlock()
	conns = append(conns, s.pool.conns()...)
	for _, c := range conns {
		if !c.alive() || c.idle() < s.opts.PingInterval {
			continue
		}
		go func(c *conn) {
			pctx, cancel := context.WithTimeout(ctx, s.opts.PingInterval)
			defer cancel()
			if _, err := c.ping(pctx, s.opts.PingDisconnect); err != nil {
				c.log.WithError(err).Debug("keepalive ping failed")
				return
			}
			if err := c.refreshSalts(pctx); err != nil {
				c.log.WithError(err).Debug("future salts request failed")
			}
		}(c)
	}
}
