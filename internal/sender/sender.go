// Package sender runs requests over encrypted sessions: it owns the
// connections to the primary DC and to exported DCs, retries failed
// attempts according to a policy table, sleeps out short flood waits,
// follows DC migrations and keeps connections alive.
package sender

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/dcs"
	"github.com/geovex/mtcore/internal/exchange"
	"github.com/geovex/mtcore/internal/proto"
	"github.com/geovex/mtcore/internal/session"
	"github.com/geovex/mtcore/internal/stats"
	"github.com/geovex/mtcore/internal/tgcrypt"
	"github.com/geovex/mtcore/internal/tgerr"
)

const (
	maxMigrations = 5
	// consecutive integrity failures after which a key is not trusted
	integrityLimit = 2
)

var (
	ErrClosed = errors.New("sender closed")
	// ErrRequestTimeout is returned when one attempt got no answer within
	// RequestTimeout. Only that request is abandoned, the connection stays.
	ErrRequestTimeout = errors.New("request timed out")
	errMigrated       = errors.New("session migrated to another dc")
)

// Request is an application request. TypeName identifies the request type
// for flood limits, e.g. "messages.sendMessage".
type Request interface {
	TypeName() string
}

// Codec turns requests into boxed objects and answers or updates back into
// values. It is provided by the schema layer.
type Codec interface {
	Encode(req Request) ([]byte, error)
	Decode(b []byte) (any, error)
}

// UpdateSink receives decoded unsolicited objects and successful results.
type UpdateSink interface {
	HandleUpdate(ctx context.Context, obj any)
	HandleResult(ctx context.Context, req Request, result any)
}

// Exporter builds the request importing the primary authorization into a
// freshly keyed exported DC. It may use s to export it first.
type Exporter interface {
	ExportAuthorization(ctx context.Context, s *Sender, dc int) (Request, error)
}

type Options struct {
	DCs    *dcs.Table
	Dialer exchange.Dialer
	Keys   []tgcrypt.PublicKey
	Codec  Codec
	// Updates and Exporter are optional.
	Updates  UpdateSink
	Exporter Exporter
	// Storage persists the session after key and DC changes, optional.
	Storage session.Storage
	Stats   *stats.Stats

	HandshakeAttempts int
	HandshakeTimeout  time.Duration
	// RequestTimeout bounds one attempt of a request.
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	ReconnectAttempts int
	// FloodThreshold is the longest flood wait slept out transparently.
	FloodThreshold time.Duration
	// PingInterval enables ping_delay_disconnect on idle connections,
	// PingDisconnect is the delay asked from the server.
	PingInterval   time.Duration
	PingDisconnect time.Duration
	// Keepalive, when set, is invoked every KeepaliveInterval to keep the
	// server pushing updates.
	Keepalive         func() Request
	KeepaliveInterval time.Duration

	Random io.Reader
	Clock  proto.Clock
	Logger *logrus.Logger
}

func (o *Options) setDefaults() {
	if o.Random == nil {
		o.Random = rand.Reader
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Stats == nil {
		o.Stats = stats.New()
	}
	if o.DCs == nil {
		o.DCs = dcs.Production()
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.HandshakeAttempts < 1 {
		o.HandshakeAttempts = 1
	}
	if o.PingDisconnect == 0 {
		o.PingDisconnect = o.PingInterval + o.PingInterval/4
	}
}

// exportTimeout bounds the creation of an exported connection: the key
// exchange plus the export and import calls. Zero when either part is
// unbounded.
func (o *Options) exportTimeout() time.Duration {
	if o.HandshakeTimeout <= 0 || o.RequestTimeout <= 0 {
		return 0
	}
	return time.Duration(o.HandshakeAttempts)*o.HandshakeTimeout + 2*o.RequestTimeout
}

// Sender is safe for concurrent use. Requests run concurrently over the
// shared connections.
type Sender struct {
	opts  Options
	sess  *session.Session
	log   *logrus.Entry
	auth  *exchange.Authenticator
	flood *floodRegistry
	pool  *Pool

	// dialMu serializes creation of the primary connection and migration
	dialMu       sync.Mutex
	mu           sync.Mutex
	primary      *conn
	primaryStats *stats.StatsHandle
	integrity    map[int]int
	lastRequest  atomic.Int64

	updates *updateQueue
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
}

func New(sess *session.Session, opts Options) *Sender {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sender{
		opts:  opts,
		sess:  sess,
		log:   opts.Logger.WithField("component", "sender"),
		flood: newFloodRegistry(opts.Clock),
		auth: &exchange.Authenticator{
			Dialer:   opts.Dialer,
			Keys:     opts.Keys,
			Attempts: opts.HandshakeAttempts,
			Timeout:  opts.HandshakeTimeout,
			Random:   opts.Random,
			Clock:    opts.Clock,
			Logger:   opts.Logger,
		},
		integrity: map[int]int{},
		updates:   newUpdateQueue(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.pool = newPool(ctx, opts.exportTimeout(), s.dialExported)
	s.lastRequest.Store(time.Now().UnixNano())
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.updates.run(ctx, s.deliver)
	}()
	go func() {
		defer s.wg.Done()
		s.keepalive(ctx)
	}()
	return s
}

func (s *Sender) Session() *session.Session {
	return s.sess
}

// Pool returns the exported connection pool.
func (s *Sender) Pool() *Pool {
	return s.pool
}

// Connect opens the primary connection, generating an auth key first when
// the session has none for the primary DC.
func (s *Sender) Connect(ctx context.Context) error {
	_, _, err := s.primaryConn(ctx)
	return err
}

// Invoke runs req on the primary DC.
func (s *Sender) Invoke(ctx context.Context, req Request) (any, error) {
	return s.invoke(ctx, 0, req)
}

// InvokeOn runs req on an exported connection to dc.
func (s *Sender) InvokeOn(ctx context.Context, dc int, req Request) (any, error) {
	return s.invoke(ctx, dc, req)
}

// Ping measures the round trip to the primary DC.
func (s *Sender) Ping(ctx context.Context) (time.Duration, error) {
	c, _, err := s.primaryConn(ctx)
	if err != nil {
		return 0, err
	}
	return c.ping(ctx, 0)
}

func (s *Sender) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	s.dialMu.Lock()
	s.mu.Lock()
	c, st := s.primary, s.primaryStats
	s.primary, s.primaryStats = nil, nil
	s.mu.Unlock()
	s.dialMu.Unlock()
	if c != nil {
		c.close()
	}
	if st != nil {
		st.Close()
	}
	s.pool.close()
	s.wg.Wait()
	return nil
}

func (s *Sender) save(ctx context.Context) {
	if s.opts.Storage == nil {
		return
	}
	if err := s.sess.Save(ctx, s.opts.Storage); err != nil {
		s.log.WithError(err).Error("can't save session")
	}
}

func (s *Sender) invoke(ctx context.Context, dc int, req Request) (any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	name := req.TypeName()
	body, err := s.opts.Codec.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	if dc == s.sess.PrimaryDC() {
		dc = 0
	}
	log := s.log.WithField("request", name)
	s.lastRequest.Store(time.Now().UnixNano())
	var attempts, reconnects, migrations int
	for {
		if err := s.flood.wait(ctx, name, s.opts.FloodThreshold); err != nil {
			return nil, err
		}
		c, st, err := s.connFor(ctx, dc)
		if err == nil {
			var raw []byte
			raw, err = s.attempt(ctx, c, body)
			st.AddRequest(err != nil)
			if err == nil {
				s.resetIntegrity(c)
				return s.decode(ctx, req, raw)
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, errMigrated) {
			continue
		}
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		var fw *FloodWaitError
		var serr *Error
		if errors.As(err, &fw) || errors.As(err, &serr) {
			return nil, err
		}
		cat := classify(err)
		log := log.WithError(err).WithField("category", cat)
		switch policy[cat] {
		case actRetry:
			attempts++
			if attempts >= s.opts.MaxRetries {
				return nil, terminal(cat, err, attempts)
			}
			log.WithField("attempt", attempts).Warn("retrying request")
			if err := sleep(ctx, s.opts.RetryDelay); err != nil {
				return nil, err
			}
		case actFloodWait:
			attempts++
			e, _ := tgerr.As(err)
			wait := time.Duration(e.Argument) * time.Second
			s.flood.record(name, wait)
			if wait > s.opts.FloodThreshold || attempts >= s.opts.MaxRetries {
				return nil, &FloodWaitError{Type: name, Wait: wait}
			}
			log.WithField("wait", wait).Info("sleeping out flood wait")
		case actMigrate:
			migrations++
			if migrations > maxMigrations {
				return nil, terminal(cat, err, attempts+1)
			}
			e, _ := tgerr.As(err)
			if e.PrimaryMigration() && dc == 0 {
				if err := s.migrate(ctx, e.Argument); err != nil {
					return nil, err
				}
			} else if e.Argument == s.sess.PrimaryDC() {
				dc = 0
			} else {
				dc = e.Argument
			}
			log.WithField("to", e.Argument).Info("request migrated")
		case actRekey:
			if c == nil || !errors.Is(err, ErrAuthKeyDropped) && !tgerr.Is(err, "AUTH_KEY_INVALID", "AUTH_KEY_PERM_EMPTY") {
				return nil, terminal(cat, err, attempts+1)
			}
			reconnects++
			if reconnects > s.opts.ReconnectAttempts {
				return nil, terminal(cat, err, attempts+1)
			}
			log.Warn("auth key dropped, generating a new one")
			s.dropKey(dc, c)
		case actReconnect:
			reconnects++
			if reconnects > s.opts.ReconnectAttempts {
				return nil, terminal(cat, err, attempts+1)
			}
			log.WithField("reconnect", reconnects).Warn("reconnecting")
			if c != nil {
				if cat == tgerr.Integrity && s.noteIntegrity(c) {
					s.dropKey(dc, c)
				} else {
					s.dropConn(dc, c)
				}
			}
		default:
			return nil, terminal(cat, err, attempts+1)
		}
	}
}

// attempt sends body once and waits for the answer within RequestTimeout.
func (s *Sender) attempt(ctx context.Context, c *conn, body []byte) ([]byte, error) {
	if s.opts.RequestTimeout <= 0 {
		return c.call(ctx, body)
	}
	actx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	raw, err := c.call(actx, body)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %v", ErrRequestTimeout, s.opts.RequestTimeout)
	}
	return raw, err
}

func (s *Sender) decode(ctx context.Context, req Request, raw []byte) (any, error) {
	obj, err := s.opts.Codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", req.TypeName(), err)
	}
	if s.opts.Updates != nil {
		s.opts.Updates.HandleResult(ctx, req, obj)
	}
	return obj, nil
}

// connFor returns the primary connection for dc 0 and an exported one
// otherwise.
func (s *Sender) connFor(ctx context.Context, dc int) (*conn, *stats.StatsHandle, error) {
	if dc == 0 {
		return s.primaryConn(ctx)
	}
	return s.pool.get(ctx, dc)
}

func (s *Sender) primaryConn(ctx context.Context) (*conn, *stats.StatsHandle, error) {
	s.mu.Lock()
	c, st := s.primary, s.primaryStats
	s.mu.Unlock()
	if c != nil && c.alive() {
		return c, st, nil
	}
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	s.mu.Lock()
	c, st = s.primary, s.primaryStats
	s.mu.Unlock()
	if c != nil && c.alive() {
		return c, st, nil
	}
	if st != nil {
		st.Close()
	}
	dc := s.sess.PrimaryDC()
	st = s.opts.Stats.AllocConn(dc, false)
	c, _, err := s.dial(ctx, dc, false, st)
	if err != nil {
		st.Close()
		s.mu.Lock()
		s.primary, s.primaryStats = nil, nil
		s.mu.Unlock()
		return nil, nil, err
	}
	s.mu.Lock()
	s.primary, s.primaryStats = c, st
	s.mu.Unlock()
	return c, st, nil
}

func (s *Sender) dialExported(ctx context.Context, dc int) (*conn, *stats.StatsHandle, error) {
	st := s.opts.Stats.AllocConn(dc, true)
	c, fresh, err := s.dial(ctx, dc, true, st)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	if fresh && s.opts.Exporter != nil {
		if err := s.importAuthorization(ctx, c, dc); err != nil {
			c.close()
			st.Close()
			return nil, nil, err
		}
	}
	return c, st, nil
}

func (s *Sender) importAuthorization(ctx context.Context, c *conn, dc int) error {
	req, err := s.opts.Exporter.ExportAuthorization(ctx, s, dc)
	if err != nil {
		return fmt.Errorf("export authorization to dc %d: %w", dc, err)
	}
	body, err := s.opts.Codec.Encode(req)
	if err != nil {
		return err
	}
	if _, err := s.attempt(ctx, c, body); err != nil {
		return fmt.Errorf("import authorization to dc %d: %w", dc, err)
	}
	s.log.WithField("dc", dc).Info("authorization imported")
	return nil
}

// dial connects to dc, generating its auth key first when needed. fresh
// reports a new key.
func (s *Sender) dial(ctx context.Context, id int, exported bool, st *stats.StatsHandle) (c *conn, fresh bool, err error) {
	desc, err := s.opts.DCs.Lookup(id)
	if err != nil {
		return nil, false, terminal(tgerr.Fatal, err, 1)
	}
	if exported {
		desc = desc.AsExported()
	}
	log := s.opts.Logger.WithFields(logrus.Fields{"dc": id, "exported": exported})
	state, ok := s.sess.DC(id)
	if !ok || state.AuthKey.Zero() {
		st.SetState(stats.Handshaking)
		res, err := s.auth.Generate(ctx, desc)
		if err != nil {
			return nil, false, terminal(tgerr.Handshake, err, s.opts.HandshakeAttempts)
		}
		if err := s.sess.SetAuthKey(id, desc.Addr(), res.AuthKey, res.ServerSalt, res.TimeOffset); err != nil {
			return nil, false, terminal(tgerr.Handshake, err, 1)
		}
		s.save(ctx)
		log.WithField("key_id", fmt.Sprintf("%x", res.AuthKey.ID)).Info("auth key generated")
		state, _ = s.sess.DC(id)
		fresh = true
	}
	st.SetState(stats.Connecting)
	tc, err := s.opts.Dialer.Dial(ctx, desc)
	if err != nil {
		return nil, fresh, err
	}
	c, err = newConn(tc, connOptions{
		dc:     desc,
		state:  state,
		random: s.opts.Random,
		clock:  s.opts.Clock,
		log:    log,
		stats:  st,
		onUpdate: func(body []byte) {
			s.updates.push(body)
		},
		onSalt: func(salt int64) {
			s.sess.SetSalt(id, salt)
		},
		onOffset: func(offset int64) {
			s.sess.SetTimeOffset(id, offset)
		},
	})
	if err != nil {
		_ = tc.Close()
		return nil, fresh, err
	}
	st.SetState(stats.Connected)
	log.Info("connected")
	return c, fresh, nil
}

// migrate moves the session to dc. Concurrent migrations to the same DC
// are done once.
func (s *Sender) migrate(ctx context.Context, dc int) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	from := s.sess.PrimaryDC()
	if from == dc {
		return nil
	}
	if _, err := s.opts.DCs.Lookup(dc); err != nil {
		return terminal(tgerr.Migrate, err, 1)
	}
	s.mu.Lock()
	old, st := s.primary, s.primaryStats
	s.primary, s.primaryStats = nil, nil
	s.mu.Unlock()
	if old != nil {
		old.fail(errMigrated)
	}
	if st != nil {
		st.Close()
	}
	s.sess.Invalidate(from)
	s.sess.SetPrimary(dc)
	s.save(ctx)
	s.log.WithFields(logrus.Fields{"from": from, "to": dc}).Info("migrated")
	return nil
}

func (s *Sender) dropConn(dc int, c *conn) {
	if dc != 0 {
		s.pool.drop(dc, c)
		return
	}
	c.close()
	s.mu.Lock()
	if s.primary == c {
		s.primary = nil
	}
	s.mu.Unlock()
}

// dropKey forgets the key c was using, unless it was already replaced.
func (s *Sender) dropKey(dc int, c *conn) {
	id := c.opts.dc.ID
	if st, ok := s.sess.DC(id); ok && st.AuthKey.ID == c.key.ID {
		s.sess.Invalidate(id)
		s.save(s.ctx)
	}
	s.mu.Lock()
	delete(s.integrity, id)
	s.mu.Unlock()
	s.dropConn(dc, c)
}

// noteIntegrity counts an integrity failure on c's DC and reports whether
// its key should not be trusted anymore.
func (s *Sender) noteIntegrity(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrity[c.opts.dc.ID]++
	return s.integrity[c.opts.dc.ID] >= integrityLimit
}

func (s *Sender) resetIntegrity(c *conn) {
	s.mu.Lock()
	delete(s.integrity, c.opts.dc.ID)
	s.mu.Unlock()
}

func (s *Sender) deliver(body []byte) {
	if s.opts.Updates == nil {
		return
	}
	obj, err := s.opts.Codec.Decode(body)
	if err != nil {
		s.log.WithError(err).Warn("undecodable update")
		return
	}
	s.opts.Updates.HandleUpdate(s.ctx, obj)
}

// updateQueue hands unsolicited objects to the sink in arrival order
// without blocking receive loops.
type updateQueue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func newUpdateQueue() *updateQueue {
	return &updateQueue{signal: make(chan struct{}, 1)}
}

func (q *updateQueue) push(b []byte) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *updateQueue) run(ctx context.Context, fn func([]byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		}
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()
		for _, b := range items {
			fn(b)
		}
	}
}
