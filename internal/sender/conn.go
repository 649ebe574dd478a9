package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/bin"
	"github.com/geovex/mtcore/internal/dcs"
	"github.com/geovex/mtcore/internal/mt"
	"github.com/geovex/mtcore/internal/proto"
	"github.com/geovex/mtcore/internal/session"
	"github.com/geovex/mtcore/internal/stats"
	"github.com/geovex/mtcore/internal/tgcrypt"
	"github.com/geovex/mtcore/internal/tgerr"
	"github.com/geovex/mtcore/internal/transport"
)

const (
	ackBatch    = 16
	ackInterval = time.Second
	// seqno corrections used on bad_msg_notification 32 and 33
	seqTooLowShift  = 64
	seqTooHighShift = -16
)

var (
	// ErrAuthKeyDropped means the DC answered -404 or with another key id:
	// the auth key has to be generated again.
	ErrAuthKeyDropped = errors.New("auth key dropped by dc")
	errConnClosed     = errors.New("connection closed")
)

// BadMsgError is a bad_msg_notification the connection can't fix by
// resending.
type BadMsgError struct {
	Code int32
}

func (e *BadMsgError) Error() string {
	return fmt.Sprintf("bad_msg_notification %d", e.Code)
}

type result struct {
	body []byte
	err  error
}

// pending is a message waiting for its answer. msgID changes on resends and
// is guarded by conn.mu.
type pending struct {
	msgID   int64
	body    []byte
	content bool
	res     chan result
}

func newPending(body []byte, content bool) *pending {
	return &pending{body: body, content: content, res: make(chan result, 1)}
}

func (p *pending) resolve(r result) {
	select {
	case p.res <- r:
	default:
	}
}

type connOptions struct {
	dc       dcs.DC
	state    session.DCState
	random   io.Reader
	clock    proto.Clock
	log      *logrus.Entry
	stats    *stats.StatsHandle
	onUpdate func(body []byte)
	onSalt   func(salt int64)
	onOffset func(offset int64)
}

// conn is one encrypted session over one transport connection. The receive
// loop handles every incoming envelope in order; callers block on their
// pending entry.
type conn struct {
	opts      connOptions
	tc        *transport.Conn
	key       tgcrypt.AuthKey
	sessionID int64
	cipher    proto.Cipher
	ids       *proto.MsgIDGen
	seq       proto.SeqNo
	salts     proto.Salts
	checker   proto.Checker
	log       *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	// wmu keeps message ids in the order envelopes hit the wire
	wmu      sync.Mutex
	mu       sync.Mutex
	pending  map[int64]*pending
	acks     chan int64
	dead     chan struct{}
	err      error
	lastSend atomic.Int64
}

func newConn(tc *transport.Conn, opts connOptions) (*conn, error) {
	sid, err := proto.RandomInt64(opts.random)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		opts:      opts,
		tc:        tc,
		key:       opts.state.AuthKey,
		sessionID: sid,
		cipher:    proto.NewClientCipher(opts.random),
		ids:       proto.NewMsgIDGen(opts.clock),
		log:       opts.log.WithField("session", fmt.Sprintf("%016x", uint64(sid))),
		ctx:       ctx,
		cancel:    cancel,
		pending:   map[int64]*pending{},
		acks:      make(chan int64, 4*ackBatch),
		dead:      make(chan struct{}),
	}
	c.ids.SetOffset(opts.state.TimeOffset)
	c.salts.Set(opts.state.Salt)
	c.checker = proto.Checker{
		SessionID:  sid,
		FromServer: true,
		Now:        c.ids.Now,
		Replay:     proto.NewReplay(),
	}
	c.lastSend.Store(time.Now().UnixNano())
	go c.recvLoop()
	go c.ackLoop()
	return c, nil
}

func (c *conn) alive() bool {
	select {
	case <-c.dead:
		return false
	default:
		return true
	}
}

// failure returns the error the connection died with.
func (c *conn) failure() error {
	select {
	case <-c.dead:
		return c.err
	default:
		return nil
	}
}

// fail tears the connection down and hands err to every waiting caller.
func (c *conn) fail(err error) {
	c.mu.Lock()
	select {
	case <-c.dead:
		c.mu.Unlock()
		return
	default:
	}
	c.err = err
	close(c.dead)
	waiting := c.pending
	c.pending = map[int64]*pending{}
	c.mu.Unlock()

	c.cancel()
	_ = c.tc.Close()
	for _, p := range waiting {
		p.resolve(result{err: err})
	}
	if c.opts.stats != nil {
		c.opts.stats.SetState(stats.Closed)
	}
	if errors.Is(err, errConnClosed) {
		c.log.Debug("connection closed")
	} else {
		c.log.WithError(err).Warn("connection failed")
	}
}

func (c *conn) close() {
	c.fail(errConnClosed)
}

// send writes p with a fresh message id. Tracked messages (p.res != nil) are
// registered under the new id before the write.
func (c *conn) send(p *pending) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.failure(); err != nil {
		return err
	}
	id := c.ids.New()
	if p.res != nil {
		c.mu.Lock()
		delete(c.pending, p.msgID)
		p.msgID = id
		c.pending[id] = p
		c.mu.Unlock()
	}
	b, err := c.cipher.Encrypt(c.key, proto.Message{
		Salt:      c.salts.Get(c.ids.Now()),
		SessionID: c.sessionID,
		MsgID:     id,
		SeqNo:     c.seq.Next(p.content),
		Body:      p.body,
	})
	if err != nil {
		c.forget(p)
		return err
	}
	if err := c.tc.Send(c.ctx, b); err != nil {
		c.fail(err)
		return err
	}
	if p.content {
		c.lastSend.Store(time.Now().UnixNano())
	}
	return nil
}

func (c *conn) forget(p *pending) {
	c.mu.Lock()
	if c.pending[p.msgID] == p {
		delete(c.pending, p.msgID)
	}
	c.mu.Unlock()
}

// take removes and returns the pending message with id.
func (c *conn) take(id int64) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[id]
	delete(c.pending, id)
	return p
}

func (c *conn) lookup(id int64) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[id]
}

// call sends body and waits for the answer.
func (c *conn) call(ctx context.Context, body []byte) ([]byte, error) {
	p := newPending(body, true)
	if err := c.send(p); err != nil {
		return nil, err
	}
	select {
	case r := <-p.res:
		return r.body, r.err
	case <-ctx.Done():
		c.forget(p)
		return nil, ctx.Err()
	}
}

// sendService writes an untracked service message.
func (c *conn) sendService(m mt.Message) error {
	return c.send(&pending{body: mt.Encode(m), content: mt.IsContent(m)})
}

// resend writes p again under a new id. It runs outside the receive loop so
// the loop never blocks on a write.
func (c *conn) resend(p *pending) {
	go func() {
		if err := c.send(p); err != nil {
			p.resolve(result{err: err})
		}
	}()
}

// idle returns the time since the last content message was written.
func (c *conn) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSend.Load()))
}

func (c *conn) recvLoop() {
	for {
		b, err := c.tc.Recv(c.ctx)
		if err != nil {
			var perr *transport.ProtocolError
			if errors.As(err, &perr) && perr.Code == transport.CodeAuthKeyNotFound {
				err = fmt.Errorf("%w: %w", ErrAuthKeyDropped, err)
			}
			c.fail(err)
			return
		}
		m, err := c.cipher.Decrypt(c.key, b)
		if err == nil {
			err = c.checker.Check(m)
		}
		if err != nil {
			if errors.Is(err, proto.ErrAuthKeyMismatch) {
				err = fmt.Errorf("%w: %w", ErrAuthKeyDropped, err)
			}
			c.fail(err)
			return
		}
		c.handle(m.MsgID, m.SeqNo, m.Body)
	}
}

func (c *conn) handle(msgID int64, seqNo int32, body []byte) {
	if seqNo&1 == 1 {
		select {
		case c.acks <- msgID:
		default:
			c.log.Warn("ack queue full")
		}
	}
	m, err := mt.Decode(body)
	if err != nil {
		c.log.WithError(err).Warn("undecodable message")
		return
	}
	switch m := m.(type) {
	case *mt.MsgContainer:
		for _, inner := range m.Messages {
			c.handle(inner.MsgID, inner.SeqNo, inner.Body)
		}
	case *mt.GzipPacked:
		unpacked, err := m.Unpack()
		if err != nil {
			c.log.WithError(err).Warn("bad gzip_packed")
			return
		}
		c.handle(msgID, 0, unpacked)
	case *mt.RPCResult:
		c.handleResult(m)
	case *mt.BadServerSalt:
		c.log.WithField("salt", m.NewServerSalt).Debug("bad server salt")
		c.setSalt(m.NewServerSalt)
		if p := c.lookup(m.BadMsgID); p != nil {
			c.resend(p)
		}
	case *mt.BadMsgNotification:
		c.handleBadMsg(msgID, m)
	case *mt.NewSessionCreated:
		c.log.WithField("first_msg_id", m.FirstMsgID).Info("new session created")
		c.setSalt(m.ServerSalt)
	case *mt.Pong:
		if p := c.take(m.MsgID); p != nil {
			p.resolve(result{body: body})
		}
	case *mt.FutureSalts:
		c.salts.Store(m.Salts)
		if p := c.take(m.ReqMsgID); p != nil {
			p.resolve(result{body: body})
		}
	case *mt.MsgsAck:
		c.log.WithField("ids", len(m.MsgIDs)).Trace("acked")
	case *mt.MsgDetailedInfo:
		c.queueAck(m.AnswerMsgID)
	case *mt.MsgNewDetailedInfo:
		c.queueAck(m.AnswerMsgID)
	case *mt.Unknown:
		if c.opts.onUpdate != nil {
			c.opts.onUpdate(m.Raw)
		}
	default:
		c.log.WithField("type", fmt.Sprintf("%T", m)).Debug("ignored message")
	}
}

func (c *conn) handleResult(m *mt.RPCResult) {
	p := c.take(m.ReqMsgID)
	if p == nil {
		c.log.WithField("req_msg_id", m.ReqMsgID).Debug("result for unknown request")
		return
	}
	body, err := mt.Unwrap(m.Result)
	if err != nil {
		p.resolve(result{err: err})
		return
	}
	b := bin.Buffer{Buf: body}
	if id, _ := b.PeekID(); id == mt.RPCErrorID {
		dm, err := mt.Decode(body)
		if err != nil {
			p.resolve(result{err: err})
			return
		}
		e := dm.(*mt.RPCError)
		p.resolve(result{err: tgerr.New(int(e.Code), e.Message)})
		return
	}
	p.resolve(result{body: body})
}

func (c *conn) handleBadMsg(msgID int64, m *mt.BadMsgNotification) {
	log := c.log.WithFields(logrus.Fields{"code": m.Code, "bad_msg_id": m.BadMsgID})
	switch m.Code {
	case mt.CodeMsgIDTooLow, mt.CodeMsgIDTooHigh:
		c.ids.SyncWith(msgID)
		log.WithField("offset", c.ids.Offset()).Info("time offset corrected")
		if c.opts.onOffset != nil {
			c.opts.onOffset(c.ids.Offset())
		}
	case mt.CodeSeqNoTooLow:
		c.seq.Shift(seqTooLowShift)
	case mt.CodeSeqNoTooHigh:
		c.seq.Shift(seqTooHighShift)
	default:
		log.Warn("bad message")
		if p := c.take(m.BadMsgID); p != nil {
			p.resolve(result{err: &BadMsgError{Code: m.Code}})
		}
		return
	}
	if p := c.lookup(m.BadMsgID); p != nil {
		c.resend(p)
	}
}

func (c *conn) setSalt(salt int64) {
	c.salts.Set(salt)
	if c.opts.onSalt != nil {
		c.opts.onSalt(salt)
	}
}

func (c *conn) queueAck(id int64) {
	select {
	case c.acks <- id:
	default:
	}
}

// ackLoop batches acknowledgements of server content messages.
func (c *conn) ackLoop() {
	t := time.NewTicker(ackInterval)
	defer t.Stop()
	var ids []int64
	flush := func() {
		if len(ids) == 0 {
			return
		}
		if err := c.sendService(&mt.MsgsAck{MsgIDs: ids}); err != nil {
			return
		}
		ids = nil
	}
	for {
		select {
		case <-c.dead:
			return
		case id := <-c.acks:
			ids = append(ids, id)
			if len(ids) >= ackBatch {
				flush()
			}
		case <-t.C:
			flush()
		}
	}
}

// ping sends ping_delay_disconnect when delay is set, plain ping otherwise,
// and returns the round trip time.
func (c *conn) ping(ctx context.Context, delay time.Duration) (time.Duration, error) {
	pingID, err := proto.RandomInt64(c.opts.random)
	if err != nil {
		return 0, err
	}
	var m mt.Message = &mt.Ping{PingID: pingID}
	if delay > 0 {
		m = &mt.PingDelayDisconnect{PingID: pingID, DisconnectDelay: int32(delay / time.Second)}
	}
	p := newPending(mt.Encode(m), true)
	start := time.Now()
	if err := c.send(p); err != nil {
		return 0, err
	}
	select {
	case r := <-p.res:
		if r.err != nil {
			return 0, r.err
		}
		rtt := time.Since(start)
		if c.opts.stats != nil {
			c.opts.stats.SetRTT(rtt)
		}
		return rtt, nil
	case <-ctx.Done():
		c.forget(p)
		return 0, ctx.Err()
	}
}

// refreshSalts asks for future salts when few are known.
func (c *conn) refreshSalts(ctx context.Context) error {
	if !c.salts.NeedMore(1) {
		return nil
	}
	p := newPending(mt.Encode(&mt.GetFutureSalts{Num: 32}), true)
	if err := c.send(p); err != nil {
		return err
	}
	select {
	case r := <-p.res:
		return r.err
	case <-ctx.Done():
		c.forget(p)
		return ctx.Err()
	}
}

// classify maps a connection failure to an error category.
func classify(err error) tgerr.Category {
	if e, ok := tgerr.As(err); ok {
		return e.Category()
	}
	switch {
	case errors.Is(err, ErrRequestTimeout):
		return tgerr.Transient
	case errors.Is(err, ErrAuthKeyDropped):
		return tgerr.AuthKey
	case errors.Is(err, proto.ErrIntegrity):
		return tgerr.Integrity
	case errors.Is(err, transport.ErrConnectionLost), errors.Is(err, errConnClosed),
		errors.Is(err, context.DeadlineExceeded):
		return tgerr.Transport
	}
	var perr *transport.ProtocolError
	if errors.As(err, &perr) {
		return tgerr.Transport
	}
	return tgerr.Fatal
}
