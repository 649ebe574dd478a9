// Package dctest runs in-memory DCs speaking the real handshake and
// encrypted envelopes, for tests of the layers above the transport.
package dctest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/dcs"
	"github.com/geovex/mtcore/internal/exchange"
	"github.com/geovex/mtcore/internal/mt"
	"github.com/geovex/mtcore/internal/proto"
	"github.com/geovex/mtcore/internal/tgcrypt"
	"github.com/geovex/mtcore/internal/tgerr"
	"github.com/geovex/mtcore/internal/transport"
)

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

func serverKey() *rsa.PrivateKey {
	rsaOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rsaKey = k
	})
	return rsaKey
}

// Reply is what a handler answers to a call.
type Reply struct {
	Text string
	Err  *tgerr.Error
	// Update is sent in the same container as the answer.
	Update string
	// Drop closes the connection instead of answering.
	Drop bool
}

// Fail answers with an rpc_error.
func Fail(code int, message string) Reply {
	return Reply{Err: tgerr.New(code, message)}
}

// Handler answers calls made to DC dc.
type Handler func(dc int, call *Call) Reply

// Echo answers every call with its argument.
func Echo(_ int, call *Call) Reply {
	return Reply{Text: call.Arg}
}

// Cluster is a set of DCs sharing one RSA key.
type Cluster struct {
	srv     *exchange.Server
	log     *logrus.Logger
	mu      sync.Mutex
	dcs     map[int]*DC
	handler Handler
}

// New starts DCs with the given ids. They answer calls with Echo until
// another handler is set.
func New(t testing.TB, ids ...int) *Cluster {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	c := &Cluster{
		srv:     exchange.NewServer(exchange.ServerOptions{Key: serverKey(), Logger: log}),
		log:     log,
		dcs:     map[int]*DC{},
		handler: Echo,
	}
	for _, id := range ids {
		c.dcs[id] = &DC{ID: id, cluster: c, keys: map[[8]byte]*keyState{}, conns: map[*serverConn]struct{}{}}
	}
	t.Cleanup(c.Close)
	return c
}

func (c *Cluster) Logger() *logrus.Logger {
	return c.log
}

func (c *Cluster) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Cluster) getHandler() Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Cluster) DC(id int) *DC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dcs[id]
}

// Keys returns the public keys clients need for the handshake.
func (c *Cluster) Keys() []tgcrypt.PublicKey {
	return []tgcrypt.PublicKey{c.srv.PublicKey()}
}

// Table lists the DCs as dcN.test hosts.
func (c *Cluster) Table() *dcs.Table {
	t := dcs.NewTable()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.dcs {
		t.Set(id, dcs.DC{Host: fmt.Sprintf("dc%d.test", id)})
	}
	return t
}

// Dial connects to the DC named by addr over an in-memory pipe.
func (c *Cluster) Dial(_ context.Context, _, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(host, "dc"), ".test"))
	if err != nil {
		return nil, fmt.Errorf("not a test dc: %s", addr)
	}
	d := c.DC(id)
	if d == nil {
		return nil, fmt.Errorf("no dc %d", id)
	}
	if d.refuse.Load() > 0 {
		d.refuse.Add(-1)
		return nil, fmt.Errorf("dc %d refused the connection", id)
	}
	client, server := net.Pipe()
	d.dials.Add(1)
	go d.serve(server)
	return client, nil
}

// Dialer returns an obfuscated intermediate dialer reaching the cluster.
func (c *Cluster) Dialer(t testing.TB) *transport.Dialer {
	d, err := transport.NewDialer(transport.Options{
		Protocol:  tgcrypt.Intermediate,
		Obfuscate: true,
		Dial:      c.Dial,
		Logger:    c.log,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func (c *Cluster) Close() {
	c.mu.Lock()
	dcs := make([]*DC, 0, len(c.dcs))
	for _, d := range c.dcs {
		dcs = append(dcs, d)
	}
	c.mu.Unlock()
	for _, d := range dcs {
		d.closeConns()
	}
}

type keyState struct {
	key  tgcrypt.AuthKey
	salt atomic.Int64
}

// DC is one fake DC. Its methods script failures for the next requests.
type DC struct {
	ID      int
	cluster *Cluster

	mu    sync.Mutex
	keys  map[[8]byte]*keyState
	conns map[*serverConn]struct{}
	calls []string
	// ids of received envelopes in arrival order
	msgIDs []int64

	dials, handshakes, pings atomic.Int32
	forge, refuse            atomic.Int32
}

func (d *DC) Dials() int      { return int(d.dials.Load()) }
func (d *DC) Handshakes() int { return int(d.handshakes.Load()) }
func (d *DC) Pings() int      { return int(d.pings.Load()) }

// Calls lists the methods called so far, retries included.
func (d *DC) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.calls...)
}

// MsgIDs lists the ids of envelopes received from clients in arrival order.
func (d *DC) MsgIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64{}, d.msgIDs...)
}

// CallCount counts calls of method.
func (d *DC) CallCount(method string) int {
	n := 0
	for _, m := range d.Calls() {
		if m == method {
			n++
		}
	}
	return n
}

// DropKeys forgets every auth key, the next encrypted packet gets -404.
func (d *DC) DropKeys() {
	d.mu.Lock()
	d.keys = map[[8]byte]*keyState{}
	d.mu.Unlock()
}

// RotateSalt makes the next request fail with bad_server_salt.
func (d *DC) RotateSalt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range d.keys {
		salt, _ := proto.RandomInt64(rand.Reader)
		k.salt.Store(salt)
	}
}

// ForgeReplies corrupts the message key of the next n envelopes sent.
func (d *DC) ForgeReplies(n int) {
	d.forge.Store(int32(n))
}

// RefuseDials makes the next n connection attempts fail.
func (d *DC) RefuseDials(n int) {
	d.refuse.Store(int32(n))
}

// Push sends an update to every connection of the DC.
func (d *DC) Push(text string) {
	d.mu.Lock()
	conns := make([]*serverConn, 0, len(d.conns))
	for sc := range d.conns {
		conns = append(conns, sc)
	}
	d.mu.Unlock()
	for _, sc := range conns {
		_ = sc.write(encodeText(UpdateID, text), true)
	}
}

// KeyIDs lists the auth keys the DC knows.
func (d *DC) KeyIDs() [][8]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][8]byte, 0, len(d.keys))
	for id := range d.keys {
		out = append(out, id)
	}
	return out
}

func (d *DC) addKey(res exchange.Result) {
	k := &keyState{key: res.AuthKey}
	k.salt.Store(res.ServerSalt)
	d.mu.Lock()
	d.keys[res.AuthKey.ID] = k
	d.mu.Unlock()
	d.handshakes.Add(1)
}

func (d *DC) key(id [8]byte) *keyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[id]
}

func (d *DC) recordCall(method string) {
	d.mu.Lock()
	d.calls = append(d.calls, method)
	d.mu.Unlock()
}

func (d *DC) track(sc *serverConn, on bool) {
	d.mu.Lock()
	if on {
		d.conns[sc] = struct{}{}
	} else {
		delete(d.conns, sc)
	}
	d.mu.Unlock()
}

func (d *DC) closeConns() {
	d.mu.Lock()
	conns := make([]*serverConn, 0, len(d.conns))
	for sc := range d.conns {
		conns = append(conns, sc)
	}
	d.mu.Unlock()
	for _, sc := range conns {
		sc.cancel()
		_ = sc.tc.Close()
	}
}

// Disconnect drops every live connection of the DC.
func (d *DC) Disconnect() {
	d.closeConns()
}

func (d *DC) serve(sock net.Conn) {
	defer sock.Close()
	log := d.cluster.log.WithField("dc", d.ID)
	tc, err := transport.Accept(sock, transport.AcceptOptions{Logger: d.cluster.log})
	if err != nil {
		log.WithError(err).Debug("accept failed")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sc := &serverConn{
		dc:     d,
		tc:     tc,
		ids:    proto.NewMsgIDGen(nil),
		cipher: proto.NewServerCipher(rand.Reader),
		cancel: cancel,
		log:    log,
	}
	d.track(sc, true)
	defer func() {
		d.track(sc, false)
		cancel()
		_ = tc.Close()
	}()
	for {
		b, err := tc.Recv(ctx)
		if err != nil {
			return
		}
		if proto.IsPlain(b) {
			res, err := d.cluster.srv.Serve(ctx, tc, b)
			if err != nil {
				log.WithError(err).Debug("handshake failed")
				return
			}
			d.addKey(res)
			continue
		}
		if !sc.handle(ctx, b) {
			return
		}
	}
}

type serverConn struct {
	dc     *DC
	tc     *transport.Conn
	ids    *proto.MsgIDGen
	seq    proto.SeqNo
	cipher proto.Cipher
	cancel context.CancelFunc
	log    *logrus.Entry

	wmu       sync.Mutex
	key       *keyState
	sessionID int64
}

func (sc *serverConn) handle(ctx context.Context, b []byte) bool {
	var id [8]byte
	copy(id[:], b)
	k := sc.dc.key(id)
	if k == nil {
		var code [4]byte
		v := int32(transport.CodeAuthKeyNotFound)
		code[0], code[1], code[2], code[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		_ = sc.tc.Send(ctx, code[:])
		return false
	}
	m, err := sc.cipher.Decrypt(k.key, b)
	if err != nil {
		sc.log.WithError(err).Debug("bad envelope")
		return false
	}
	sc.dc.mu.Lock()
	sc.dc.msgIDs = append(sc.dc.msgIDs, m.MsgID)
	sc.dc.mu.Unlock()
	sc.wmu.Lock()
	sc.key, sc.sessionID = k, m.SessionID
	sc.wmu.Unlock()
	if salt := k.salt.Load(); m.Salt != salt {
		_ = sc.writeMsg(&mt.BadServerSalt{
			BadMsgID:      m.MsgID,
			BadMsgSeqNo:   m.SeqNo,
			Code:          mt.CodeBadServerSalt,
			NewServerSalt: salt,
		})
		return true
	}
	obj, err := mt.Decode(m.Body)
	if err != nil {
		return false
	}
	switch obj := obj.(type) {
	case *mt.Ping:
		sc.dc.pings.Add(1)
		_ = sc.writeMsg(&mt.Pong{MsgID: m.MsgID, PingID: obj.PingID})
	case *mt.PingDelayDisconnect:
		sc.dc.pings.Add(1)
		_ = sc.writeMsg(&mt.Pong{MsgID: m.MsgID, PingID: obj.PingID})
	case *mt.GetFutureSalts:
		now := sc.ids.Now().Unix()
		_ = sc.writeMsg(&mt.FutureSalts{
			ReqMsgID: m.MsgID,
			Now:      int32(now),
			Salts: []mt.FutureSalt{
				{ValidSince: int32(now - 60), ValidUntil: int32(now + 3600), Salt: k.salt.Load()},
			},
		})
	case *mt.MsgsAck:
	case *mt.Unknown:
		go sc.call(m.MsgID, obj.Raw)
	}
	return true
}

func (sc *serverConn) call(reqID int64, body []byte) {
	obj, err := Codec{}.Decode(body)
	if err != nil {
		return
	}
	call, ok := obj.(*Call)
	if !ok {
		return
	}
	sc.dc.recordCall(call.Method)
	reply := sc.dc.cluster.getHandler()(sc.dc.ID, call)
	if reply.Drop {
		sc.cancel()
		_ = sc.tc.Close()
		return
	}
	var res []byte
	if reply.Err != nil {
		res = mt.Encode(&mt.RPCError{Code: int32(reply.Err.Code), Message: reply.Err.Message})
	} else {
		res = encodeText(AnswerID, reply.Text)
	}
	result := mt.Encode(&mt.RPCResult{ReqMsgID: reqID, Result: res})
	if reply.Update == "" {
		_ = sc.write(result, true)
		return
	}
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	inner := []mt.Inner{
		{MsgID: sc.ids.New() | 1, SeqNo: sc.seq.Next(true), Body: encodeText(UpdateID, reply.Update)},
		{MsgID: sc.ids.New() | 1, SeqNo: sc.seq.Next(true), Body: result},
	}
	_ = sc.writeLocked(mt.Encode(&mt.MsgContainer{Messages: inner}), false)
}

func (sc *serverConn) writeMsg(m mt.Message) error {
	return sc.write(mt.Encode(m), mt.IsContent(m))
}

func (sc *serverConn) write(body []byte, content bool) error {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	return sc.writeLocked(body, content)
}

func (sc *serverConn) writeLocked(body []byte, content bool) error {
	if sc.key == nil {
		return fmt.Errorf("no session yet")
	}
	b, err := sc.cipher.Encrypt(sc.key.key, proto.Message{
		Salt:      sc.key.salt.Load(),
		SessionID: sc.sessionID,
		MsgID:     sc.ids.New() | 1,
		SeqNo:     sc.seq.Next(content),
		Body:      body,
	})
	if err != nil {
		return err
	}
	if sc.dc.forge.Load() > 0 && sc.dc.forge.Add(-1) >= 0 {
		b[10] ^= 0xff
	}
	return sc.tc.Send(context.Background(), b)
}
