package exchange

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geovex/mtcore/internal/dcs"
	"github.com/geovex/mtcore/internal/tgcrypt"
	"github.com/geovex/mtcore/internal/transport"
)

var (
	keyOnce sync.Once
	testRSA *rsa.PrivateKey
)

func serverKey(t *testing.T) *rsa.PrivateKey {
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testRSA = k
	})
	return testRSA
}

// chanConn is an in-memory packet pipe.
type chanConn struct {
	in  chan []byte
	out chan []byte
}

func chanPair() (*chanConn, *chanConn) {
	a := make(chan []byte, 4)
	b := make(chan []byte, 4)
	return &chanConn{in: a, out: b}, &chanConn{in: b, out: a}
}

func (c *chanConn) Send(ctx context.Context, b []byte) error {
	select {
	case c.out <- append([]byte{}, b...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func runPair(t *testing.T, sopts ServerOptions, keys []tgcrypt.PublicKey) (Result, error, Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	cc, sc := chanPair()
	srv := NewServer(sopts)
	if keys == nil {
		keys = []tgcrypt.PublicKey{srv.PublicKey()}
	}
	var sres Result
	var serr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		sres, serr = srv.Serve(ctx, sc, nil)
	}()
	cres, cerr := NewClient(cc, ClientOptions{Keys: keys, DC: 2}).Run(ctx)
	cancel()
	<-done
	return cres, cerr, sres, serr
}

func TestExchange(t *testing.T) {
	cres, cerr, sres, serr := runPair(t, ServerOptions{Key: serverKey(t)}, nil)
	require.NoError(t, cerr)
	require.NoError(t, serr)
	assert.False(t, cres.AuthKey.Zero())
	assert.Equal(t, sres.AuthKey, cres.AuthKey)
	assert.NotZero(t, cres.ServerSalt)
	assert.Equal(t, sres.ServerSalt, cres.ServerSalt)
	assert.LessOrEqual(t, cres.TimeOffset, int64(1))
	assert.GreaterOrEqual(t, cres.TimeOffset, int64(-1))
}

func TestExchangeWrongProof(t *testing.T) {
	_, cerr, _, _ := runPair(t, ServerOptions{Key: serverKey(t), WrongProof: true}, nil)
	assert.ErrorIs(t, cerr, ErrProofMismatch)
}

func TestExchangeUnknownFingerprint(t *testing.T) {
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, cerr, _, _ := runPair(t, ServerOptions{Key: serverKey(t)},
		[]tgcrypt.PublicKey{tgcrypt.NewPublicKey(&other.PublicKey)})
	assert.ErrorIs(t, cerr, ErrUnknownFingerprint)
}

// pipeDialer hands out net.Pipe connections served by an exchange server.
type pipeDialer struct {
	t       *testing.T
	srv     *Server
	dials   atomic.Int32
	failFor int32
}

func (d *pipeDialer) Dial(ctx context.Context, dc dcs.DC) (*transport.Conn, error) {
	n := d.dials.Add(1)
	c1, c2 := net.Pipe()
	go func() {
		defer c2.Close()
		conn, err := transport.Accept(c2, transport.AcceptOptions{})
		if err != nil {
			return
		}
		if n <= d.failFor {
			// drop the connection mid exchange
			_, _ = conn.Recv(ctx)
			return
		}
		_, _ = d.srv.Serve(ctx, conn, nil)
	}()
	td, err := transport.NewDialer(transport.Options{
		Protocol:  tgcrypt.Intermediate,
		Obfuscate: true,
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return c1, nil
		},
	})
	require.NoError(d.t, err)
	return td.Dial(ctx, dc)
}

func TestAuthenticatorRestarts(t *testing.T) {
	srv := NewServer(ServerOptions{Key: serverKey(t)})
	d := &pipeDialer{t: t, srv: srv, failFor: 2}
	a := &Authenticator{
		Dialer:   d,
		Keys:     []tgcrypt.PublicKey{srv.PublicKey()},
		Attempts: 3,
		Timeout:  20 * time.Second,
	}
	res, err := a.Generate(context.Background(), dcs.DC{ID: 2, Host: "127.0.0.1", Port: 443})
	require.NoError(t, err)
	assert.False(t, res.AuthKey.Zero())
	assert.Equal(t, int32(3), d.dials.Load())
}

func TestAuthenticatorGivesUp(t *testing.T) {
	srv := NewServer(ServerOptions{Key: serverKey(t)})
	d := &pipeDialer{t: t, srv: srv, failFor: 10}
	a := &Authenticator{Dialer: d, Keys: []tgcrypt.PublicKey{srv.PublicKey()}, Attempts: 2}
	_, err := a.Generate(context.Background(), dcs.DC{ID: 2, Host: "127.0.0.1", Port: 443})
	assert.ErrorIs(t, err, transport.ErrConnectionLost)
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestAuthenticatorStopsOnUnknownKey(t *testing.T) {
	srv := NewServer(ServerOptions{Key: serverKey(t)})
	d := &pipeDialer{t: t, srv: srv}
	a := &Authenticator{Dialer: d, Attempts: 5}
	_, err := a.Generate(context.Background(), dcs.DC{ID: 2, Host: "127.0.0.1", Port: 443})
	assert.True(t, errors.Is(err, ErrUnknownFingerprint))
	assert.Equal(t, int32(1), d.dials.Load())
}
