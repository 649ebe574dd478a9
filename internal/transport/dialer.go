package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/geovex/mtcore/internal/dcs"
	"github.com/geovex/mtcore/internal/tgcrypt"
)

// DialFunc opens the raw stream. It replaces the proxy dialer when set, tests
// use it to plug in in-memory pipes.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Socks5 struct {
	Addr string
	User *string
	Pass *string
}

type Options struct {
	// Protocol is one of tgcrypt.Abridged, Intermediate, Padded or Full.
	Protocol  uint8
	Obfuscate bool
	// MTProxy routes the connection through an MTProxy at this address with
	// Secret mixed into the obfuscation keys.
	MTProxy     string
	Secret      *tgcrypt.Secret
	Socks5      *Socks5
	AllowIPv6   bool
	DialTimeout time.Duration
	Dial        DialFunc
	// Random feeds the obfuscation nonce, crypto/rand when nil.
	Random io.Reader
	Logger *logrus.Logger
}

// Dialer opens framed connections to DCs.
type Dialer struct {
	opts   Options
	dialer proxy.Dialer
	log    *logrus.Logger
}

func NewDialer(opts Options) (*Dialer, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.Secret != nil {
		p, err := opts.Secret.Protocol(opts.Protocol)
		if err != nil {
			return nil, err
		}
		opts.Protocol = p
		opts.Obfuscate = true
		if opts.MTProxy == "" {
			return nil, fmt.Errorf("mtproxy secret given without proxy address")
		}
	}
	if opts.Obfuscate && opts.Protocol == tgcrypt.Full {
		return nil, fmt.Errorf("full transport can't be obfuscated")
	}
	if _, err := NewCodec(opts.Protocol); err != nil {
		return nil, err
	}
	d := &Dialer{opts: opts, log: opts.Logger}
	if opts.Socks5 != nil {
		var auth *proxy.Auth
		if opts.Socks5.User != nil && opts.Socks5.Pass != nil {
			auth = &proxy.Auth{
				User:     *opts.Socks5.User,
				Password: *opts.Socks5.Pass,
			}
		}
		dialer, err := proxy.SOCKS5("tcp", opts.Socks5.Addr, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		d.dialer = dialer
	} else {
		d.dialer = proxy.Direct
	}
	return d, nil
}

// Dial connects to dc and sends the transport header.
func (d *Dialer) Dial(ctx context.Context, dc dcs.DC) (*Conn, error) {
	if d.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.DialTimeout)
		defer cancel()
	}
	log := d.log.WithFields(logrus.Fields{"dc": dc.ID, "addr": dc.Addr()})
	var (
		sock       net.Conn
		err4, err6 error
	)
	if d.opts.MTProxy != "" {
		sock, err4 = d.dial(ctx, d.opts.MTProxy)
	} else {
		host6 := ""
		if d.opts.AllowIPv6 {
			host6 = dc.Addr6()
		}
		sock, err4, err6 = d.dialBoth(ctx, dc.Addr(), host6)
	}
	if sock == nil {
		return nil, fmt.Errorf("%w: can't connect to %v: %v, %v", ErrConnectionLost, dc, err4, err6)
	}
	if tcp, ok := sock.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	codec, _ := NewCodec(d.opts.Protocol)
	var stream dataStream
	if d.opts.Obfuscate {
		obf, err := tgcrypt.NewObfuscation(d.opts.Random, int16(dc.ID), d.opts.Protocol, d.opts.Secret)
		if err != nil {
			sock.Close()
			return nil, err
		}
		stream = newObfuscatedStream(sock, obf, &obf.Nonce)
	} else {
		stream = newRawStream(sock, codec.Tag())
	}
	c := newConn(sock, stream, codec, log)
	stop := watchContext(ctx, sock.SetWriteDeadline)
	err := stream.Initiate()
	stop()
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	log.WithFields(logrus.Fields{
		"protocol":   fmt.Sprintf("%x", d.opts.Protocol),
		"obfuscated": d.opts.Obfuscate,
	}).Debug("connected")
	return c, nil
}

func (d *Dialer) dial(ctx context.Context, addr string) (net.Conn, error) {
	if d.opts.Dial != nil {
		return d.opts.Dial(ctx, "tcp", addr)
	}
	if cd, ok := d.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return d.dialer.Dial("tcp", addr)
}

func (d *Dialer) dialBoth(ctx context.Context, host4, host6 string) (c net.Conn, err4, err6 error) {
	if host6 != "" {
		c, err6 = d.dial(ctx, host6)
		if err6 == nil {
			return
		}
	}
	c, err4 = d.dial(ctx, host4)
	if err4 != nil {
		return nil, err4, err6
	}
	return
}
