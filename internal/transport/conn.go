package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Conn is one framed connection to a DC. Send may be called concurrently;
// Recv is meant for a single receive loop.
type Conn struct {
	sock   net.Conn
	stream dataStream
	codec  Codec
	log    *logrus.Entry
	// DC announced in the obfuscation nonce, only set on accepted conns.
	dc int16

	wmu, rmu  sync.Mutex
	closeOnce sync.Once
}

func newConn(sock net.Conn, stream dataStream, codec Codec, log *logrus.Entry) *Conn {
	return &Conn{
		sock:   sock,
		stream: stream,
		codec:  codec,
		log:    log,
	}
}

func (c *Conn) Protocol() uint8 {
	return c.codec.Protocol()
}

// DC returns the DC id requested by an obfuscated client.
func (c *Conn) DC() int16 {
	return c.dc
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// Send writes one packet.
func (c *Conn) Send(ctx context.Context, b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	stop := watchContext(ctx, c.sock.SetWriteDeadline)
	defer stop()
	if err := c.codec.WritePacket(c.stream, b); err != nil {
		return c.lost(ctx, err)
	}
	c.log.WithField("len", len(b)).Trace("packet sent")
	return nil
}

// Recv blocks until a whole packet is read. A 4 byte negative packet comes
// back as *ProtocolError.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	stop := watchContext(ctx, c.sock.SetReadDeadline)
	defer stop()
	b, err := c.codec.ReadPacket(c.stream)
	if err != nil {
		return nil, c.lost(ctx, err)
	}
	if len(b) == 4 {
		if code := int32(binary.LittleEndian.Uint32(b)); code < 0 {
			return nil, &ProtocolError{Code: code}
		}
	}
	c.log.WithField("len", len(b)).Trace("packet received")
	return b, nil
}

func (c *Conn) Close() (err error) {
	c.closeOnce.Do(func() {
		err = c.stream.Close()
		c.log.Debug("connection closed")
	})
	return
}

func (c *Conn) lost(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		err = context.DeadlineExceeded
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// watchContext applies the context deadline to the socket and interrupts the
// pending operation when the context is cancelled.
func watchContext(ctx context.Context, set func(time.Time) error) (stop func()) {
	deadline, _ := ctx.Deadline()
	_ = set(deadline)
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = set(time.Unix(1, 0))
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
