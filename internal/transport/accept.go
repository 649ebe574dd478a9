package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/tgcrypt"
)

// AcceptOptions configures the server side of a connection.
type AcceptOptions struct {
	// Secret the obfuscation nonce is checked against, nil for direct ones.
	Secret *tgcrypt.Secret
	// Full skips header detection, full transport sends no tag.
	Full    bool
	Timeout time.Duration
	Logger  *logrus.Logger
}

// Accept reads the transport header of an incoming connection and returns a
// Conn speaking the detected protocol.
func Accept(sock net.Conn, opts AcceptOptions) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	log := opts.Logger.WithField("remote", sock.RemoteAddr())
	if opts.Full {
		codec, _ := NewCodec(tgcrypt.Full)
		return newConn(sock, newRawStream(sock, nil), codec, log), nil
	}
	if opts.Timeout > 0 {
		_ = sock.SetReadDeadline(time.Now().Add(opts.Timeout))
		defer sock.SetReadDeadline(time.Time{})
	}
	var header tgcrypt.Nonce
	if _, err := io.ReadFull(sock, header[:1]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	if header[0] == tgcrypt.Abridged {
		codec, _ := NewCodec(tgcrypt.Abridged)
		return newConn(sock, newRawStream(sock, nil), codec, log), nil
	}
	if _, err := io.ReadFull(sock, header[1:4]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	for _, p := range []uint8{tgcrypt.Intermediate, tgcrypt.Padded} {
		if header[0] == p && header[1] == p && header[2] == p && header[3] == p {
			codec, _ := NewCodec(p)
			return newConn(sock, newRawStream(sock, nil), codec, log), nil
		}
	}
	if _, err := io.ReadFull(sock, header[4:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	if header.Reserved() {
		return nil, fmt.Errorf("unrecognized transport header %x", header[:4])
	}
	obf, err := tgcrypt.AcceptObfuscation(header, opts.Secret)
	if err != nil {
		return nil, err
	}
	codec, err := NewCodec(obf.Protocol)
	if err != nil {
		return nil, err
	}
	c := newConn(sock, newObfuscatedStream(sock, obf, nil), codec, log)
	c.dc = obf.DC
	log.WithFields(logrus.Fields{"dc": obf.DC, "protocol": fmt.Sprintf("%x", obf.Protocol)}).Debug("obfuscated client")
	return c, nil
}
