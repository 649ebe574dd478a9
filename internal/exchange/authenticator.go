package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/dcs"
	"github.com/geovex/mtcore/internal/proto"
	"github.com/geovex/mtcore/internal/tgcrypt"
	"github.com/geovex/mtcore/internal/transport"
)

// Dialer opens the connection an exchange attempt runs over.
type Dialer interface {
	Dial(ctx context.Context, dc dcs.DC) (*transport.Conn, error)
}

// Authenticator creates auth keys, restarting the whole exchange on a fresh
// connection when an attempt fails.
type Authenticator struct {
	Dialer   Dialer
	Keys     []tgcrypt.PublicKey
	Attempts int
	// Timeout bounds one attempt.
	Timeout time.Duration
	Random  io.Reader
	Clock   proto.Clock
	Logger  *logrus.Logger
}

func (a *Authenticator) logger() *logrus.Logger {
	if a.Logger == nil {
		return logrus.New()
	}
	return a.Logger
}

// Generate returns a new auth key for dc.
func (a *Authenticator) Generate(ctx context.Context, dc dcs.DC) (Result, error) {
	attempts := a.Attempts
	if attempts < 1 {
		attempts = 1
	}
	log := a.logger().WithField("dc", dc.ID)
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := a.attempt(ctx, dc)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrUnknownFingerprint) || ctx.Err() != nil {
			break
		}
		log.WithError(err).WithField("attempt", i+1).Warn("key exchange failed, restarting")
	}
	return Result{}, fmt.Errorf("key exchange with %v: %w", dc, lastErr)
}

func (a *Authenticator) attempt(ctx context.Context, dc dcs.DC) (Result, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	conn, err := a.Dialer.Dial(ctx, dc)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()
	return NewClient(conn, ClientOptions{
		Keys:   a.Keys,
		DC:     dc.ID,
		Random: a.Random,
		Clock:  a.Clock,
		Logger: a.Logger,
	}).Run(ctx)
}
