package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/tgcrypt"
	"github.com/geovex/mtcore/internal/tgerr"
)

// SentCode is the answer to a code request.
type SentCode struct {
	Hash string
	// Via describes the delivery (app, sms, call).
	Via string
}

// PasswordChallenge carries the current SRP parameters of the account.
type PasswordChallenge struct {
	ID   int64
	Algo tgcrypt.PasswordAlgo
	B    []byte
	Hint string
}

// Backend performs the sign in calls. It is implemented on top of the schema
// layer.
type Backend interface {
	SendCode(ctx context.Context, phone string) (SentCode, error)
	SignIn(ctx context.Context, phone, hash, code string) error
	Password(ctx context.Context) (PasswordChallenge, error)
	CheckPassword(ctx context.Context, id int64, answer tgcrypt.SRPAnswer) error
}

// Flow drives phone, code and the optional two factor password.
type Flow struct {
	Backend Backend
	Broker  *Broker
	// Attempts bounds how often a rejected code or password is asked again.
	Attempts int
	Random   io.Reader
	Logger   *logrus.Logger
}

func (f *Flow) setDefaults() {
	if f.Attempts <= 0 {
		f.Attempts = 3
	}
	if f.Random == nil {
		f.Random = rand.Reader
	}
	if f.Logger == nil {
		f.Logger = logrus.New()
	}
}

// SignIn runs the whole flow.
func (f *Flow) SignIn(ctx context.Context) error {
	f.setDefaults()
	log := f.Logger.WithField("component", "auth")

	phone, err := f.Broker.Ask(ctx, Phone, "", false)
	if err != nil {
		return err
	}
	sent, err := f.Backend.SendCode(ctx, phone)
	if err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	log.WithField("via", sent.Via).Info("login code sent")

	for i := 0; ; i++ {
		code, err := f.Broker.Ask(ctx, Code, sent.Via, i > 0)
		if err != nil {
			return err
		}
		err = f.Backend.SignIn(ctx, phone, sent.Hash, code)
		switch {
		case err == nil:
			log.Info("signed in")
			return nil
		case tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
			return f.password(ctx, log)
		case tgerr.Is(err, "PHONE_CODE_INVALID") && i+1 < f.Attempts:
			log.Warn("login code rejected")
			continue
		}
		return fmt.Errorf("sign in: %w", err)
	}
}

func (f *Flow) password(ctx context.Context, log *logrus.Entry) error {
	for i := 0; ; i++ {
		ch, err := f.Backend.Password(ctx)
		if err != nil {
			return fmt.Errorf("get password: %w", err)
		}
		pw, err := f.Broker.Ask(ctx, Password, ch.Hint, i > 0)
		if err != nil {
			return err
		}
		answer, err := tgcrypt.SRP([]byte(pw), ch.Algo, ch.B, f.Random)
		if err != nil {
			return fmt.Errorf("srp: %w", err)
		}
		err = f.Backend.CheckPassword(ctx, ch.ID, answer)
		switch {
		case err == nil:
			log.Info("signed in with password")
			return nil
		case tgerr.Is(err, "PASSWORD_HASH_INVALID") && i+1 < f.Attempts:
			log.Warn("password rejected")
			continue
		}
		return fmt.Errorf("check password: %w", err)
	}
}
