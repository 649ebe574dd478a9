package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/geovex/mtcore/internal/config"
	"github.com/geovex/mtcore/internal/sender"
	"github.com/geovex/mtcore/internal/session"
	"github.com/geovex/mtcore/internal/stats"
	"github.com/geovex/mtcore/internal/transport"
)

var (
	configPath string
	conf       *config.Config
	logger     *logrus.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:          "mtcore",
		Short:        "MTProto session tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath != "" {
				conf, err = config.ReadConfig(configPath)
				if err != nil {
					return err
				}
			} else {
				conf = config.DefaultConfig()
			}
			logger = logrus.New()
			logger.SetLevel(conf.GetLogLevel())
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML config")

	root.AddCommand(handshakeCmd(), pingCmd(), sessionCmd())
	return root.Execute()
}

func newDialer() (*transport.Dialer, error) {
	protocol, err := transport.ProtocolByName(conf.GetTransport())
	if err != nil {
		return nil, err
	}
	opts := transport.Options{
		Protocol:    protocol,
		Obfuscate:   conf.GetObfuscate(),
		AllowIPv6:   conf.GetAllowIPv6(),
		DialTimeout: conf.GetTimeouts().Dial,
		Logger:      logger,
	}
	if s := conf.GetSocks5(); s != nil {
		opts.Socks5 = &transport.Socks5{Addr: s.Url, User: s.User, Pass: s.Pass}
	}
	if addr, secret := conf.GetMTProxy(); addr != nil {
		opts.MTProxy = *addr
		opts.Secret = secret
	}
	return transport.NewDialer(opts)
}

// loadSession opens the configured storage and reads the session from it, a
// fresh session is returned when the storage is empty.
func loadSession(ctx context.Context) (*session.Session, session.Storage, error) {
	st, err := session.OpenStorage(conf.GetSession(), logger)
	if err != nil {
		return nil, nil, err
	}
	sess, err := session.Load(ctx, st)
	if errors.Is(err, session.ErrNotFound) {
		return session.New(conf.GetPrimaryDC()), st, nil
	}
	if err != nil {
		closeStorage(st)
		return nil, nil, err
	}
	return sess, st, nil
}

func closeStorage(st session.Storage) {
	if c, ok := st.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			logger.WithError(err).Warn("closing session storage")
		}
	}
}

// rawCodec passes objects through undecoded, the CLI has no schema.
type rawCodec struct{}

func (rawCodec) Encode(req sender.Request) ([]byte, error) {
	return nil, fmt.Errorf("no schema to encode %s", req.TypeName())
}

func (rawCodec) Decode(data []byte) (any, error) {
	return data, nil
}

func newSender(sess *session.Session, st session.Storage, sts *stats.Stats) (*sender.Sender, error) {
	dialer, err := newDialer()
	if err != nil {
		return nil, err
	}
	keys, err := conf.GetPublicKeys()
	if err != nil {
		return nil, err
	}
	t := conf.GetTimeouts()
	r := conf.GetRetry()
	k := conf.GetKeepalive()
	return sender.New(sess, sender.Options{
		DCs:               conf.GetDCTable(),
		Dialer:            dialer,
		Keys:              keys,
		Codec:             rawCodec{},
		Storage:           st,
		Stats:             sts,
		HandshakeAttempts: r.HandshakeAttempts,
		HandshakeTimeout:  t.Handshake,
		RequestTimeout:    t.Request,
		MaxRetries:        r.MaxRetries,
		RetryDelay:        r.Delay,
		ReconnectAttempts: r.Reconnect,
		FloodThreshold:    r.FloodThreshold,
		PingInterval:      k.Ping,
		PingDisconnect:    k.PingDisconnect,
		Logger:            logger,
	}), nil
}

func printStats(sts *stats.Stats) {
	fmt.Fprint(os.Stdout, sts.AsString())
}
