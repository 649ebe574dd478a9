package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geovex/mtcore/internal/exchange"
)

func handshakeCmd() *cobra.Command {
	var dc int
	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Generate an auth key and store it in the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sess, st, err := loadSession(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(st)
			if dc == 0 {
				dc = sess.PrimaryDC()
			}
			target, err := conf.GetDCTable().Lookup(dc)
			if err != nil {
				return err
			}
			dialer, err := newDialer()
			if err != nil {
				return err
			}
			keys, err := conf.GetPublicKeys()
			if err != nil {
				return err
			}
			a := &exchange.Authenticator{
				Dialer:   dialer,
				Keys:     keys,
				Attempts: conf.GetRetry().HandshakeAttempts,
				Timeout:  conf.GetTimeouts().Handshake,
				Logger:   logger,
			}
			res, err := a.Generate(ctx, target)
			if err != nil {
				return err
			}
			sess.Invalidate(dc)
			if err := sess.SetAuthKey(dc, target.Addr(), res.AuthKey, res.ServerSalt, res.TimeOffset); err != nil {
				return err
			}
			if err := sess.Save(ctx, st); err != nil {
				return err
			}
			fmt.Printf("dc%d: auth key %016x, time offset %ds\n", dc, uint64(res.AuthKey.IntID()), res.TimeOffset)
			return nil
		},
	}
	cmd.Flags().IntVar(&dc, "dc", 0, "DC to run the exchange with (default primary)")
	return cmd
}
