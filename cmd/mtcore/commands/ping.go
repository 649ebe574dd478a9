package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/geovex/mtcore/internal/stats"
)

func pingCmd() *cobra.Command {
	var (
		count    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure the round trip to the primary DC",
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
			sts := stats.New()
			s, err := newSender(sess, st, sts)
			if err != nil {
				return err
			}
			defer s.Close()
			for i := 0; i < count; i++ {
				if i > 0 {
					time.Sleep(interval)
				}
				rtt, err := s.Ping(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("dc%d: pong in %v\n", sess.PrimaryDC(), rtt)
			}
			printStats(sts)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 3, "number of pings")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "delay between pings")
	return cmd
}
