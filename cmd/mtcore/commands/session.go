package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	var primary int
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show or modify the stored session",
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
			if primary != 0 {
				sess.SetPrimary(primary)
				if err := sess.Save(ctx, st); err != nil {
					return err
				}
			}
			fmt.Printf("primary: dc%d\n", sess.PrimaryDC())
			for _, id := range sess.DCs() {
				state, _ := sess.DC(id)
				key := "none"
				if !state.AuthKey.Zero() {
					key = fmt.Sprintf("%016x", uint64(state.AuthKey.IntID()))
				}
				fmt.Printf("dc%d %s: key %s, salt %016x, offset %ds\n",
					id, state.Addr, key, uint64(state.Salt), state.TimeOffset)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&primary, "set-primary", 0, "switch the primary DC")
	return cmd
}
