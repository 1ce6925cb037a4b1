package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the content cache",
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache entries (--all empties the cache)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				if err := a.learning.ClearAllCache(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s cache emptied\n", color.GreenString("OK"))
				return nil
			}
			n, err := a.learning.ClearExpiredCache(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d expired entr(ies) removed\n", color.GreenString("OK"), n)
			return nil
		},
	}
	sweep.Flags().BoolVar(&all, "all", false, "remove every entry, expired or not")

	cmd.AddCommand(sweep)
	return cmd
}
