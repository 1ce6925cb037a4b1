package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nabhalearn/edusync/internal/models"
)

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the sync queue",
	}
	cmd.AddCommand(
		newQueueListCmd(opts),
		newQueueRetryCmd(opts),
		newQueueClearCmd(opts),
		newQueueSweepCmd(opts),
	)
	return cmd
}

func newQueueListCmd(opts *rootOptions) *cobra.Command {
	var failedOnly, all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items, most urgent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			var items []*models.SyncQueueItem
			switch {
			case failedOnly:
				items, err = a.queue.ListFailed(ctx)
			case all:
				items, err = a.queue.List(ctx)
			default:
				items, err = a.queue.ListPending(ctx)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tACTION\tRECORD\tVERSION\tPRIORITY\tRETRIES\tSTATUS\tCREATED\tERROR")
			for _, item := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d/%d\t%s\t%s\t%s\n",
					item.ID, item.Type, item.Action, item.RecordID, item.Version, item.Priority,
					item.RetryCount, item.MaxRetries, item.Status,
					item.CreatedAt.Local().Format(timeLayout), item.Error)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "list permanently failed items only")
	cmd.Flags().BoolVar(&all, "all", false, "include failed and settled items")
	cmd.MarkFlagsMutuallyExclusive("failed", "all")
	return cmd
}

func newQueueRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return failed items to pending with a fresh retry budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.queue.RetryFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d item(s) requeued\n", color.GreenString("OK"), n)
			return nil
		},
	}
}

func newQueueClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every queue item",
		Long: `Remove every queue item. Local records keep synced=false, so the changes
they carry are only sent again by a batch sync (sync --attendance/--scores)
or by a later edit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the queue without --yes")
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.queue.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s queue cleared\n", color.GreenString("OK"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func newQueueSweepCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove settled items older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("older-than") {
				olderThan = opts.cfg.Sync.SettledRetention
			}
			n, err := a.queue.SweepSettled(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d settled item(s) removed\n", color.GreenString("OK"), n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (default sync.settled_retention)")
	return cmd
}
