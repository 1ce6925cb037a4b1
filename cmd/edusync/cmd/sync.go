package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/models"
	syncpkg "github.com/nabhalearn/edusync/internal/sync"
)

const timeLayout = "2006-01-02 15:04:05"

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var attendance, scores, all bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the sync queue once",
		Long: `Probe the remote store and, when it is reachable, attempt every pending
queue item once, ignoring backoff windows.

With --attendance or --scores, send every unsynced record of that kind
directly instead; --all does so for every kind. Queue items those records
make redundant are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !a.prober.ProbeOnce(ctx) {
				return errors.Newf(errors.ErrSyncOffline, "remote %s is unreachable", remoteLabel(opts.cfg))
			}

			switch {
			case attendance:
				res, err := a.engine.SyncAttendanceBatch(ctx)
				if err != nil {
					return err
				}
				printBatch(out, models.KindAttendance, res)
			case scores:
				res, err := a.engine.SyncScoreBatch(ctx)
				if err != nil {
					return err
				}
				printBatch(out, models.KindScore, res)
			case all:
				results, err := a.engine.SyncAll(ctx)
				for _, kind := range models.Kinds {
					if res, ok := results[kind]; ok {
						printBatch(out, kind, res)
					}
				}
				if err != nil {
					return err
				}
			default:
				res, err := a.engine.Drain(ctx, true)
				if res != nil {
					printDrain(out, res)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&attendance, "attendance", false, "send unsynced attendance records directly")
	cmd.Flags().BoolVar(&scores, "scores", false, "send unsynced score records directly")
	cmd.Flags().BoolVar(&all, "all", false, "send unsynced records of every kind directly")
	cmd.MarkFlagsMutuallyExclusive("attendance", "scores", "all")
	return cmd
}

func printDrain(w io.Writer, r *syncpkg.DrainResult) {
	title := color.GreenString("Sync complete")
	if r.Failed > 0 || r.Error != "" {
		title = color.YellowString("Sync finished with failures")
	}
	fmt.Fprintf(w, "%s in %v\n", title, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  attempted: %d\n", r.Attempted)
	fmt.Fprintf(w, "  synced:    %d\n", r.Synced)
	fmt.Fprintf(w, "  skipped:   %d\n", r.Skipped)
	fmt.Fprintf(w, "  stale:     %d\n", r.Stale)
	fmt.Fprintf(w, "  failed:    %d (permanent %d)\n", r.Failed, r.PermanentlyFailed)
	if r.Deferred > 0 {
		fmt.Fprintf(w, "  deferred:  %d\n", r.Deferred)
	}
	if r.Superseded > 0 {
		fmt.Fprintf(w, "  superseded: %d\n", r.Superseded)
	}
	if r.Swept > 0 {
		fmt.Fprintf(w, "  swept:     %d\n", r.Swept)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", color.RedString(r.Error))
	}
}

func printBatch(w io.Writer, kind models.Kind, r *syncpkg.BatchResult) {
	title := color.GreenString("Batch sync complete")
	if r.Failed > 0 {
		title = color.YellowString("Batch sync finished with failures")
	}
	fmt.Fprintf(w, "%s (%s)\n", title, kind)
	fmt.Fprintf(w, "  sent:   %d\n", r.Success)
	fmt.Fprintf(w, "  failed: %d\n", r.Failed)
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, backlog and last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			online := a.prober.ProbeOnce(ctx)
			stats, err := a.queue.Stats(ctx)
			if err != nil {
				return err
			}
			state, err := a.state.load()
			if err != nil {
				return err
			}
			content, err := a.learning.StorageInfo(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			conn := color.RedString("offline")
			if online {
				conn = color.GreenString("online")
			}
			fmt.Fprintf(out, "Remote:    %s (%s)\n", remoteLabel(opts.cfg), conn)
			fmt.Fprintf(out, "Pending:   %d\n", stats.Pending)
			failed := fmt.Sprint(stats.Failed)
			if stats.Failed > 0 {
				failed = color.RedString(failed)
			}
			fmt.Fprintf(out, "Failed:    %s\n", failed)
			fmt.Fprintf(out, "Settled:   %d\n", stats.Settled)
			fmt.Fprintf(out, "Content:   %d record(s)\n", content.Total)

			if len(stats.ByType) > 0 {
				kinds := make([]string, 0, len(stats.ByType))
				for k := range stats.ByType {
					kinds = append(kinds, string(k))
				}
				sort.Strings(kinds)
				fmt.Fprintln(out, "Backlog by type:")
				for _, k := range kinds {
					fmt.Fprintf(out, "  %-18s %d\n", k, stats.ByType[models.Kind(k)])
				}
			}

			switch {
			case state == nil:
				fmt.Fprintf(out, "Last sync: %s\n", color.YellowString("never"))
			case state.LastResult == nil:
				fmt.Fprintf(out, "Last sync: %s\n", state.LastSync.Local().Format(timeLayout))
			default:
				fmt.Fprintf(out, "Last sync: %s (%d synced, %d failed)\n",
					state.LastSync.Local().Format(timeLayout), state.LastResult.Synced, state.LastResult.Failed)
			}
			if state != nil && len(state.RecentErrors) > 0 {
				fmt.Fprintln(out, "Recent errors:")
				for _, e := range state.RecentErrors {
					fmt.Fprintf(out, "  %s  %-8s %s  %s\n", e.Timestamp.Local().Format(timeLayout),
						e.Operation, e.ItemID, color.RedString(e.Error))
				}
			}
			return nil
		},
	}
}
