package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	backups "github.com/nabhalearn/edusync/internal/export/scheduler"
	syncpkg "github.com/nabhalearn/edusync/internal/sync"
	"github.com/nabhalearn/edusync/internal/sync/scheduler"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background sync agent",
		Long: `Run the sync agent until interrupted.

The agent probes the remote store, drains the sync queue whenever the remote
becomes reachable and on every sync.interval, and writes backup archives
when backup.interval is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log := opts.cfg, opts.log
			a, err := openApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.NewScheduler(a.engine, a.monitor, &scheduler.SchedulerConfig{
				SyncInterval:   cfg.Sync.Interval,
				StatusInterval: cfg.Sync.StatusInterval,
				OnStatus: func(st syncpkg.Status) {
					log.Debug("Sync status", map[string]interface{}{
						"online":  st.Online,
						"pending": st.Pending,
						"failed":  st.Failed,
					})
				},
			}, log)
			backup := backups.NewScheduler(a.exporter, backups.SchedulerConfig{
				Interval:       cfg.Backup.Interval,
				RetentionCount: cfg.Backup.Retention,
				ExportDir:      cfg.Backup.Dir,
			}, log)

			if err := backup.Start(ctx); err != nil {
				return err
			}
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.prober.Run(ctx)
			}()
			sched.Start(ctx)

			fmt.Fprintf(cmd.OutOrStdout(), "%s syncing %s with %s (Ctrl+C to stop)\n",
				color.GreenString("edusync agent running:"), cfg.DataDir, remoteLabel(cfg))

			<-ctx.Done()

			// Stop triggers first so no drain starts against closing stores.
			sched.Stop()
			backup.Stop()
			wg.Wait()
			fmt.Fprintln(cmd.OutOrStdout(), "edusync agent stopped")
			return nil
		},
	}
}
