package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nabhalearn/edusync/internal/config"
	"github.com/nabhalearn/edusync/internal/logging"
)

// rootOptions carries global flags and the resolved configuration to every
// subcommand.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string

	cfg *config.Config
	log *logging.Logger
}

// NewRootCmd builds the edusync command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "edusync",
		Short: "Offline-first classroom records with background sync",
		Long: `edusync keeps classroom and learning records in local SQLite stores and
propagates every change to a remote store whenever one is reachable.

Run "edusync serve" for the background agent, or use the maintenance
commands below for one-off syncs, backups and reports.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (yaml, toml or json)")
	pf.StringVar(&opts.dataDir, "data-dir", "", "override data_dir")
	pf.StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newSyncCmd(opts),
		newStatusCmd(opts),
		newQueueCmd(opts),
		newCacheCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newBackupCmd(opts),
		newReportCmd(opts),
		newRosterCmd(opts),
		newDevServerCmd(opts),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.dataDir != "" {
		if cfg.Backup.Dir == filepath.Join(cfg.DataDir, "backups") {
			cfg.Backup.Dir = filepath.Join(o.dataDir, "backups")
		}
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	var out io.Writer = cmd.ErrOrStderr()
	if cfg.Log.File != "" {
		file, err := logging.NewFileWriter(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
		if err != nil {
			return err
		}
		out = io.MultiWriter(out, file)
	}
	logging.Init(out, level)

	o.cfg = cfg
	o.log = logging.Get()
	return nil
}
