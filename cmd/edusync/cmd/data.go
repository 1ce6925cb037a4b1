package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nabhalearn/edusync/internal/export"
	backups "github.com/nabhalearn/edusync/internal/export/scheduler"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every local record to a checksummed archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.exporter.WriteArchive(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d record(s) written to %s (%d bytes, sha256 %s)\n",
				color.GreenString("OK"), res.ItemCount, res.FilePath, res.SizeBytes, res.Checksum)
			return nil
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore records from an archive written by export",
		Long: `Restore records from an archive. Records are upserted with their sync
flags as exported and nothing is queued for sync.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.exporter.ImportArchive(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d record(s) imported\n", color.GreenString("OK"), res.ImportedCount)
			return nil
		},
	}
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write one backup archive into backup.dir and apply retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := backups.NewScheduler(a.exporter, backups.SchedulerConfig{
				RetentionCount: opts.cfg.Backup.Retention,
				ExportDir:      opts.cfg.Backup.Dir,
			}, opts.log)
			res, err := sched.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s backup written to %s\n", color.GreenString("OK"), res.FilePath)
			return nil
		},
	}
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report attendance|scores <classID> <file.xlsx>",
		Short: "Write an XLSX attendance or score report for a class",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, classID, path := strings.ToLower(args[0]), args[1], args[2]

			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			var write func(context.Context, string, io.Writer) error
			switch kind {
			case "attendance":
				write = a.exporter.AttendanceReport
			case "scores":
				write = a.exporter.ScoreReport
			default:
				return fmt.Errorf("unknown report %q (want attendance or scores)", args[0])
			}

			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := write(ctx, classID, f); err != nil {
				f.Close()
				os.Remove(path)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s report for %s written to %s\n", color.GreenString("OK"), kind, classID, path)
			return nil
		},
	}
}

func newRosterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roster <classID> <file.xlsx>",
		Short: "Import students into a class from an XLSX roster",
		Long: `Import students from the first sheet of an XLSX workbook. Row 1 is a
header; columns are roll number, name, email, phone, parent name and parent
phone. Every imported student is queued for sync.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := export.ImportRoster(ctx, a.teacher, args[0], f, opts.log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d student(s) imported into %s\n", color.GreenString("OK"), res.Imported, args[0])
			if len(res.Skipped) > 0 {
				fmt.Fprintf(out, "%s skipped rows %v\n", color.YellowString("WARN"), res.Skipped)
			}
			return nil
		},
	}
}
