package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcpc-build/bcpc-build/pkg/cli/format"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/store"
)

func newDBCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Administer the build unit database",
	}
	cmd.AddCommand(
		newDBBackupCmd(root),
		newDBImportCmd(root),
		newDBConsoleCmd(root),
	)
	return cmd
}

func newDBBackupCmd(root *rootOptions) *cobra.Command {
	var destination string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write every build unit to a backup file",
		Long: `Write every build unit as one JSON document per line. The backup can be
imported into either store driver. A destination of "-" writes to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := root.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if destination == "-" {
				_, err := eng.repo.Dump(ctx, cmd.OutOrStdout())
				return err
			}
			n, err := backupTo(ctx, eng, destination)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), format.Success("Backed up %d build units to %s", n, destination))
			return nil
		},
	}

	cmd.Flags().StringVar(&destination, "destination", "", "Backup file path, or - for stdout")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newDBImportCmd(root *rootOptions) *cobra.Command {
	var backup bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import build units from a backup file",
		Long: `Import build units written by "db backup". Units whose id already exists are
replaced. Unless --backup=false, the current database is backed up into the
data directory first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			eng, err := root.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if backup {
				dest := defaultBackupPath(root.cfg.DataDir, time.Now())
				n, err := backupTo(ctx, eng, dest)
				if err != nil {
					return fmt.Errorf("could not back up current database: %w", err)
				}
				root.logger.Info("Backed up current database", log.Str("path", dest), log.Int("units", n))
			}

			n, err := eng.repo.Restore(ctx, src)
			if err != nil {
				return fmt.Errorf("could not import database after %d units: %w", n, err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), format.Success("Imported %d build units", n))
			return nil
		},
	}

	cmd.Flags().BoolVar(&backup, "backup", true, "Back up the current database before importing")
	return cmd
}

func newDBConsoleCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Open an interactive console on the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.cfg.Store.Driver != store.DriverSQLite {
				return fmt.Errorf("no console for the %s store", root.cfg.Store.Driver)
			}
			c := exec.CommandContext(cmd.Context(), "sqlite3", "-bail", root.cfg.StorePath())
			c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
			return c.Run()
		},
	}
}

func defaultBackupPath(dataDir string, now time.Time) string {
	return filepath.Join(dataDir, "backups", fmt.Sprintf("bcpc-build.%d.jsonl", now.Unix()))
}

// backupTo dumps every unit to path, replacing it only once the dump is
// complete.
func backupTo(ctx context.Context, eng *engine, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := eng.repo.Dump(ctx, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), path)
}
