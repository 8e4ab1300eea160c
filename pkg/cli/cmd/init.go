package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bcpc-build/bcpc-build/internal/config"
	"github.com/bcpc-build/bcpc-build/pkg/cli/format"
	"github.com/bcpc-build/bcpc-build/pkg/utils"
)

const (
	userConfDirMode  = 0741
	userConfFileMode = 0600
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the bcpc-build installation",
		Long: `Create the per-user configuration directory and a config file holding the
defaults, and the data directory that holds the build unit database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeDefaultConfig(path, opts.cfg, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Label("Config", path))

			if _, err := utils.EnsureDir(opts.cfg.DataDir, 0755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Label("Data", opts.cfg.DataDir))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&path, "path", config.DefaultPath(), "Where to write the config file")
	return cmd
}

// writeDefaultConfig writes cfg as yaml to path. An existing file is only
// replaced with force.
func writeDefaultConfig(path string, cfg *config.Config, force bool) error {
	if utils.FileExists(path) && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), userConfDirMode); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, userConfFileMode)
}
