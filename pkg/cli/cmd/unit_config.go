package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bcpc-build/bcpc-build/pkg/allocator"
)

var configShowFormats = []string{"shell", "json"}

func newUnitConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage build unit configuration",
	}
	cmd.AddCommand(newUnitConfigShowCmd(root))
	return cmd
}

func newUnitConfigShowCmd(root *rootOptions) *cobra.Command {
	var (
		output   string
		strategy string
	)

	cmd := &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show the rendered configuration of a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := root.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			unit, err := eng.findUnit(ctx, args[0])
			if err != nil {
				return err
			}
			alloc, err := eng.allocator(strategy)
			if err != nil {
				return err
			}

			path := filepath.Join(unit.BuildDir, alloc.Strategy().TemplatePath)
			env, err := godotenv.Read(path)
			if err != nil {
				return fmt.Errorf("failed to read configuration of %s: %w", unit.Name, err)
			}
			return writeEnv(cmd.OutOrStdout(), output, env)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "shell", fmt.Sprintf("Output format %v", configShowFormats))
	cmd.Flags().StringVar(&strategy, "strategy", "", fmt.Sprintf("Build strategy %v (default from config)", allocator.StrategyNames()))
	return cmd
}

// writeEnv prints env sorted by key, as KEY=VALUE lines or a JSON object.
func writeEnv(w io.Writer, output string, env map[string]string) error {
	switch output {
	case "json":
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "shell":
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(w, "%s=%s\n", k, env[k]); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported output format %q, want one of %v", output, configShowFormats)
}
