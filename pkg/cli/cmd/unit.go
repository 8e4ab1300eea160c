package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcpc-build/bcpc-build/pkg/allocator"
	"github.com/bcpc-build/bcpc-build/pkg/cli/format"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

func newUnitCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "unit",
		Aliases: []string{"units"},
		Short:   "Manage build units",
	}
	cmd.AddCommand(
		newUnitBuildCmd(root),
		newUnitShowCmd(root),
		newUnitListCmd(root),
		newUnitHistoryCmd(root),
		newUnitDestroyCmd(root),
		newUnitModifyCmd(root),
		newUnitShellCmd(root),
		newUnitConfigCmd(root),
	)
	return cmd
}

func newUnitBuildCmd(root *rootOptions) *cobra.Command {
	var (
		strategy string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "build <id|name>",
		Short: "Run the build of a provisioned unit",
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
			if err := buildUnit(ctx, alloc, unit, quiet, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Success("Build complete."))
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", fmt.Sprintf("Build strategy %v (default from config)", allocator.StrategyNames()))
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not echo build output")
	return cmd
}

func newUnitShowCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show build unit information",
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
			if output == format.OutputTable {
				return format.NewUnitTable().RenderUnit(cmd.OutOrStdout(), unit)
			}
			return format.Write(cmd.OutOrStdout(), output, unit)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", format.OutputTable, "Output format (table, json, yaml)")
	return cmd
}

func newUnitListCmd(root *rootOptions) *cobra.Command {
	var (
		output string
		long   bool
		state  string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List build units",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := root.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			units, err := eng.repo.List(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("state") {
				want, err := types.ParseBuildState(state)
				if err != nil {
					return err
				}
				units = filterState(units, want)
			}

			if output == format.OutputTable {
				table := format.NewUnitTable()
				table.Long = long
				return table.RenderUnits(cmd.OutOrStdout(), units)
			}
			return format.Write(cmd.OutOrStdout(), output, units)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", format.OutputTable, "Output format (table, json, yaml)")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "List all fields")
	cmd.Flags().StringVar(&state, "state", "", "Only list units in this build state")
	return cmd
}

func filterState(units []*types.BuildUnit, state types.BuildState) []*types.BuildUnit {
	out := units[:0]
	for _, u := range units {
		if u.BuildState == state {
			out = append(out, u)
		}
	}
	return out
}

func newUnitHistoryCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "history <id|name>",
		Short: "Show the recorded versions of a build unit",
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
			versions, err := eng.repo.History(ctx, unit.ID)
			if err != nil {
				return err
			}
			if output == format.OutputTable {
				return format.NewUnitTable().RenderHistory(cmd.OutOrStdout(), versions)
			}
			return format.Write(cmd.OutOrStdout(), output, versions)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", format.OutputTable, "Output format (table, json, yaml)")
	return cmd
}

func newUnitDestroyCmd(root *rootOptions) *cobra.Command {
	var keepRecord bool

	cmd := &cobra.Command{
		Use:     "destroy <id|name>",
		Aliases: []string{"rm"},
		Short:   "Destroy a build unit",
		Long: `Terminate every process of the unit's build user, remove the account and its
build directory, then delete the unit's record. With --keep-record the
record is kept and marked failed instead.`,
		Args: cobra.ExactArgs(1),
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
			alloc, err := eng.allocator("")
			if err != nil {
				return err
			}
			if err := alloc.Destroy(ctx, unit, !keepRecord); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Success("Destroyed %s", unit.Name))
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepRecord, "keep-record", false, "Keep the unit's record, marked failed")
	return cmd
}

func newUnitModifyCmd(root *rootOptions) *cobra.Command {
	var setState string

	cmd := &cobra.Command{
		Use:   "modify <id|name>",
		Short: "Modify build unit metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("set-state") {
				return fmt.Errorf("nothing to modify, see --help")
			}
			state, err := types.ParseBuildState(setState)
			if err != nil {
				return err
			}

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
			return eng.repo.SetState(ctx, unit, state)
		},
	}

	cmd.Flags().StringVar(&setState, "set-state", "", fmt.Sprintf("Set the build state %v", types.BuildStates))
	return cmd
}
