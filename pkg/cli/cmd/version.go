package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcpc-build/bcpc-build/pkg/cli/format"
	"github.com/bcpc-build/bcpc-build/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the bcpc-build version information",
		Long:  `Display detailed version information about the bcpc-build binary.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), version.Info())
				return nil
			}
			return format.Write(cmd.OutOrStdout(), output, version.Get())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format (json, yaml)")
	return cmd
}
