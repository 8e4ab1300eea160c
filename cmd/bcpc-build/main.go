package main

import (
	"os"

	"github.com/bcpc-build/bcpc-build/pkg/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
