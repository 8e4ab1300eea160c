package cmd

import (
	"errors"

	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// Exit codes for bcpc-build
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitUnitNotFound    = 2
	ExitProvisionFailed = 3
	ExitBuildFailed     = 4
)

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		notFound *types.NotFoundError
		alloc    *types.AllocationError
		prov     *types.ProvisionError
		conf     *types.ConfigurationError
		build    *types.BuildError
	)
	switch {
	case errors.As(err, &build):
		return ExitBuildFailed
	case errors.As(err, &alloc), errors.As(err, &prov), errors.As(err, &conf):
		return ExitProvisionFailed
	case errors.As(err, &notFound):
		return ExitUnitNotFound
	}
	return ExitGeneralError
}
