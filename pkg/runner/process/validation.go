package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ValidateCommand checks that cmd names an executable that exists, so a
// missing tool is reported before anything is started.
func ValidateCommand(cmd Command) error {
	if err := validateExecutablePath(cmd.Path, cmd.Dir); err != nil {
		return fmt.Errorf("command validation failed: %w", err)
	}
	return nil
}

// validateExecutablePath checks if the given command exists and is executable.
// Relative paths with a separator are resolved against dir.
func validateExecutablePath(command, dir string) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if filepath.IsAbs(command) {
		if err := checkFileExecutable(command); err != nil {
			return fmt.Errorf("absolute path executable validation failed: %w", err)
		}
		return nil
	}

	if strings.ContainsRune(command, os.PathSeparator) {
		base := dir
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve working directory: %w", err)
			}
			base = wd
		}
		if err := checkFileExecutable(filepath.Join(base, command)); err != nil {
			return fmt.Errorf("relative path executable validation failed: %w", err)
		}
		return nil
	}

	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("command '%s' not found in PATH: %w", command, err)
	}
	return nil
}

// checkFileExecutable checks if a file exists and is executable
func checkFileExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return fmt.Errorf("failed to access file: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("path is a directory, not an executable file: %s", path)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("file is not executable: %s", path)
	}
	return nil
}
