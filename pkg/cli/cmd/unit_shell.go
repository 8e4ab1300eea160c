package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bcpc-build/bcpc-build/pkg/cli/format"
	"github.com/bcpc-build/bcpc-build/pkg/log"
)

// shellCommands are tried in order until one exits zero. {user} and {shell}
// are substituted before the line is split.
var shellCommands = []string{
	"env SHELL={shell} sudo -n -p 'Password for %p' login -f {user}",
	"su -c 'login -f {user}'",
	"env SHELL={shell} sudo -p 'Password for %u' -u {user} -",
}

// shellArgv renders the shell command lines for user.
func shellArgv(user, shell string) ([][]string, error) {
	r := strings.NewReplacer("{user}", shellquote.Join(user), "{shell}", shellquote.Join(shell))
	argv := make([][]string, 0, len(shellCommands))
	for _, line := range shellCommands {
		words, err := shellquote.Split(r.Replace(line))
		if err != nil {
			return nil, err
		}
		argv = append(argv, words)
	}
	return argv, nil
}

func newUnitShellCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell <id|name>",
		Short: "Start a login shell as the unit's build user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("unit shell needs an interactive terminal")
			}

			ctx := cmd.Context()
			eng, err := root.openEngine(ctx)
			if err != nil {
				return err
			}
			unit, err := eng.findUnit(ctx, args[0])
			eng.Close()
			if err != nil {
				return err
			}

			argv, err := shellArgv(unit.BuildUser, root.cfg.UserShell)
			if err != nil {
				return err
			}
			return spawnShell(ctx, argv, cmd.ErrOrStderr(), root.logger)
		},
	}
	return cmd
}

// spawnShell runs each candidate attached to the terminal and stops at the
// first that exits zero.
func spawnShell(ctx context.Context, argv [][]string, errOut io.Writer, logger log.Logger) error {
	var lastErr error
	for _, args := range argv {
		c := exec.CommandContext(ctx, args[0], args[1:]...)
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr

		logger.Debug("Spawning shell", log.Str("command", shellquote.Join(args...)))
		lastErr = c.Run()
		if lastErr == nil {
			return nil
		}
		fmt.Fprintln(errOut, format.Warning("%s: %v", args[0], lastErr))
	}
	return fmt.Errorf("could not spawn shell: %w", lastErr)
}
