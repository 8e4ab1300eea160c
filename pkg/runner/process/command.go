package process

import (
	"fmt"

	"github.com/kballard/go-shellquote"
)

// Command describes one subprocess invocation.
type Command struct {
	// Path is the executable, looked up in PATH when it has no separator.
	Path string
	Args []string
	// Dir is the working directory; relative Paths resolve against it.
	Dir string
	// Env entries are appended to the runner's environment.
	Env []string
	// User, when set, is the account the child runs as.
	User string
	// MergeStderr sends stderr into the output stream instead of the log.
	MergeStderr bool
}

// NewCommand builds a Command from an executable and its arguments.
func NewCommand(path string, args ...string) Command {
	return Command{Path: path, Args: args}
}

// ParseCommand splits a shell-style command line into a Command.
func ParseCommand(line string) (Command, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("invalid command line %q: %w", line, err)
	}
	if len(words) == 0 {
		return Command{}, fmt.Errorf("empty command line")
	}
	return Command{Path: words[0], Args: words[1:]}, nil
}

// AsUser returns a copy of c that runs as user.
func (c Command) AsUser(user string) Command {
	c.User = user
	return c
}

// InDir returns a copy of c that runs in dir.
func (c Command) InDir(dir string) Command {
	c.Dir = dir
	return c
}

// String renders the command line with shell quoting.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Path}, c.Args...)...)
}
