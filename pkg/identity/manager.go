// Package identity manages the OS accounts that own build sandboxes: it
// creates and removes them, terminates their processes and temporarily
// assumes their identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"path/filepath"
	"time"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/runner/process"
	"github.com/bcpc-build/bcpc-build/pkg/runner/process/security"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

const (
	// useradd exit status when the login is already in use.
	useraddExitUserExists = 9
	// userdel exit status when the login does not exist.
	userdelExitNoSuchUser = 6
)

// DefaultKillTimeout is how long terminated processes get before SIGKILL.
const DefaultKillTimeout = 5 * time.Second

// Account is a resolved OS account.
type Account = security.Account

// Executor runs short commands to completion.
type Executor interface {
	Output(ctx context.Context, cmd process.Command) ([]byte, error)
}

// LookupFunc resolves an account by name.
type LookupFunc func(name string) (*Account, error)

// CreateOptions controls account creation.
type CreateOptions struct {
	// Shell is the login shell; empty keeps the system default.
	Shell string
	// HomePrefix places the home directory at HomePrefix/<name>.
	HomePrefix string
}

// Manager creates, removes and impersonates OS accounts.
type Manager struct {
	exec   Executor
	lookup LookupFunc
	logger log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLookup replaces the account lookup, which defaults to os/user.
func WithLookup(fn LookupFunc) Option {
	return func(m *Manager) {
		m.lookup = fn
	}
}

// NewManager creates a Manager running its commands through exec.
func NewManager(exec Executor, logger log.Logger, opts ...Option) *Manager {
	m := &Manager{
		exec:   exec,
		lookup: security.LookupAccount,
		logger: log.OrDefault(logger).WithComponent("identity"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LookupUser resolves name to an Account.
func (m *Manager) LookupUser(name string) (*Account, error) {
	return m.lookup(name)
}

// UserExists reports whether an account called name exists.
func (m *Manager) UserExists(name string) bool {
	_, err := m.lookup(name)
	return err == nil
}

// CreateUser ensures a system account called name exists. existed reports
// whether it was already present, in which case nothing is changed.
func (m *Manager) CreateUser(ctx context.Context, name string, opts CreateOptions) (acct *Account, existed bool, err error) {
	logger := m.logger.With(log.User(name))

	if acct, err := m.lookup(name); err == nil {
		logger.Info("User already exists", log.Str("home", acct.Home))
		return acct, true, nil
	}

	args := []string{"-m", "-r", "-U"}
	if opts.Shell != "" {
		args = append(args, "-s", opts.Shell)
	}
	if opts.HomePrefix != "" {
		args = append(args, "-d", filepath.Join(opts.HomePrefix, name))
	}
	args = append(args, name)

	if _, err := m.exec.Output(ctx, process.NewCommand("useradd", args...)); err != nil {
		if types.ExitCode(err) != useraddExitUserExists {
			return nil, false, &types.UserCreationError{User: name, Err: err}
		}
		logger.Info("User already exists")
		existed = true
	} else {
		logger.Info("Created user")
	}

	acct, err = m.lookup(name)
	if err != nil {
		return nil, false, &types.UserCreationError{User: name, Err: err}
	}
	return acct, existed, nil
}

// RemoveUser deletes the account and its home directory. A missing account
// is not an error.
func (m *Manager) RemoveUser(ctx context.Context, name string) error {
	_, err := m.exec.Output(ctx, process.NewCommand("userdel", "-r", "-f", name))
	if err == nil {
		m.logger.Info("Removed user", log.User(name))
		return nil
	}
	if types.ExitCode(err) == userdelExitNoSuchUser {
		m.logger.Debug("User does not exist", log.User(name))
		return nil
	}
	return fmt.Errorf("failed to remove user %s: %w", name, err)
}

// IsUnknownUser reports whether err says an account does not exist.
func IsUnknownUser(err error) bool {
	var unknown user.UnknownUserError
	return errors.As(err, &unknown)
}
