package identity

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// ErrNestedImpersonation is returned when WithImpersonation is entered while
// another impersonation scope is active anywhere in the process.
var ErrNestedImpersonation = errors.New("impersonation scopes cannot be nested")

var impersonating atomic.Bool

type impersonateConfig struct {
	chdir bool
}

// ImpersonateOption configures WithImpersonation.
type ImpersonateOption func(*impersonateConfig)

// WithoutChdir keeps the working directory and HOME unchanged.
func WithoutChdir() ImpersonateOption {
	return func(c *impersonateConfig) {
		c.chdir = false
	}
}

// WithImpersonation runs fn with the effective uid and gid of the named
// account, with the working directory and HOME set to its home. The
// original ids, directory and HOME are restored when fn returns or panics.
//
// The switch is process-wide: on Linux the id changes apply to every thread,
// so all goroutines run with the account's effective ids while fn runs, and
// only one scope may be active at a time. If restoring fails the whole
// process keeps the account's ids and a *types.UserContextSwitchError for
// the "restore" step is returned.
func (m *Manager) WithImpersonation(name string, fn func(*Account) error, opts ...ImpersonateOption) (err error) {
	cfg := impersonateConfig{chdir: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	acct, lerr := m.lookup(name)
	if lerr != nil {
		return &types.ImpersonationError{User: name, Err: lerr}
	}

	if !impersonating.CompareAndSwap(false, true) {
		return ErrNestedImpersonation
	}
	defer impersonating.Store(false)

	prev, serr := saveUserContext(cfg.chdir)
	if serr != nil {
		return &types.UserContextSwitchError{User: name, Op: "save", Err: serr}
	}
	logger := m.logger.With(log.User(name))

	defer func() {
		if rerr := prev.restore(); rerr != nil {
			logger.Error("Failed to restore user context", log.Err(rerr))
			if err == nil {
				err = &types.UserContextSwitchError{User: name, Op: "restore", Err: rerr}
			}
			return
		}
		logger.Debug("Restored user context")
	}()

	if err := unix.Setresgid(-1, acct.GID, -1); err != nil {
		return &types.UserContextSwitchError{User: name, Op: "setegid", Err: err}
	}
	if err := unix.Setresuid(-1, acct.UID, -1); err != nil {
		return &types.UserContextSwitchError{User: name, Op: "seteuid", Err: err}
	}
	if cfg.chdir {
		if err := os.Chdir(acct.Home); err != nil {
			return &types.UserContextSwitchError{User: name, Op: "chdir", Err: err}
		}
		os.Setenv("HOME", acct.Home)
	}
	logger.Debug("Switched user context", log.Int("uid", acct.UID), log.Int("gid", acct.GID))

	return fn(acct)
}

type userContext struct {
	euid, egid int
	cwd        string
	home       string
	hasHome    bool
	chdir      bool
}

func saveUserContext(chdir bool) (*userContext, error) {
	c := &userContext{euid: unix.Geteuid(), egid: unix.Getegid(), chdir: chdir}
	if chdir {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		c.cwd = cwd
		c.home, c.hasHome = os.LookupEnv("HOME")
	}
	return c, nil
}

// restore puts back the uid before the gid, since changing the gid needs
// the original privileges.
func (c *userContext) restore() error {
	var errs []error
	if err := unix.Setresuid(-1, c.euid, -1); err != nil {
		errs = append(errs, fmt.Errorf("seteuid %d: %w", c.euid, err))
	}
	if err := unix.Setresgid(-1, c.egid, -1); err != nil {
		errs = append(errs, fmt.Errorf("setegid %d: %w", c.egid, err))
	}
	if c.chdir {
		if err := os.Chdir(c.cwd); err != nil {
			errs = append(errs, fmt.Errorf("chdir %s: %w", c.cwd, err))
		}
		if c.hasHome {
			os.Setenv("HOME", c.home)
		} else {
			os.Unsetenv("HOME")
		}
	}
	return errors.Join(errs...)
}
