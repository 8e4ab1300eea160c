// Package allocator drives a build unit through its lifecycle: it allocates
// the sandbox account and directory, populates it from version control,
// renders its configuration, runs the build and tears the sandbox down.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bcpc-build/bcpc-build/pkg/identity"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/runner/process"
	"github.com/bcpc-build/bcpc-build/pkg/store/repos"
	"github.com/bcpc-build/bcpc-build/pkg/types"
	"github.com/bcpc-build/bcpc-build/pkg/utils"
)

const (
	// UserTag prefixes generated build account names.
	UserTag = "bcpc-"
	// BuildDirMode is the mode of the build home and of build directories.
	BuildDirMode = os.ModeSetgid | 0755

	userSuffixLen   = 8
	maxNameAttempts = 16
)

// Config holds the host settings the allocator works with.
type Config struct {
	// BuildHome is where build directories are created.
	BuildHome string
	// CertsDir holds certificates installed into every build.
	CertsDir string
	// LogDir holds per-unit build logs.
	LogDir     string
	HTTPProxy  string
	HTTPSProxy string
	// UserShell is the login shell of build accounts.
	UserShell   string
	KillTimeout time.Duration
}

// DefaultConfig returns the stock host settings.
func DefaultConfig() Config {
	return Config{
		BuildHome:   "/build",
		CertsDir:    "/var/tmp/bcpc-cacerts",
		LogDir:      "/var/log/bcpc-build",
		UserShell:   "/bin/bash",
		KillTimeout: identity.DefaultKillTimeout,
	}
}

// AllocateRequest describes a new build unit.
type AllocateRequest struct {
	// Name of the unit and its account; generated when empty.
	Name        string
	SourceURL   string
	Description string
}

// Allocator runs the lifecycle of build units for one strategy.
type Allocator struct {
	strategy StrategyPolicy
	repo     *repos.BuildUnitRepo
	runner   process.Runner
	ids      *identity.Manager
	config   Config
	logger   log.Logger
}

// New creates an Allocator for the named strategy. An unknown strategy is
// rejected before anything else happens.
func New(strategy string, repo *repos.BuildUnitRepo, runner process.Runner, ids *identity.Manager, config Config, logger log.Logger) (*Allocator, error) {
	policy, err := LookupStrategy(strategy)
	if err != nil {
		return nil, err
	}
	return &Allocator{
		strategy: policy,
		repo:     repo,
		runner:   runner,
		ids:      ids,
		config:   config,
		logger:   log.OrDefault(logger).WithComponent("allocator").With(log.Str("strategy", policy.Name)),
	}, nil
}

// Strategy returns the allocator's strategy.
func (a *Allocator) Strategy() StrategyPolicy {
	return a.strategy
}

// Setup creates the build home if it is missing.
func (a *Allocator) Setup(ctx context.Context) error {
	created, err := utils.EnsureDir(a.config.BuildHome, BuildDirMode)
	if err != nil {
		return err
	}
	if created {
		a.logger.Info("Created build home", log.Str("path", a.config.BuildHome))
	}
	return nil
}

// Allocate creates the account and directory of a new unit and persists it
// with no state. A name that is already taken fails before any side effect.
func (a *Allocator) Allocate(ctx context.Context, req AllocateRequest) (*types.BuildUnit, error) {
	if req.Name != "" {
		if err := utils.ValidateAccountName(req.Name); err != nil {
			return nil, &types.AllocationError{Name: req.Name, Err: types.NewValidationError(err.Error())}
		}
		exists, err := a.repo.Exists(ctx, req.Name)
		if err != nil {
			return nil, &types.AllocationError{Name: req.Name, Err: err}
		}
		if exists {
			return nil, &types.AllocationError{Name: req.Name, Err: &types.DuplicateNameError{Name: req.Name}}
		}
	}

	acct, existed, err := a.AllocateBuildUser(ctx, req.Name)
	if err != nil {
		return nil, &types.AllocationError{Name: req.Name, Err: err}
	}
	logger := a.logger.With(log.User(acct.Name))

	dir, err := a.AllocateBuildDir(acct, existed)
	if err != nil {
		a.discardUser(ctx, acct.Name, existed)
		return nil, &types.AllocationError{Name: acct.Name, Err: err}
	}

	unit := &types.BuildUnit{
		Name:        acct.Name,
		BuildUser:   acct.Name,
		BuildDir:    dir,
		SourceURL:   utils.PickFirstNonEmpty(req.SourceURL, a.strategy.DefaultSourceURL),
		Description: req.Description,
	}
	if err := a.repo.Create(ctx, unit); err != nil {
		a.discardUser(ctx, acct.Name, existed)
		return nil, &types.AllocationError{Name: acct.Name, Err: err}
	}

	logger.Info("Allocated build unit", log.Unit(unit.Name), log.Str("id", unit.ID), log.Str("build_dir", dir))
	return unit, nil
}

// AllocateBuildUser ensures the build account exists, generating a name
// when none is given. existed reports whether the account was already there.
func (a *Allocator) AllocateBuildUser(ctx context.Context, name string) (acct *identity.Account, existed bool, err error) {
	if name == "" {
		name, err = a.generateUserName(ctx)
		if err != nil {
			return nil, false, err
		}
	}
	return a.ids.CreateUser(ctx, name, identity.CreateOptions{
		Shell:      a.config.UserShell,
		HomePrefix: a.config.BuildHome,
	})
}

// AllocateBuildDir returns the account's home if the account pre-existed,
// otherwise <build home>/<user>, creating it if missing.
func (a *Allocator) AllocateBuildDir(acct *identity.Account, existed bool) (string, error) {
	dir := filepath.Join(a.config.BuildHome, acct.Name)
	if existed && acct.Home != "" {
		dir = acct.Home
	}

	created, err := utils.EnsureDir(dir, BuildDirMode)
	if err != nil {
		return "", err
	}
	if created {
		if err := os.Lchown(dir, acct.UID, acct.GID); err != nil {
			return "", fmt.Errorf("failed to chown %s: %w", dir, err)
		}
	}
	return dir, nil
}

func (a *Allocator) generateUserName(ctx context.Context) (string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := UserTag + utils.RandomHex(userSuffixLen)
		if a.ids.UserExists(name) {
			continue
		}
		taken, err := a.repo.Exists(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
	return "", errors.New("could not find a free build user name")
}

// discardUser removes an account created by a failed allocation. Accounts
// that existed before are never removed.
func (a *Allocator) discardUser(ctx context.Context, name string, existed bool) {
	if existed {
		return
	}
	if err := a.ids.RemoveUser(ctx, name); err != nil {
		a.logger.Warn("Could not remove build user", log.User(name), log.Err(err))
	}
}

// SetState persists a new state for unit.
func (a *Allocator) SetState(ctx context.Context, unit *types.BuildUnit, state types.BuildState) error {
	if err := a.repo.SetState(ctx, unit, state); err != nil {
		return err
	}
	a.logger.Debug("Build state changed", log.Unit(unit.Name), log.Str("state", state.String()))
	return nil
}

// Destroy kills the unit's processes, removes its account and then either
// deletes the record (commit) or marks it failed. A failed account removal
// returns before the record is touched.
func (a *Allocator) Destroy(ctx context.Context, unit *types.BuildUnit, commit bool) error {
	logger := a.logger.With(log.Unit(unit.Name), log.User(unit.BuildUser))

	alive, err := a.ids.KillUserProcesses(ctx, unit.BuildUser, a.config.KillTimeout)
	if err != nil {
		logger.Warn("Could not terminate build processes", log.Err(err))
	} else if len(alive) > 0 {
		logger.Warn("Build processes survived termination", log.Int("count", len(alive)))
	}

	if err := a.ids.RemoveUser(ctx, unit.BuildUser); err != nil {
		return err
	}

	if !commit {
		return a.SetState(ctx, unit, types.StateFailed)
	}
	if err := a.repo.Delete(ctx, unit.ID); err != nil && !types.IsNotFound(err) {
		return err
	}
	logger.Info("Destroyed build unit")
	return nil
}
