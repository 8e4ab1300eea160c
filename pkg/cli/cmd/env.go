package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bcpc-build/bcpc-build/pkg/allocator"
	"github.com/bcpc-build/bcpc-build/pkg/identity"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/runner/process"
	"github.com/bcpc-build/bcpc-build/pkg/store"
	"github.com/bcpc-build/bcpc-build/pkg/store/repos"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// engine is everything a command needs to act on build units.
type engine struct {
	opts   *rootOptions
	store  store.Store
	repo   *repos.BuildUnitRepo
	runner process.Runner
	ids    *identity.Manager
}

// openEngine opens the configured store. Callers must Close the engine.
func (o *rootOptions) openEngine(ctx context.Context) (*engine, error) {
	st, err := store.New(o.cfg.Store.Driver, o.logger)
	if err != nil {
		return nil, err
	}
	path := o.cfg.StorePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := st.Open(path); err != nil {
		return nil, fmt.Errorf("failed to open %s store at %s: %w", o.cfg.Store.Driver, path, err)
	}

	runner := process.NewProcessRunner(process.WithLogger(o.logger))
	return &engine{
		opts:   o,
		store:  st,
		repo:   repos.NewBuildUnitRepo(st),
		runner: runner,
		ids:    identity.NewManager(runner, o.logger),
	}, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}

// allocator returns an allocator for strategy, or the configured default
// strategy when empty.
func (e *engine) allocator(strategy string) (*allocator.Allocator, error) {
	if strategy == "" {
		strategy = e.opts.cfg.DefaultStrategy
	}
	return allocator.New(strategy, e.repo, e.runner, e.ids, e.opts.cfg.Allocator(), e.opts.logger)
}

// findUnit resolves a unit id or name.
func (e *engine) findUnit(ctx context.Context, token string) (*types.BuildUnit, error) {
	unit, err := e.repo.FindByIDOrName(ctx, token)
	if err != nil {
		return nil, err
	}
	e.opts.logger.Debug("Resolved build unit", log.Unit(unit.Name), log.Str("id", unit.ID))
	return unit, nil
}
