package allocator

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/runner/process"
	"github.com/bcpc-build/bcpc-build/pkg/types"
	"github.com/bcpc-build/bcpc-build/pkg/utils"
)

// treeSegment marks a ref in a browse URL: <repo>/tree/<ref>.
const treeSegment = "/tree/"

// ProvisionOptions controls Provision.
type ProvisionOptions struct {
	// Configure runs the configure phase after populating.
	Configure bool
	// Dependencies are added to, or override, the strategy's dependencies.
	Dependencies map[string]string
}

// Source is one checkout in a build directory.
type Source struct {
	// Dest is the checkout directory, relative to the build directory.
	Dest string
	URL  string
}

// Provision populates the unit's build directory and, if asked, configures
// it. Populate failures leave the unit failed:provision and return a
// *types.ProvisionError; configure failures return a
// *types.ConfigurationError.
func (a *Allocator) Provision(ctx context.Context, unit *types.BuildUnit, opts ProvisionOptions) error {
	if err := a.SetState(ctx, unit, types.StateProvisioning); err != nil {
		return err
	}

	if err := a.Populate(ctx, unit, opts.Dependencies); err != nil {
		if serr := a.SetState(ctx, unit, types.StateFailedProvision); serr != nil {
			a.logger.Error("Could not record provisioning failure", log.Unit(unit.Name), log.Err(serr))
		}
		return &types.ProvisionError{Unit: unit.Name, Err: err}
	}
	if err := a.SetState(ctx, unit, types.StateProvisioned); err != nil {
		return err
	}

	if opts.Configure {
		return a.Configure(ctx, unit)
	}
	return nil
}

// Sources lists what Populate clones for unit: the dependencies sorted by
// name, then the primary source, which is always checked out under the
// strategy's primary component directory whatever its URL is called. A
// dependency with that name is ignored.
func (a *Allocator) Sources(unit *types.BuildUnit, extra map[string]string) []Source {
	deps := make(map[string]string, len(a.strategy.Dependencies)+len(extra))
	for name, u := range a.strategy.Dependencies {
		deps[name] = u
	}
	for name, u := range extra {
		deps[name] = u
	}
	delete(deps, a.strategy.PrimaryComponent)

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	sources := make([]Source, 0, len(names)+1)
	for _, name := range names {
		sources = append(sources, Source{Dest: name, URL: deps[name]})
	}
	return append(sources, Source{Dest: a.strategy.PrimaryComponent, URL: unit.SourceURL})
}

// Populate clones every source into the build directory as the build user.
// Sources whose checkout already exists are skipped.
func (a *Allocator) Populate(ctx context.Context, unit *types.BuildUnit, extra map[string]string) error {
	sources := a.Sources(unit, extra)
	logger := a.logger.With(log.Unit(unit.Name))

	for _, src := range sources {
		if utils.PathExists(filepath.Join(unit.BuildDir, src.Dest, ".git")) {
			logger.Info("Source already cloned, skipping", log.Str("dest", src.Dest))
			continue
		}

		cmds, err := CloneCommands(unit.BuildDir, src)
		if err != nil {
			return err
		}
		logger.Info("Cloning source", log.Str("dest", src.Dest), log.Str("url", src.URL))
		for _, cmd := range cmds {
			if _, err := a.runner.Output(ctx, cmd.AsUser(unit.BuildUser)); err != nil {
				return fmt.Errorf("%s: %w", cmd, err)
			}
		}
	}
	return nil
}

// CloneCommands returns the git invocations that check src out under
// buildDir. A /tree/<ref> suffix on the URL is cloned without checkout and
// then fetched and checked out separately.
func CloneCommands(buildDir string, src Source) ([]process.Command, error) {
	cloneURL, ref, err := SplitTreeRef(src.URL)
	if err != nil {
		return nil, err
	}

	if ref == "" {
		return []process.Command{
			process.NewCommand("git", "-C", buildDir, "clone", cloneURL, src.Dest),
		}, nil
	}
	checkout := filepath.Join(buildDir, src.Dest)
	return []process.Command{
		process.NewCommand("git", "-C", buildDir, "clone", "--no-checkout", cloneURL, src.Dest),
		process.NewCommand("git", "-C", checkout, "fetch", "origin", ref),
		process.NewCommand("git", "-C", checkout, "checkout", "FETCH_HEAD"),
	}, nil
}

// SplitTreeRef strips a /tree/<ref> path suffix from rawURL, returning the
// clone URL and the ref.
func SplitTreeRef(rawURL string) (cloneURL, ref string, err error) {
	if !strings.Contains(rawURL, "://") {
		// scp-like user@host:path and local paths carry no ref
		return rawURL, "", nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid source url %q: %w", rawURL, err)
	}
	p := u.Path
	i := strings.Index(p, treeSegment)
	if i < 0 {
		return rawURL, "", nil
	}
	ref = p[i+len(treeSegment):]
	if ref == "" {
		return "", "", fmt.Errorf("source url %q has an empty ref", rawURL)
	}
	u.Path = p[:i]
	u.RawPath = ""
	return u.String(), ref, nil
}
