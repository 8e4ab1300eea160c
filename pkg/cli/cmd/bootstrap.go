package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bcpc-build/bcpc-build/pkg/allocator"
	"github.com/bcpc-build/bcpc-build/pkg/cli/format"
	"github.com/bcpc-build/bcpc-build/pkg/cli/utils"
	"github.com/bcpc-build/bcpc-build/pkg/configfile"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// defaultSection holds keys that apply to the whole bootstrap file.
const defaultSection = "DEFAULT"

type bootstrapOptions struct {
	configFile  string
	sourceURL   string
	depends     []string
	strategy    string
	description string
	configure   bool
	build       bool
	quiet       bool

	httpProxy  string
	httpsProxy string
}

func newBootstrapCmd(root *rootOptions) *cobra.Command {
	opts := &bootstrapOptions{}

	cmd := &cobra.Command{
		Use:   "bootstrap [name]",
		Short: "Bootstrap a new build",
		Long: `Allocate a build unit, populate it from version control, configure it and
run the build, streaming its output to the console and the unit's build log.

An allocation or provisioning failure rolls the unit back. A build failure
leaves the sandbox in place for inspection.`,
		Example: `  # Bootstrap with the default strategy and a generated name
  bcpc-build bootstrap

  # Bootstrap a branch of chef-bcpc with a local leafy-spines fork
  bcpc-build bootstrap --source-url https://github.com/bloomberg/chef-bcpc/tree/my-branch \
    --depends leafy-spines=https://github.com/me/leafy-spines

  # Provision only
  bcpc-build bootstrap --build=false bcpc-scratch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile != "" {
				cf, err := configfile.Load(opts.configFile, configfile.WithLogger(root.logger))
				if err != nil {
					return err
				}
				if err := opts.applyFile(cf.Contents(), cmd.Flags().Changed); err != nil {
					return fmt.Errorf("%s: %w", opts.configFile, err)
				}
			}
			if opts.httpProxy != "" {
				root.cfg.Proxy.HTTP = opts.httpProxy
			}
			if opts.httpsProxy != "" {
				root.cfg.Proxy.HTTPS = opts.httpsProxy
			}

			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return runBootstrap(cmd.Context(), root, opts, name, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config-file", "c", "", "Bootstrap settings file (json, toml or yaml)")
	cmd.Flags().StringVar(&opts.sourceURL, "source-url", "", "URL of the build sources, optionally ending in /tree/<ref>")
	cmd.Flags().StringArrayVar(&opts.depends, "depends", nil, "Source dependency as <name>=<url> (repeatable)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", fmt.Sprintf("Build strategy %v (default from config)", allocator.StrategyNames()))
	cmd.Flags().StringVarP(&opts.description, "description", "d", "", "Description of the build unit")
	cmd.Flags().BoolVar(&opts.configure, "configure", true, "Run the configuration phase")
	cmd.Flags().BoolVar(&opts.build, "build", true, "Run the build phase")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not echo build output")
	return cmd
}

// applyFile fills options from a bootstrap settings file. Keys of a DEFAULT
// section are merged into the top level first. Flags given on the command
// line win over the file.
func (o *bootstrapOptions) applyFile(contents any, changed func(string) bool) error {
	root, ok := contents.(map[string]any)
	if !ok {
		return errors.New("bootstrap settings must be a mapping")
	}
	settings := make(map[string]any, len(root))
	if def, ok := root[defaultSection].(map[string]any); ok {
		for k, v := range def {
			settings[k] = v
		}
	}
	for k, v := range root {
		if k != defaultSection {
			settings[k] = v
		}
	}

	strs := map[string]*string{
		"source-url":      &o.sourceURL,
		"strategy":        &o.strategy,
		"description":     &o.description,
		"http-proxy-url":  &o.httpProxy,
		"https-proxy-url": &o.httpsProxy,
	}
	bools := map[string]*bool{
		"configure": &o.configure,
		"build":     &o.build,
	}

	for key, raw := range settings {
		flag := normalizeKey(key)
		if changed(flag) {
			continue
		}
		switch {
		case strs[flag] != nil:
			*strs[flag] = fmt.Sprint(raw)
		case bools[flag] != nil:
			b, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*bools[flag] = b
		case flag == "depends":
			deps, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("%s: expected a mapping of name to url", key)
			}
			for name, u := range deps {
				o.depends = append(o.depends, name+"="+fmt.Sprint(u))
			}
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
	}
	return nil
}

func normalizeKey(key string) string {
	out := []byte(key)
	for i, c := range out {
		if c == '_' {
			out[i] = '-'
		}
	}
	return string(out)
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	case int:
		return b != 0, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func runBootstrap(ctx context.Context, root *rootOptions, opts *bootstrapOptions, name string, out, errOut io.Writer) (err error) {
	deps, err := utils.ParsePairs(opts.depends)
	if err != nil {
		return err
	}

	eng, err := root.openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	alloc, err := eng.allocator(opts.strategy)
	if err != nil {
		return err
	}
	if err := alloc.Setup(ctx); err != nil {
		return err
	}

	unit, err := alloc.Allocate(ctx, allocator.AllocateRequest{
		Name:        name,
		SourceURL:   opts.sourceURL,
		Description: opts.description,
	})
	if err != nil {
		return err
	}
	logger := root.logger.With(log.Unit(unit.Name))

	defer func() {
		if err != nil {
			recoverBootstrap(context.WithoutCancel(ctx), alloc, unit, err, errOut, logger)
		}
	}()

	if err := alloc.Provision(ctx, unit, allocator.ProvisionOptions{
		Configure:    opts.configure,
		Dependencies: deps,
	}); err != nil {
		return err
	}
	if err := format.Write(out, format.OutputJSON, unit); err != nil {
		return err
	}
	if !opts.build {
		return nil
	}

	if err := buildUnit(ctx, alloc, unit, opts.quiet, out, errOut); err != nil {
		return err
	}
	fmt.Fprintln(out, format.Success("Bootstrap complete."))
	return nil
}

// recoverBootstrap rolls back a unit whose allocation or provisioning
// failed and marks it failed for any error other than a build failure.
func recoverBootstrap(ctx context.Context, alloc *allocator.Allocator, unit *types.BuildUnit, err error, errOut io.Writer, logger log.Logger) {
	var (
		ae *types.AllocationError
		pe *types.ProvisionError
		ce *types.ConfigurationError
		be *types.BuildError
	)
	switch {
	case errors.As(err, &ae), errors.As(err, &pe), errors.As(err, &ce):
		fmt.Fprintln(errOut, format.Warning("Rolling back changes..."))
		if derr := alloc.Destroy(ctx, unit, true); derr != nil {
			logger.Error("Rollback failed", log.Err(derr))
		}
	case errors.As(err, &be):
		// the sandbox stays for inspection, failed:build is already recorded
	default:
		if serr := alloc.SetState(ctx, unit, types.StateFailed); serr != nil {
			logger.Error("Could not mark unit failed", log.Err(serr))
		}
	}
}

// buildUnit runs the build and drains it into the unit's build log, echoing
// to out unless quiet. A build log that could not be fully written is
// reported but does not fail a successful build.
func buildUnit(ctx context.Context, alloc *allocator.Allocator, unit *types.BuildUnit, quiet bool, out, errOut io.Writer) error {
	var echo io.Writer
	if !quiet {
		echo = out
	}
	path := alloc.BuildLogPath(unit)
	sink, err := allocator.NewBuildLog(path, echo)
	if err != nil {
		return err
	}
	defer sink.Close()
	fmt.Fprintln(errOut, format.Label("Build log", path))

	stream, err := alloc.Build(ctx, unit)
	if err != nil {
		return err
	}
	defer stream.Close()

	derr := allocator.Drain(stream, sink)
	if err := stream.Err(); err != nil {
		return err
	}
	if derr != nil {
		fmt.Fprintln(errOut, format.Warning("Build log is incomplete: %v", derr))
	}
	return nil
}
