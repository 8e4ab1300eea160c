package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcpc-build/bcpc-build/internal/config"
	"github.com/bcpc-build/bcpc-build/pkg/cli/format"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/version"
)

// rootOptions is shared by every subcommand. cfg and logger are set by the
// root's PersistentPreRunE.
type rootOptions struct {
	cfgFile  string
	verbose  bool
	logLevel string

	cfg    *config.Config
	logger log.Logger
}

// NewRootCmd builds the bcpc-build command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "bcpc-build",
		Short: "bcpc-build - build sandbox manager for chef-bcpc",
		Long: `bcpc-build allocates isolated build sandboxes (an OS account, a private
build directory, checked out sources and rendered configuration), runs the
chef-bcpc virtual cluster build in them and tears them down again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.bcpc-build/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newInitCmd(opts),
		newBootstrapCmd(opts),
		newUnitCmd(opts),
		newDBCmd(opts),
		newCredentialHelperCmd(),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := log.ApplyConfig(cfg.LogConfig(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	log.SetDefaultLogger(logger)

	o.cfg = cfg
	o.logger = logger
	logger.Debug("Loaded configuration", log.Str("data_dir", cfg.DataDir), log.Str("store", cfg.Store.Driver))
	return nil
}

// Execute runs the command tree until it finishes or the process is
// interrupted. This is called by main.main().
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, format.Error("Error: %v", err))
	}
	return err
}
