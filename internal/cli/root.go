// Package cli implements the consolidate command line.
package cli

import (
	"context"
	"fmt"

	"github.com/agenthands/canon/internal/bootstrap"
	"github.com/agenthands/canon/internal/config"
	"github.com/agenthands/canon/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json" | "yaml"
	Verbose    bool
}

var ValidFormats = []string{"text", "json", "yaml"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Consolidate per-day event records into multi-day master events",
		Long: `Groups canonical events of each country by similarity and time, asks the advisory
oracle to confirm, rename or split each group, and rewrites the master hierarchy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config/config.toml", "config file (defaults are used when missing)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCountriesCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// env is what every command needs: config, logger and an open store.
type env struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  store.Store
}

func (o *RootOptions) open(ctx context.Context) (*env, error) {
	cfg, err := bootstrap.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	s, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return &env{cfg: cfg, logger: logger, store: s}, nil
}

func (e *env) close(ctx context.Context) {
	if err := e.store.Close(ctx); err != nil {
		e.logger.WithError(err).Warn("failed to close store")
	}
}
