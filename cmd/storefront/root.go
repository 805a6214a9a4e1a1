package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"finitefield.org/hanko-storefront/internal/di"
	"finitefield.org/hanko-storefront/internal/platform/config"
	"finitefield.org/hanko-storefront/internal/platform/observability"
)

var validFormats = []string{"text", "json", "yaml"}

type rootOptions struct {
	Format  string
	EnvFile string
	Locale  string

	tag language.Tag
}

// runtimeDeps lets tests replace configuration and container wiring.
type runtimeDeps struct {
	configOptions    []config.Option
	containerOptions []di.Option
	logger           *zap.Logger
}

// app is the per-invocation runtime: configuration, logger and the restored container.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	container *di.Container
	out       *printer
}

func newRootCommand(deps runtimeDeps) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront cart and session client",
		Long:          "Signs in to the storefront API and keeps the device cart reconciled with the server cart.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.Format = strings.ToLower(strings.TrimSpace(opts.Format))
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			tag, err := language.Parse(opts.Locale)
			if err != nil {
				return fmt.Errorf("invalid locale %q: %w", opts.Locale, err)
			}
			opts.tag = tag
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with configuration overrides")
	cmd.PersistentFlags().StringVar(&opts.Locale, "locale", "en-US", "locale used to format amounts")

	cmd.AddCommand(newLoginCommand(opts, deps))
	cmd.AddCommand(newRegisterCommand(opts, deps))
	cmd.AddCommand(newLogoutCommand(opts, deps))
	cmd.AddCommand(newWhoamiCommand(opts, deps))
	cmd.AddCommand(newRefreshCommand(opts, deps))
	cmd.AddCommand(newCartCommand(opts, deps))
	cmd.AddCommand(newServeCommand(opts, deps))

	return cmd
}

// openApp loads configuration, builds the container and restores the persisted session.
// The caller must call close.
func openApp(ctx context.Context, cmd *cobra.Command, opts *rootOptions, deps runtimeDeps) (*app, error) {
	cfgOpts := append([]config.Option{config.WithEnvFile(opts.EnvFile)}, deps.configOptions...)
	cfg, err := config.Load(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := deps.logger
	if logger == nil {
		logger, err = observability.NewLogger(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("initialise logger: %w", err)
		}
	}
	logger = logger.Named("storefront")

	containerOpts := append([]di.Option{di.WithLogger(logger)}, deps.containerOptions...)
	container, err := di.NewContainer(ctx, cfg, containerOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise storefront: %w", err)
	}
	container.Start(ctx)

	return &app{
		cfg:       cfg,
		logger:    logger,
		container: container,
		out:       newPrinter(cmd.OutOrStdout(), opts.Format, opts.tag, cfg.Cart.Currency),
	}, nil
}

func (a *app) close() {
	if err := a.container.Close(); err != nil {
		a.logger.Warn("storage close error", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp adapts a command body that needs the restored runtime.
func withApp(opts *rootOptions, deps runtimeDeps, run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx, cmd, opts, deps)
		if err != nil {
			return err
		}
		defer a.close()
		return run(observability.WithLogger(ctx, a.logger), a, args)
	}
}
