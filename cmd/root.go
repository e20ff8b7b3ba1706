// Package cmd defines and implements the CLI commands for the tbprogress
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/JakeFAU/tbprogress/internal/app"
	"github.com/JakeFAU/tbprogress/internal/config"
	"github.com/JakeFAU/tbprogress/internal/handle"
	"github.com/JakeFAU/tbprogress/internal/logging"
	"github.com/JakeFAU/tbprogress/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

// counts prints human-facing totals with digit grouping.
var counts = message.NewPrinter(language.English)

// skipAppAnnotation marks commands that run without building the App.
const skipAppAnnotation = "tbprogress/skip-app"

// App is the surface commands use. Tests may inject their own factory.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Handles() *handle.Registry
	Repository() store.ScalarRepository
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// AppFactory builds an App from loaded configuration.
type AppFactory func(ctx context.Context, cfg config.Config) (App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates the root command. newApp builds the App for every
// subcommand not annotated with skipAppAnnotation.
func newRootCmd(newApp AppFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:     "tbprogress",
		Version: Version,
		Short:   "Write and browse TensorBoard training progress logs.",
		Long: `tbprogress records training progress as TensorBoard event files.
It runs a sample training loop, writes ad-hoc scalars, inspects event
files and serves the recorded runs over HTTP or as MCP tools.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, skip := cmd.Annotations[skipAppAnnotation]; skip {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return nil
			}
			return appInstance.Close(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./config.yaml, /etc/tbprogress and $HOME/.tbprogress)")

	cmd.AddCommand(newTrainCmd())
	cmd.AddCommand(newWriteCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	logger := logging.FromEnv()
	root := newRootCmd(defaultAppFactory)
	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Error("command execution failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
