// Package cmd defines the leetdaily command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leetdaily/internal/config"
	"github.com/JakeFAU/leetdaily/internal/server"
	"github.com/JakeFAU/leetdaily/internal/solves"
)

// App is what the subcommands need from the built application.
type App interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (solves.Result, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "leetdaily",
		Short: "Collects the LeetCode problems a user solved each day.",
		Long: `leetdaily records the distinct LeetCode problems a user solved per day.
An external scheduler calls GET /fetch-now (or runs "leetdaily fetch"); each
run pulls recent accepted submissions, keeps those inside the configured
window and merges their titles into the day's entry.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfgFile)
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newServeCmd(&cfgFile), newFetchCmd(&cfgFile))
	return cmd
}

func buildFromFlags(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
