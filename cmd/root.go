// Package cmd defines and implements the CLI commands for the flashcrawl
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantfeed/flashcrawl/internal/app"
	"github.com/quantfeed/flashcrawl/internal/config"
)

var cfgFile string

// appKeyType keys the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory, a variable so tests can swap in a mock.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command. Services are built in
// PersistentPreRunE so every subcommand receives a fully initialized App
// through its context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flashcrawl",
		Short: "Ingests market flash headlines into Postgres",
		Long: `flashcrawl captures flash headlines from the jin10 live stream and its
history API, normalizes and filters them, and stores each distinct headline
exactly once per day.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; env and defaults apply otherwise)")

	cmd.AddCommand(newBackfillCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context so
// in-flight runs finish their current item and report a summary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
