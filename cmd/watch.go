package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantfeed/flashcrawl/internal/clock/system"
	"github.com/quantfeed/flashcrawl/internal/dedup"
	"github.com/quantfeed/flashcrawl/internal/flash"
	"github.com/quantfeed/flashcrawl/internal/live"
)

// newWatchCmd creates the 'watch' subcommand, which captures flash items
// from the rendered site in real time until interrupted.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Captures live flash items from the site",
		Long: `Opens a headless browser session on the live flash stream and persists
every new headline as it appears. Runs until interrupted.`,

		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Config

	clock := system.Clock{}
	collector := live.NewCollector(
		newSink(a.Store, cfg, a.Logger),
		dedup.NewTTLCache(cfg.LiveTTL(), clock),
		flash.NewIgnoreFilter(cfg.Filter.Keywords),
		clock,
		a.Logger,
	)

	observer := live.NewObserver(live.ObserverConfig{
		URL:               cfg.Live.URL,
		UserAgent:         cfg.Upstream.UserAgent,
		ImportantOnly:     cfg.Live.ImportantOnly,
		NavigationTimeout: cfg.Live.NavTimeout(),
		BufferSize:        cfg.Live.BufferSize,
	}, collector, a.Logger)

	if err := observer.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch: %w", err)
	}
	a.Logger.Info("watch command finished")
	return nil
}
