package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfeed/flashcrawl/internal/backfill"
	"github.com/quantfeed/flashcrawl/internal/clock/system"
	"github.com/quantfeed/flashcrawl/internal/config"
	"github.com/quantfeed/flashcrawl/internal/dedup"
	"github.com/quantfeed/flashcrawl/internal/flash"
	"github.com/quantfeed/flashcrawl/internal/retry"
)

// newBackfillCmd creates the 'backfill' subcommand, which imports historical
// flash items by paging the upstream history API backward in time.
func newBackfillCmd() *cobra.Command {
	var maxTime, minTime string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Imports historical flash items",
		Long: `Pages the upstream history API backward from --max-time (default: now)
until the upstream is exhausted, --min-time is reached, or the page limit
runs out. Items already stored are skipped by the daily uniqueness
constraint, so overlapping runs are safe.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBackfill(cmd, maxTime, minTime)
		},
	}

	cmd.Flags().StringVar(&maxTime, "max-time", "", `start boundary, "2006-01-02 15:04:05" (default: now)`)
	cmd.Flags().StringVar(&minTime, "min-time", "", "stop once the cursor reaches this boundary")
	return cmd
}

func runBackfill(cmd *cobra.Command, maxTime, minTime string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Config

	engineCfg := backfill.EngineConfig{
		MaxPages: cfg.Backfill.MaxPages,
		Pause:    cfg.BackfillPause(),
	}
	if maxTime != "" {
		b, err := flash.ParseBoundary(maxTime)
		if err != nil {
			return fmt.Errorf("parse --max-time: %w", err)
		}
		engineCfg.Start = b
	}
	if minTime != "" {
		b, err := flash.ParseBoundary(minTime)
		if err != nil {
			return fmt.Errorf("parse --min-time: %w", err)
		}
		engineCfg.Floor = &b
	}

	engine := backfill.NewEngine(
		backfill.NewClient(upstreamClientConfig(cfg)),
		newSink(a.Store, cfg, a.Logger),
		flash.NewIgnoreFilter(cfg.Filter.Keywords),
		networkPolicy(cfg),
		engineCfg,
		system.Clock{},
		a.Logger,
	)

	counters, err := engine.Run(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("backfill: %w", err)
	}
	a.Logger.Info("backfill command finished",
		zap.Int("inserted", counters.Inserted),
		zap.Int("duplicates", counters.Duplicates),
	)
	return nil
}

func upstreamClientConfig(cfg config.Config) backfill.ClientConfig {
	return backfill.ClientConfig{
		BaseURL:   cfg.Upstream.BaseURL,
		Channel:   cfg.Upstream.Channel,
		VIP:       cfg.Upstream.VIP,
		AppID:     cfg.Upstream.AppID,
		Version:   cfg.Upstream.Version,
		UserAgent: cfg.Upstream.UserAgent,
		Cookie:    cfg.Upstream.Cookie,
		Timeout:   cfg.UpstreamTimeout(),
	}
}

func networkPolicy(cfg config.Config) retry.Policy {
	base, maxDelay := cfg.Network.Delays()
	return retry.Policy{
		MaxAttempts: cfg.Network.MaxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      cfg.Network.Jitter,
	}
}

func newSink(st dedup.Store, cfg config.Config, logger *zap.Logger) *dedup.Sink {
	base, maxDelay := cfg.Storage.Retry.Delays()
	policy := retry.Policy{
		MaxAttempts: cfg.Storage.Retry.MaxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      cfg.Storage.Retry.Jitter,
	}
	return dedup.NewSink(st, policy, cfg.Storage.Source, logger)
}
