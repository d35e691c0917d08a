// Package live captures flash text from the rendered site in real time and
// funnels it through the same normalize/filter/persist path as the backfill.
package live

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantfeed/flashcrawl/internal/flash"
	"github.com/quantfeed/flashcrawl/internal/metrics"
)

// Persister persists one normalized text idempotently.
type Persister interface {
	Persist(ctx context.Context, text string, capturedAt time.Time) (flash.Outcome, error)
}

// Admitter decides whether a text recently seen should reach storage again.
type Admitter interface {
	Admit(text string) bool
}

// Collector processes raw text payloads delivered by the page observer. A
// persist failure is logged and dropped; the capture session must outlive
// any single storage hiccup.
type Collector struct {
	sink   Persister
	cache  Admitter
	filter *flash.IgnoreFilter
	clock  flash.Clock
	logger *zap.Logger
}

// NewCollector builds a live collector.
func NewCollector(sink Persister, cache Admitter, filter *flash.IgnoreFilter, clock flash.Clock, logger *zap.Logger) *Collector {
	return &Collector{
		sink:   sink,
		cache:  cache,
		filter: filter,
		clock:  clock,
		logger: logger,
	}
}

// HandleText runs one raw payload through the pipeline. The capture instant
// is taken at delivery time; the page does not carry a usable timestamp.
func (c *Collector) HandleText(ctx context.Context, raw string) {
	text := flash.Normalize(raw)
	if text == "" {
		metrics.SkippedTotal.WithLabelValues("empty").Inc()
		return
	}
	if c.filter.ShouldIgnore(text) {
		metrics.SkippedTotal.WithLabelValues("filtered").Inc()
		c.logger.Debug("text filtered", zap.String("text", text))
		return
	}
	if !c.cache.Admit(text) {
		metrics.SkippedTotal.WithLabelValues("recently_seen").Inc()
		c.logger.Debug("text suppressed by ttl cache", zap.String("text", text))
		return
	}

	outcome, err := c.sink.Persist(ctx, text, c.clock.Now())
	if err != nil {
		metrics.EntriesTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("live persist failed", zap.String("text", text), zap.Error(err))
		return
	}
	c.logger.Info("flash captured",
		zap.String("text", text),
		zap.String("outcome", outcome.String()),
	)
}
