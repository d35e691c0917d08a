package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfeed/flashcrawl/internal/flash"
	"github.com/quantfeed/flashcrawl/internal/metrics"
	"github.com/quantfeed/flashcrawl/internal/retry"
)

// TerminationReason names why a backfill run ended.
type TerminationReason string

// Termination reasons reported in the run summary.
const (
	ReasonExhausted        TerminationReason = "exhausted"
	ReasonFloorReached     TerminationReason = "floor_reached"
	ReasonPageLimitReached TerminationReason = "page_limit_reached"
	ReasonFetchFailed      TerminationReason = "fetch_failed"
	ReasonCanceled         TerminationReason = "canceled"
)

// PageFetcher returns one page of items older than the boundary.
type PageFetcher interface {
	FetchPage(ctx context.Context, max flash.Boundary) ([]Item, error)
}

// Sink persists one normalized text idempotently.
type Sink interface {
	Persist(ctx context.Context, text string, capturedAt time.Time) (flash.Outcome, error)
}

// EngineConfig bounds a backfill run.
type EngineConfig struct {
	// Start is the initial exclusive upper bound; zero means "now".
	Start flash.Boundary
	// Floor, if set, terminates the run once the next boundary is at or
	// below it.
	Floor *flash.Boundary
	// MaxPages caps the number of page fetches per run.
	MaxPages int
	// Pause is the inter-request delay between pages.
	Pause time.Duration
}

// Engine walks the upstream history backward one page at a time: fetch page,
// filter/normalize/persist each item, compute the next cursor, evaluate
// termination. Runs are sequential; no two pages are ever in flight at once
// because each request depends on the previous page's cursor.
type Engine struct {
	fetcher PageFetcher
	sink    Sink
	filter  *flash.IgnoreFilter
	policy  retry.Policy
	cfg     EngineConfig
	clock   flash.Clock
	logger  *zap.Logger
}

// NewEngine builds a backfill engine.
func NewEngine(
	fetcher PageFetcher,
	sink Sink,
	filter *flash.IgnoreFilter,
	policy retry.Policy,
	cfg EngineConfig,
	clock flash.Clock,
	logger *zap.Logger,
) *Engine {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 2000
	}
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("network").Inc()
		logger.Warn("page fetch retry",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
	return &Engine{
		fetcher: fetcher,
		sink:    sink,
		filter:  filter,
		policy:  policy,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Run executes one backfill run to termination. Counters are always returned;
// the error is non-nil only when a page fetch failed fatally or the context
// was canceled. Persisted state stays intact either way, so a failed run is
// resumable from the last committed boundary.
func (e *Engine) Run(ctx context.Context) (flash.RunCounters, error) {
	runID := uuid.NewString()
	boundary := e.cfg.Start
	if boundary.IsZero() {
		boundary = flash.BoundaryAt(e.clock.Now())
	}

	logger := e.logger.With(zap.String("run_id", runID))
	logger.Info("backfill run starting",
		zap.String("max_time", boundary.String()),
		zap.String("min_time", floorString(e.cfg.Floor)),
		zap.Int("max_pages", e.cfg.MaxPages),
	)

	var counters flash.RunCounters
	reason := ReasonPageLimitReached
	var runErr error

	for pageNum := 1; pageNum <= e.cfg.MaxPages; pageNum++ {
		if ctx.Err() != nil {
			reason, runErr = ReasonCanceled, ctx.Err()
			break
		}

		items, err := e.fetchPage(ctx, boundary)
		if err != nil {
			if ctx.Err() != nil {
				reason, runErr = ReasonCanceled, ctx.Err()
				break
			}
			logger.Error("page fetch failed",
				zap.Int("page", pageNum),
				zap.String("max_time", boundary.String()),
				zap.Error(err),
			)
			reason, runErr = ReasonFetchFailed, fmt.Errorf("fetch page %d: %w", pageNum, err)
			break
		}
		metrics.PagesTotal.Inc()

		if len(items) == 0 {
			logger.Info("upstream exhausted", zap.Int("page", pageNum))
			reason = ReasonExhausted
			break
		}

		e.processPage(ctx, logger, items, &counters)

		candidate := e.nextBoundary(items, boundary)
		if e.cfg.Floor != nil && !candidate.After(*e.cfg.Floor) {
			boundary = candidate
			logger.Info("floor boundary reached",
				zap.Int("page", pageNum),
				zap.String("next_max_time", candidate.String()),
			)
			reason = ReasonFloorReached
			break
		}
		boundary = candidate

		logger.Info("page done",
			zap.Int("page", pageNum),
			zap.Int("items", len(items)),
			zap.String("next_max_time", boundary.String()),
		)

		if e.cfg.Pause > 0 && pageNum < e.cfg.MaxPages {
			timer := time.NewTimer(e.cfg.Pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				reason, runErr = ReasonCanceled, ctx.Err()
			case <-timer.C:
			}
			if runErr != nil {
				break
			}
		}
	}

	logger.Info("backfill run finished",
		zap.String("reason", string(reason)),
		zap.String("last_max_time", boundary.String()),
		zap.Int("processed", counters.Processed),
		zap.Int("inserted", counters.Inserted),
		zap.Int("duplicates", counters.Duplicates),
		zap.Int("skipped_filtered", counters.SkippedFiltered),
		zap.Int("skipped_not_important", counters.SkippedNotImportant),
		zap.Int("skipped_empty", counters.SkippedEmpty),
		zap.Int("failed", counters.Failed),
	)
	return counters, runErr
}

func (e *Engine) fetchPage(ctx context.Context, boundary flash.Boundary) ([]Item, error) {
	var items []Item
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		page, err := e.fetcher.FetchPage(ctx, boundary)
		if err != nil {
			return err
		}
		items = page
		return nil
	})
	return items, err
}

// processPage evaluates every item in upstream-delivered order. A single
// item's persist failure never aborts the page.
func (e *Engine) processPage(ctx context.Context, logger *zap.Logger, items []Item, counters *flash.RunCounters) {
	for _, item := range items {
		counters.Processed++
		if !item.Flagged() {
			counters.SkippedNotImportant++
			metrics.SkippedTotal.WithLabelValues("not_important").Inc()
			continue
		}
		normalized := flash.Normalize(item.Data.Content)
		if normalized == "" {
			counters.SkippedEmpty++
			metrics.SkippedTotal.WithLabelValues("empty").Inc()
			continue
		}
		if e.filter.ShouldIgnore(normalized) {
			counters.SkippedFiltered++
			metrics.SkippedTotal.WithLabelValues("filtered").Inc()
			continue
		}

		capturedAt, err := flash.ParseBoundary(item.Time)
		if err != nil {
			counters.Failed++
			metrics.EntriesTotal.WithLabelValues("failed").Inc()
			logger.Warn("item carries unusable time", zap.String("time", item.Time), zap.Error(err))
			continue
		}

		outcome, err := e.sink.Persist(ctx, normalized, capturedAt.Time())
		if err != nil {
			counters.Failed++
			metrics.EntriesTotal.WithLabelValues("failed").Inc()
			logger.Warn("item persist failed", zap.String("text", normalized), zap.Error(err))
			continue
		}
		switch outcome {
		case flash.OutcomeInserted:
			counters.Inserted++
		case flash.OutcomeDuplicate:
			counters.Duplicates++
		}
	}
}

// nextBoundary derives the next cursor from the last item of the page. When
// the upstream fails to move time backward (several items can share one
// second), the cursor steps back a single second: the minimal perturbation
// that changes the query and guarantees termination.
func (e *Engine) nextBoundary(items []Item, current flash.Boundary) flash.Boundary {
	candidate := current
	if last := items[len(items)-1]; last.Time != "" {
		if parsed, err := flash.ParseBoundary(last.Time); err == nil {
			candidate = parsed
		}
	}
	if candidate.Equal(current) {
		candidate = candidate.Add(-time.Second)
	}
	return candidate
}

func floorString(floor *flash.Boundary) string {
	if floor == nil {
		return "(none)"
	}
	return floor.String()
}
