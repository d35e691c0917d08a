// Package dedup owns content-hash computation, the idempotent persist path,
// and the live-path TTL admission cache.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quantfeed/flashcrawl/internal/flash"
	"github.com/quantfeed/flashcrawl/internal/metrics"
	"github.com/quantfeed/flashcrawl/internal/retry"
)

// Store is the insert-if-absent primitive the sink persists through.
type Store interface {
	InsertEntry(ctx context.Context, entry flash.Entry) (int64, error)
}

// HashText returns the fixed-width hex SHA-256 digest of the UTF-8 bytes of
// text. It is the basis of persistent uniqueness.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Sink persists normalized flash text idempotently. Every storage call is
// wrapped in the retry executor: the failure classes (connection reset,
// deadlock, lock-wait timeout) are identical regardless of producer.
type Sink struct {
	store  Store
	policy retry.Policy
	source string
	logger *zap.Logger
}

// NewSink builds a Sink writing rows tagged with source.
func NewSink(st Store, policy retry.Policy, source string, logger *zap.Logger) *Sink {
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("storage").Inc()
		logger.Warn("storage retry",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
	return &Sink{
		store:  st,
		policy: policy,
		source: source,
		logger: logger,
	}
}

// Persist writes text as a flash entry captured at the given instant. It
// reports OutcomeInserted iff the storage layer affected a row, and
// OutcomeDuplicate when the (hash, date) pair already exists.
func (s *Sink) Persist(ctx context.Context, text string, capturedAt time.Time) (flash.Outcome, error) {
	entry := flash.Entry{
		Text:       text,
		TextHash:   HashText(text),
		Source:     s.source,
		CapturedAt: capturedAt,
	}

	var affected int64
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		n, err := s.store.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("persist entry: %w", err)
	}

	if affected > 0 {
		metrics.EntriesTotal.WithLabelValues("inserted").Inc()
		return flash.OutcomeInserted, nil
	}
	metrics.EntriesTotal.WithLabelValues("duplicate").Inc()
	return flash.OutcomeDuplicate, nil
}
