// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesTotal counts persist outcomes, labeled inserted/duplicate/failed.
	EntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashcrawl_entries_total",
			Help: "Total flash entries handled by the dedup sink, by outcome.",
		},
		[]string{"outcome"},
	)

	// SkippedTotal counts items dropped before the sink, by reason.
	SkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashcrawl_skipped_total",
			Help: "Total items skipped before persistence, by reason.",
		},
		[]string{"reason"},
	)

	// PagesTotal counts historical API pages fetched.
	PagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flashcrawl_pages_total",
			Help: "Total history pages fetched from the upstream API.",
		},
	)

	// RetryAttemptsTotal counts backoff retries, labeled by operation kind.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashcrawl_retry_attempts_total",
			Help: "Total retry attempts, by operation (network or storage).",
		},
		[]string{"op"},
	)
)
