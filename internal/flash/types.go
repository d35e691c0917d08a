// Package flash defines core types shared across the ingestion pipeline.
package flash

import "time"

// Entry is a normalized flash item ready for persistence.
type Entry struct {
	Text       string
	TextHash   string
	Source     string
	CapturedAt time.Time
}

// Outcome reports what the store did with a persisted entry.
type Outcome int

// Persist outcomes.
const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// RunCounters tracks per-run ingestion stats for end-of-run reporting.
type RunCounters struct {
	Processed           int
	Inserted            int
	Duplicates          int
	SkippedFiltered     int
	SkippedNotImportant int
	SkippedEmpty        int
	Failed              int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
