package flash

import (
	"fmt"
	"strings"
	"time"
)

// BoundaryLayout is the upstream's native timestamp format. The API exposes
// time at one-second resolution and no finer.
const BoundaryLayout = "2006-01-02 15:04:05"

// Boundary is an exclusive upper time bound used as the pagination cursor.
// The upstream cursor is a human time string; it is parsed once at the edge
// and every internal comparison happens on time.Time.
type Boundary struct {
	t time.Time
}

// ParseBoundary parses the upstream time format in the local timezone, which
// is the timezone the upstream reports in.
func ParseBoundary(s string) (Boundary, error) {
	t, err := time.ParseInLocation(BoundaryLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return Boundary{}, fmt.Errorf("parse boundary %q: %w", s, err)
	}
	return Boundary{t: t}, nil
}

// BoundaryAt builds a boundary from a time.Time, truncated to the upstream's
// one-second resolution.
func BoundaryAt(t time.Time) Boundary {
	return Boundary{t: t.Truncate(time.Second)}
}

// Time returns the underlying instant.
func (b Boundary) Time() time.Time { return b.t }

// IsZero reports whether the boundary is unset.
func (b Boundary) IsZero() bool { return b.t.IsZero() }

// Add shifts the boundary by d.
func (b Boundary) Add(d time.Duration) Boundary {
	return Boundary{t: b.t.Add(d)}
}

// Equal reports whether two boundaries name the same instant.
func (b Boundary) Equal(o Boundary) bool { return b.t.Equal(o.t) }

// After reports whether b is later than o.
func (b Boundary) After(o Boundary) bool { return b.t.After(o.t) }

// String renders the boundary in the upstream's native format.
func (b Boundary) String() string { return b.t.Format(BoundaryLayout) }

// Wire renders the boundary for the max_time query parameter: the upstream
// expects the date/time separator as a literal '+', not percent-encoded.
func (b Boundary) Wire() string {
	return strings.Replace(b.String(), " ", "+", 1)
}
