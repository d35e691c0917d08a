package flash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseBoundaryRoundTrip(t *testing.T) {
	t.Parallel()

	b, err := ParseBoundary("2025-08-14 13:00:00")
	require.NoError(t, err)
	require.Equal(t, "2025-08-14 13:00:00", b.String())
	require.Equal(t, "2025-08-14+13:00:00", b.Wire())
}

func TestParseBoundaryRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not a time", "2025-08-14", "2025/08/14 13:00:00"} {
		_, err := ParseBoundary(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestBoundaryArithmetic(t *testing.T) {
	t.Parallel()

	b, err := ParseBoundary("2025-08-14 12:00:00")
	require.NoError(t, err)

	prev := b.Add(-time.Second)
	require.Equal(t, "2025-08-14 11:59:59", prev.String())
	require.True(t, b.After(prev))
	require.False(t, prev.After(b))
	require.True(t, b.Equal(b))
}

func TestBoundaryAtTruncatesToSeconds(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 8, 14, 12, 0, 0, 999_000_000, time.Local)
	require.Equal(t, "2025-08-14 12:00:00", BoundaryAt(ts).String())
}
