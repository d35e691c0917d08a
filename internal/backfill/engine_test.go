package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfeed/flashcrawl/internal/flash"
	"github.com/quantfeed/flashcrawl/internal/retry"
)

type scriptedFetcher struct {
	pages      [][]Item
	errs       []error
	boundaries []flash.Boundary
}

func (f *scriptedFetcher) FetchPage(_ context.Context, max flash.Boundary) ([]Item, error) {
	call := len(f.boundaries)
	f.boundaries = append(f.boundaries, max)
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	if call < len(f.pages) {
		return f.pages[call], nil
	}
	return nil, nil
}

type recordingSink struct {
	texts []string
	times []time.Time
	errs  []error
}

func (s *recordingSink) Persist(_ context.Context, text string, at time.Time) (flash.Outcome, error) {
	call := len(s.texts)
	s.texts = append(s.texts, text)
	s.times = append(s.times, at)
	if call < len(s.errs) && s.errs[call] != nil {
		return 0, s.errs[call]
	}
	return flash.OutcomeInserted, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func mustBoundary(t *testing.T, s string) flash.Boundary {
	t.Helper()
	b, err := flash.ParseBoundary(s)
	require.NoError(t, err)
	return b
}

func newTestEngine(fetcher PageFetcher, sink Sink, cfg EngineConfig) *Engine {
	filter := flash.NewIgnoreFilter([]string{"vip", "一览", "图示", "点击查看", "点击获取", "点击观看"})
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	clock := fixedClock{now: time.Date(2025, 8, 14, 14, 0, 0, 0, time.Local)}
	return NewEngine(fetcher, sink, filter, policy, cfg, clock, zap.NewNop())
}

func TestRunPersistsFlaggedAndFiltersPromos(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		pages: [][]Item{
			{
				{Important: 1, Time: "2025-08-14 13:00:00", Data: ItemData{Content: "央行宣布降准"}},
				{Important: 1, Time: "2025-08-14 12:59:50", Data: ItemData{Content: "点击查看详情"}},
			},
			nil, // upstream exhausted
		},
	}
	sink := &recordingSink{}
	cfg := EngineConfig{Start: mustBoundary(t, "2025-08-14 13:00:00"), MaxPages: 10}

	counters, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"央行宣布降准"}, sink.texts)
	require.Equal(t, mustBoundary(t, "2025-08-14 13:00:00").Time(), sink.times[0])

	// Next boundary follows the last item of the page.
	require.Len(t, fetcher.boundaries, 2)
	require.Equal(t, "2025-08-14 12:59:50", fetcher.boundaries[1].String())

	require.Equal(t, 2, counters.Processed)
	require.Equal(t, 1, counters.Inserted)
	require.Equal(t, 1, counters.SkippedFiltered)
}

func TestRunEpsilonBackoffOnStalledCursor(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		pages: [][]Item{
			{{Important: 1, Time: "2025-08-14 12:00:00", Data: ItemData{Content: "美联储维持利率不变"}}},
			nil,
		},
	}
	sink := &recordingSink{}
	cfg := EngineConfig{Start: mustBoundary(t, "2025-08-14 12:00:00"), MaxPages: 10}

	_, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, fetcher.boundaries, 2)
	require.Equal(t, "2025-08-14 11:59:59", fetcher.boundaries[1].String())
}

func TestRunStalledCursorStrictlyDecreases(t *testing.T) {
	t.Parallel()

	// The upstream always echoes the requested boundary back as the last
	// item time; the cursor must still walk down one second per page until
	// the floor stops the run.
	fetcher := &echoFetcher{}
	sink := &recordingSink{}
	floor := mustBoundary(t, "2025-08-14 11:59:55")
	cfg := EngineConfig{
		Start:    mustBoundary(t, "2025-08-14 12:00:00"),
		Floor:    &floor,
		MaxPages: 100,
	}

	_, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{
		"2025-08-14 12:00:00",
		"2025-08-14 11:59:59",
		"2025-08-14 11:59:58",
		"2025-08-14 11:59:57",
		"2025-08-14 11:59:56",
	}, boundaryStrings(fetcher.boundaries))
}

type echoFetcher struct {
	boundaries []flash.Boundary
}

func (f *echoFetcher) FetchPage(_ context.Context, max flash.Boundary) ([]Item, error) {
	f.boundaries = append(f.boundaries, max)
	return []Item{{Important: 0, Time: max.String()}}, nil
}

func boundaryStrings(bs []flash.Boundary) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.String()
	}
	return out
}

func TestRunStopsAtFloorWithoutFetching(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		pages: [][]Item{
			{{Important: 1, Time: "2025-08-01 00:00:00", Data: ItemData{Content: "历史快讯"}}},
		},
	}
	sink := &recordingSink{}
	floor := mustBoundary(t, "2025-08-01 00:00:00")
	cfg := EngineConfig{
		Start:    mustBoundary(t, "2025-08-14 13:00:00"),
		Floor:    &floor,
		MaxPages: 10,
	}

	_, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.NoError(t, err)

	// The candidate boundary equals the floor; no further fetch is issued.
	require.Len(t, fetcher.boundaries, 1)
	require.Equal(t, []string{"历史快讯"}, sink.texts)
}

func TestRunRespectsPageLimit(t *testing.T) {
	t.Parallel()

	fetcher := &echoFetcher{}
	sink := &recordingSink{}
	cfg := EngineConfig{Start: mustBoundary(t, "2025-08-14 12:00:00"), MaxPages: 3}

	_, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, fetcher.boundaries, 3)
}

func TestRunFetchFailureIsFatalAfterRetries(t *testing.T) {
	t.Parallel()

	unavailable := &retry.HTTPStatusError{StatusCode: 503, Status: "503 Service Unavailable"}
	fetcher := &scriptedFetcher{errs: []error{unavailable, unavailable}}
	sink := &recordingSink{}
	cfg := EngineConfig{Start: mustBoundary(t, "2025-08-14 13:00:00"), MaxPages: 10}

	_, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.ErrorIs(t, err, unavailable)
	// MaxAttempts is 2 in the test policy: one retry, then fatal.
	require.Len(t, fetcher.boundaries, 2)
}

func TestRunMalformedResponseIsNotRetried(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{errs: []error{ErrMalformedResponse}}
	sink := &recordingSink{}
	cfg := EngineConfig{Start: mustBoundary(t, "2025-08-14 13:00:00"), MaxPages: 10}

	_, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.Len(t, fetcher.boundaries, 1)
}

func TestRunItemFailureDoesNotAbortPage(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		pages: [][]Item{
			{
				{Important: 1, Time: "2025-08-14 13:00:00", Data: ItemData{Content: "第一条"}},
				{Important: 1, Time: "2025-08-14 12:59:00", Data: ItemData{Content: "第二条"}},
			},
			nil,
		},
	}
	sink := &recordingSink{errs: []error{errors.New("insert failed")}}
	cfg := EngineConfig{Start: mustBoundary(t, "2025-08-14 13:00:00"), MaxPages: 10}

	counters, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"第一条", "第二条"}, sink.texts)
	require.Equal(t, 1, counters.Failed)
	require.Equal(t, 1, counters.Inserted)
}

func TestRunSkipsUnflaggedWithoutNormalizing(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		pages: [][]Item{
			{
				{Important: 0, Time: "2025-08-14 13:00:00", Data: ItemData{Content: "不重要的快讯"}},
				{Important: 1, Time: "2025-08-14 12:59:00", Data: ItemData{Content: "​　"}},
			},
			nil,
		},
	}
	sink := &recordingSink{}
	cfg := EngineConfig{Start: mustBoundary(t, "2025-08-14 13:00:00"), MaxPages: 10}

	counters, err := newTestEngine(fetcher, sink, cfg).Run(context.Background())
	require.NoError(t, err)

	require.Empty(t, sink.texts)
	require.Equal(t, 1, counters.SkippedNotImportant)
	require.Equal(t, 1, counters.SkippedEmpty)
}

func TestRunDefaultsStartToNow(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{}
	sink := &recordingSink{}

	engine := newTestEngine(fetcher, sink, EngineConfig{MaxPages: 5})
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, fetcher.boundaries, 1)
	require.Equal(t, "2025-08-14 14:00:00", fetcher.boundaries[0].String())
}
