package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfeed/flashcrawl/internal/dedup"
	"github.com/quantfeed/flashcrawl/internal/flash"
)

type fakeSink struct {
	texts []string
	times []time.Time
	errs  []error
}

func (s *fakeSink) Persist(_ context.Context, text string, at time.Time) (flash.Outcome, error) {
	call := len(s.texts)
	s.texts = append(s.texts, text)
	s.times = append(s.times, at)
	if call < len(s.errs) && s.errs[call] != nil {
		return 0, s.errs[call]
	}
	return flash.OutcomeInserted, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCollector(sink Persister, clock flash.Clock, window time.Duration) *Collector {
	filter := flash.NewIgnoreFilter([]string{"vip", "点击查看"})
	cache := dedup.NewTTLCache(window, clock)
	return NewCollector(sink, cache, filter, clock, zap.NewNop())
}

func TestHandleTextSuppressesRedelivery(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 8, 14, 13, 0, 0, 0, time.UTC)}
	sink := &fakeSink{}
	collector := newTestCollector(sink, clock, 3*time.Second)

	// The DOM observer fires for the same node several times in a burst.
	collector.HandleText(context.Background(), "央行宣布降准")
	collector.HandleText(context.Background(), "央行宣布降准")
	clock.advance(time.Second)
	collector.HandleText(context.Background(), "央行宣布降准")

	require.Equal(t, []string{"央行宣布降准"}, sink.texts)
	require.Equal(t, time.Date(2025, 8, 14, 13, 0, 0, 0, time.UTC), sink.times[0])
}

func TestHandleTextReadmitsAfterWindow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 8, 14, 13, 0, 0, 0, time.UTC)}
	sink := &fakeSink{}
	collector := newTestCollector(sink, clock, 3*time.Second)

	collector.HandleText(context.Background(), "美联储维持利率不变")
	clock.advance(4 * time.Second)
	collector.HandleText(context.Background(), "美联储维持利率不变")

	require.Len(t, sink.texts, 2)
}

func TestHandleTextDropsFilteredAndEmpty(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 8, 14, 13, 0, 0, 0, time.UTC)}
	sink := &fakeSink{}
	collector := newTestCollector(sink, clock, 3*time.Second)

	collector.HandleText(context.Background(), "点击查看详情")
	collector.HandleText(context.Background(), "开通VIP查看完整内容")
	collector.HandleText(context.Background(), "​ 　 ")
	collector.HandleText(context.Background(), "今日CPI数据如何?")

	require.Empty(t, sink.texts)
}

func TestHandleTextNormalizesBeforeDedup(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 8, 14, 13, 0, 0, 0, time.UTC)}
	sink := &fakeSink{}
	collector := newTestCollector(sink, clock, 3*time.Second)

	// Whitespace variants collapse to one canonical text, so the second
	// delivery is a redelivery, not a new flash.
	collector.HandleText(context.Background(), "原油  库存　下降")
	collector.HandleText(context.Background(), "原油 库存 下降")

	require.Equal(t, []string{"原油 库存 下降"}, sink.texts)
}

func TestHandleTextPersistFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 8, 14, 13, 0, 0, 0, time.UTC)}
	sink := &fakeSink{errs: []error{errors.New("pool exhausted")}}
	collector := newTestCollector(sink, clock, 3*time.Second)

	collector.HandleText(context.Background(), "第一条快讯")
	collector.HandleText(context.Background(), "第二条快讯")

	// Both reached the sink; the first failure did not stop the session.
	require.Equal(t, []string{"第一条快讯", "第二条快讯"}, sink.texts)
}
