package forge

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssrelay/internal/metrics"
)

func newCollector(maxBatch, topN int) (*Collector, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry(), nil)
	c := New(Config{MaxBatch: maxBatch, TopN: topN, Metrics: m, Logger: zerolog.Nop()})
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c, m
}

func TestAcceptDropsMissingAndUnknownTypes(t *testing.T) {
	c, m := newCollector(0, 0)
	n := c.Accept([]any{
		map[string]any{"page": "/a"},
		map[string]any{"type": "   "},
		map[string]any{"type": "hover"},
		"not an object",
		map[string]any{"type": " PAGE_VIEW ", "page": "/a"},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ForgeDropped.WithLabelValues("unknown_type")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForgeDropped.WithLabelValues("not_object")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForgeEvents.WithLabelValues(TypePageView)))
	ins := c.Insights()
	assert.Equal(t, uint64(1), ins.Totals.Events)
	assert.Equal(t, uint64(1), ins.Totals.ByType[TypePageView])
}

func TestAcceptTruncatesBatch(t *testing.T) {
	c, m := newCollector(3, 0)
	items := make([]any, 5)
	for i := range items {
		items[i] = map[string]any{"type": "click", "target": "#buy"}
	}
	assert.Equal(t, 3, c.Accept(items))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ForgeDropped.WithLabelValues("over_batch")))
	assert.Equal(t, uint64(3), c.Insights().TopTargets[0].Count)
}

func TestScrollDepthBuckets(t *testing.T) {
	c, _ := newCollector(0, 0)
	c.Accept([]any{
		map[string]any{"type": "scroll", "depth": 75.0},
		map[string]any{"type": "scroll", "depth": 0.1},
		map[string]any{"type": "scroll", "depth": "50"},
		map[string]any{"type": "scroll", "depth": 1.0},
		map[string]any{"type": "scroll", "depth": 250.0},
		map[string]any{"type": "scroll"},
		map[string]any{"type": "click", "depth": 0.3},
	})
	ins := c.Insights()
	got := map[string]uint64{}
	for _, e := range ins.ScrollDepth {
		got[e.Key] = e.Count
	}
	assert.Equal(t, map[string]uint64{"0.25": 1, "0.5": 1, "0.75": 1, "1.0": 2}, got)
	assert.Equal(t, []string{"0.25", "0.5", "0.75", "1.0"}, []string{ins.ScrollDepth[0].Key, ins.ScrollDepth[1].Key, ins.ScrollDepth[2].Key, ins.ScrollDepth[3].Key})
}

func TestNormalizeDepth(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{75.0, 0.75, true},
		{0.5, 0.5, true},
		{1.0, 1, true},
		{100.0, 1, true},
		{101.0, 1, true},
		{-3.0, 0, true},
		{"25", 0.25, true},
		{"x", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tc := range cases {
		got, ok := NormalizeDepth(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, "%v", tc.in)
	}
	assert.Equal(t, "0.75", DepthBucket(0.75))
	assert.Equal(t, "1.0", DepthBucket(0.76))
}

func TestTopNOrderingStableTies(t *testing.T) {
	c, _ := newCollector(0, 2)
	c.Accept([]any{
		map[string]any{"type": "page_view", "page": "/b"},
		map[string]any{"type": "page_view", "page": "/a"},
		map[string]any{"type": "page_view", "page": "/c"},
		map[string]any{"type": "page_view", "page": "/c"},
	})
	top := c.Insights().TopPages
	require.Len(t, top, 2)
	assert.Equal(t, "/c", top[0].Key)
	assert.Equal(t, uint64(2), top[0].Count)
	assert.Equal(t, "/b", top[1].Key, "ties keep first-seen order")
}

func TestSanitizeCapsAndCleans(t *testing.T) {
	ev, ok := Sanitize(map[string]any{
		"type":   "Block_View",
		"block":  "  hero\t\n  banner\x00 ",
		"page":   strings.Repeat("p", 500),
		"target": 12,
	})
	require.True(t, ok)
	assert.Equal(t, TypeBlockView, ev.Type)
	assert.Equal(t, "hero banner", ev.Block)
	assert.Len(t, ev.Page, maxPageLen)
	assert.Empty(t, ev.Target)

	_, ok = Sanitize(map[string]any{"type": strings.Repeat("c", 40)})
	assert.False(t, ok)
}

func TestTargetsOnlyFromClicks(t *testing.T) {
	c, m := newCollector(0, 0)
	c.Accept([]any{
		map[string]any{"type": "block_view", "target": "#x", "block": "hero"},
		map[string]any{"type": "click", "target": "#x", "block": "hero"},
	})
	ins := c.Insights()
	require.Len(t, ins.TopTargets, 1)
	assert.Equal(t, uint64(1), ins.TopTargets[0].Count)
	assert.Equal(t, uint64(2), ins.TopBlocks[0].Count)
	require.NotNil(t, ins.LastEventAt)
	assert.Equal(t, int64(1_700_000_000), ins.LastEventAt.Unix())
	assert.Equal(t, 1_700_000_000.0, testutil.ToFloat64(m.ForgeLastEvent))
}

func TestInsightsEmpty(t *testing.T) {
	c, _ := newCollector(0, 0)
	ins := c.Insights()
	assert.True(t, ins.OK)
	assert.Nil(t, ins.LastEventAt)
	assert.Empty(t, ins.TopPages)
	assert.Len(t, ins.ScrollDepth, 4)
}
