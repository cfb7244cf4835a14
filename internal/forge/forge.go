// Package forge aggregates UX telemetry events in memory. Individual events
// are never retained; only counts and the last event time survive ingestion.
package forge

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"ssrelay/internal/metrics"
	"ssrelay/pkg/types"
)

// Event types the collector accepts.
const (
	TypePageView  = "page_view"
	TypeBlockView = "block_view"
	TypeClick     = "click"
	TypeScroll    = "scroll"
)

var allowed = map[string]bool{
	TypePageView:  true,
	TypeBlockView: true,
	TypeClick:     true,
	TypeScroll:    true,
}

// Field length caps, in runes.
const (
	maxTypeLen   = 32
	maxBlockLen  = 80
	maxPageLen   = 160
	maxTargetLen = 120
)

// Depth bands, in ascending order.
var depthBands = []string{"0.25", "0.5", "0.75", "1.0"}

const (
	DefaultMaxBatch = 50
	DefaultTopN     = 10
)

// Config encapsulates Collector tunables.
type Config struct {
	MaxBatch int
	TopN     int
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Event is a sanitized telemetry event.
type Event struct {
	Type   string
	Block  string
	Page   string
	Target string
	Depth  float64
	// HasDepth is false when the item carried no usable depth.
	HasDepth bool
}

// Collector ingests event batches and builds insight snapshots. It is safe
// for concurrent use.
type Collector struct {
	maxBatch int
	topN     int
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	total   uint64
	byType  *counter
	pages   *counter
	blocks  *counter
	targets *counter
	depths  *counter
	last    time.Time
}

// New builds a Collector from cfg, applying defaults to zero values.
func New(cfg Config) *Collector {
	c := &Collector{
		maxBatch: cfg.MaxBatch,
		topN:     cfg.TopN,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      time.Now,
		byType:   newCounter(),
		pages:    newCounter(),
		blocks:   newCounter(),
		targets:  newCounter(),
		depths:   newCounter(),
	}
	if c.maxBatch <= 0 {
		c.maxBatch = DefaultMaxBatch
	}
	if c.topN <= 0 {
		c.topN = DefaultTopN
	}
	if c.metrics == nil {
		c.metrics = metrics.New(prometheus.NewRegistry(), nil)
	}
	return c
}

// Accept ingests items and returns how many events were accepted. Input
// beyond the batch cap is dropped before any processing.
func (c *Collector) Accept(items []any) int {
	if n := len(items) - c.maxBatch; n > 0 {
		c.metrics.ForgeDropped.WithLabelValues("over_batch").Add(float64(n))
		c.log.Debug().Int("dropped", n).Int("max_batch", c.maxBatch).Msg("telemetry batch truncated")
		items = items[:c.maxBatch]
	}
	events := make([]Event, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			c.metrics.ForgeDropped.WithLabelValues("not_object").Inc()
			continue
		}
		ev, ok := Sanitize(obj)
		if !ok {
			c.metrics.ForgeDropped.WithLabelValues("unknown_type").Inc()
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return 0
	}

	now := c.now()
	c.mu.Lock()
	for _, ev := range events {
		c.total++
		c.byType.inc(ev.Type)
		if ev.Page != "" {
			c.pages.inc(ev.Page)
		}
		if ev.Block != "" {
			c.blocks.inc(ev.Block)
		}
		if ev.Type == TypeClick && ev.Target != "" {
			c.targets.inc(ev.Target)
		}
		if ev.Type == TypeScroll && ev.HasDepth {
			c.depths.inc(DepthBucket(ev.Depth))
		}
	}
	c.last = now
	c.mu.Unlock()

	for _, ev := range events {
		c.metrics.ForgeEvents.WithLabelValues(ev.Type).Inc()
	}
	c.metrics.ForgeLastEvent.Set(float64(now.UnixMilli()) / 1e3)
	return len(events)
}

// Insights returns a snapshot of the aggregates.
func (c *Collector) Insights() types.Insights {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := types.Insights{
		OK: true,
		Totals: types.InsightTotals{
			Events: c.total,
			ByType: make(map[string]uint64, len(c.byType.order)),
		},
		TopPages:    c.pages.top(c.topN),
		TopBlocks:   c.blocks.top(c.topN),
		TopTargets:  c.targets.top(c.topN),
		ScrollDepth: make([]types.CountEntry, 0, len(depthBands)),
	}
	for _, k := range c.byType.order {
		out.Totals.ByType[k] = c.byType.counts[k]
	}
	for _, band := range depthBands {
		out.ScrollDepth = append(out.ScrollDepth, types.CountEntry{Key: band, Count: c.depths.counts[band]})
	}
	if !c.last.IsZero() {
		t := c.last.UTC()
		out.LastEventAt = &t
	}
	return out
}

// Sanitize normalizes a raw event object. It reports false when the type is
// missing, empty after normalization, or not allow-listed.
func Sanitize(obj map[string]any) (Event, bool) {
	typ, _ := obj["type"].(string)
	typ = strings.ToLower(clean(typ, maxTypeLen))
	if typ == "" || !allowed[typ] {
		return Event{}, false
	}
	ev := Event{
		Type:   typ,
		Block:  cleanField(obj, "block", maxBlockLen),
		Page:   cleanField(obj, "page", maxPageLen),
		Target: cleanField(obj, "target", maxTargetLen),
	}
	ev.Depth, ev.HasDepth = NormalizeDepth(obj["depth"])
	return ev, true
}

func cleanField(obj map[string]any, key string, limit int) string {
	s, _ := obj[key].(string)
	return clean(s, limit)
}

// clean drops control characters, collapses whitespace runs, trims, and caps
// the result at limit runes.
func clean(s string, limit int) string {
	var b strings.Builder
	space := false
	n := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if space {
			if n == limit {
				break
			}
			b.WriteByte(' ')
			n++
			space = false
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

// NormalizeDepth maps a raw depth to [0,1]. Values above 1 and up to 100 are
// percentages. Numeric strings are accepted.
func NormalizeDepth(v any) (float64, bool) {
	var d float64
	switch x := v.(type) {
	case float64:
		d = x
	case int:
		d = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		d = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		d = f
	default:
		return 0, false
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, false
	}
	if d > 1 && d <= 100 {
		d /= 100
	}
	return math.Max(0, math.Min(1, d)), true
}

// DepthBucket returns the band label for a normalized depth.
func DepthBucket(d float64) string {
	switch {
	case d <= 0.25:
		return depthBands[0]
	case d <= 0.5:
		return depthBands[1]
	case d <= 0.75:
		return depthBands[2]
	default:
		return depthBands[3]
	}
}

// counter is an insertion-ordered count map.
type counter struct {
	counts map[string]uint64
	order  []string
}

func newCounter() *counter { return &counter{counts: make(map[string]uint64)} }

func (c *counter) inc(k string) {
	if _, ok := c.counts[k]; !ok {
		c.order = append(c.order, k)
	}
	c.counts[k]++
}

// top returns the n largest entries, ties in first-seen order.
func (c *counter) top(n int) []types.CountEntry {
	out := make([]types.CountEntry, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, types.CountEntry{Key: k, Count: c.counts[k]})
	}
	slices.SortStableFunc(out, func(a, b types.CountEntry) int {
		switch {
		case a.Count > b.Count:
			return -1
		case a.Count < b.Count:
			return 1
		}
		return 0
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
