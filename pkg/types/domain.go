package types

import "time"

// CountEntry is a single ranked dimension value in an insights snapshot.
type CountEntry struct {
	// example: /pricing
	Key string `json:"key" example:"/pricing"`
	// example: 42
	Count uint64 `json:"count" example:"42"`
}

// InsightTotals summarizes everything the collector has accepted.
type InsightTotals struct {
	// Accepted events since process start.
	// example: 1200
	Events uint64 `json:"events" example:"1200"`
	// Accepted events per event type.
	ByType map[string]uint64 `json:"by_type"`
}

// Insights is returned by POST /forge/insights.
type Insights struct {
	// example: true
	OK     bool          `json:"ok" example:"true"`
	Totals InsightTotals `json:"totals"`
	// Time of the most recently accepted event; omitted before the first one.
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	// Top pages by event count.
	TopPages []CountEntry `json:"top_pages"`
	// Top blocks by event count.
	TopBlocks []CountEntry `json:"top_blocks"`
	// Top click targets.
	TopTargets []CountEntry `json:"top_targets"`
	// Scroll depth histogram over the fixed bands 0.25, 0.5, 0.75 and 1.0.
	ScrollDepth []CountEntry `json:"scroll_depth"`
}
