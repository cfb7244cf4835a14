// Package metrics defines every Prometheus collector the relay exposes.
//
// Collectors are registered on an injected registerer so tests and the
// server each own an isolated registry:
//
//   - ssr_http_requests_total{path,method,status} (Counter)
//   - ssr_http_request_duration_seconds{path,method,status} (Histogram)
//   - ssr_http_inflight_requests{path} (Gauge)
//   - ssr_auth_failures_total{reason} (Counter)
//   - ssr_cache_hits_total{block}, ssr_cache_misses_total{block}, ssr_cache_stores_total{block} (Counter)
//   - ssr_cache_clears_total (Counter)
//   - ssr_cache_evictions_total, ssr_cache_entries (read from the cache at scrape time)
//   - ssr_renderer_reloads_total (Counter), ssr_renderer_load_failures_total{code} (Counter)
//   - ssr_render_duration_seconds{block} (Histogram), ssr_render_last_duration_seconds{block} (Gauge)
//   - ssr_render_failures_total{block,code}, ssr_render_errors_total{block,error} (Counter)
//   - ssr_batch_items_total{result} (Counter)
//   - ssr_forge_events_total{type}, ssr_forge_dropped_total{reason} (Counter)
//   - ssr_forge_last_event_timestamp_seconds (Gauge)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ssr"

// RenderBuckets are the fixed render duration bucket bounds in seconds.
var RenderBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// CacheStats is read at scrape time for the cache size and eviction series.
type CacheStats interface {
	Size() int
	Evictions() uint64
}

// Metrics holds all collectors for the relay.
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	HTTPInflight    *prometheus.GaugeVec
	AuthFailures    *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheStores     *prometheus.CounterVec
	CacheClears     prometheus.Counter
	RendererReloads prometheus.Counter
	RendererFailed  *prometheus.CounterVec
	RenderDuration  *prometheus.HistogramVec
	RenderLast      *prometheus.GaugeVec
	RenderFailures  *prometheus.CounterVec
	RenderErrors    *prometheus.CounterVec
	BatchItems      *prometheus.CounterVec
	ForgeEvents     *prometheus.CounterVec
	ForgeDropped    *prometheus.CounterVec
	ForgeLastEvent  prometheus.Gauge
}

// New creates the collectors and registers them with reg. When stats is
// non-nil the cache size and eviction series are registered as well.
func New(reg prometheus.Registerer, stats CacheStats) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"path", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		HTTPInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "In-flight HTTP requests",
		}, []string{"path"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "failures_total",
			Help: "Rejected signed requests by reason",
		}, []string{"reason"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Render cache hits per block",
		}, []string{"block"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Render cache misses per block",
		}, []string{"block"}),
		CacheStores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "stores_total",
			Help: "Rendered results stored in the cache per block",
		}, []string{"block"}),
		CacheClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "clears_total",
			Help: "Full cache clears triggered by renderer reloads",
		}),
		RendererReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "renderer", Name: "reloads_total",
			Help: "Renderer artifact reloads after a modification time change",
		}),
		RendererFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "renderer", Name: "load_failures_total",
			Help: "Renderer artifact load failures by code",
		}, []string{"code"}),
		RenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "render", Name: "duration_seconds",
			Help:    "Block render duration in seconds, including cache lookups",
			Buckets: RenderBuckets,
		}, []string{"block"}),
		RenderLast: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "render", Name: "last_duration_seconds",
			Help: "Most recently observed render duration per block",
		}, []string{"block"}),
		RenderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "failures_total",
			Help: "Renders that ended with an explicit error code",
		}, []string{"block", "code"}),
		RenderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "errors_total",
			Help: "Unexpected renderer errors by block and error identity",
		}, []string{"block", "error"}),
		BatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "items_total",
			Help: "Batch render items by result (requested, succeeded, failed)",
		}, []string{"result"}),
		ForgeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "forge", Name: "events_total",
			Help: "Accepted UX telemetry events by type",
		}, []string{"type"}),
		ForgeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "forge", Name: "dropped_total",
			Help: "Discarded UX telemetry events by reason",
		}, []string{"reason"}),
		ForgeLastEvent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "forge", Name: "last_event_timestamp_seconds",
			Help: "Unix time of the most recently accepted UX event",
		}),
	}
	reg.MustRegister(
		m.HTTPRequests, m.HTTPDuration, m.HTTPInflight, m.AuthFailures,
		m.CacheHits, m.CacheMisses, m.CacheStores, m.CacheClears,
		m.RendererReloads, m.RendererFailed,
		m.RenderDuration, m.RenderLast, m.RenderFailures, m.RenderErrors,
		m.BatchItems, m.ForgeEvents, m.ForgeDropped, m.ForgeLastEvent,
	)
	if stats != nil {
		reg.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
				Help: "Entries evicted from the render cache for capacity",
			}, func() float64 { return float64(stats.Evictions()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "cache", Name: "entries",
				Help: "Entries currently held by the render cache",
			}, func() float64 { return float64(stats.Size()) }),
		)
	}
	return m
}

// ObserveRender records a render duration for block in the histogram and the
// last-value gauge.
func (m *Metrics) ObserveRender(block string, seconds float64) {
	m.RenderDuration.WithLabelValues(block).Observe(seconds)
	m.RenderLast.WithLabelValues(block).Set(seconds)
}

// AuthFailure counts a rejected signed request.
func (m *Metrics) AuthFailure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}
