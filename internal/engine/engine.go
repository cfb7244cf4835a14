// Package engine orchestrates a single block render: props validation, cache
// lookup, rendering, and cache store, with metrics observed along the way.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
	"golang.org/x/sync/singleflight"

	"ssrelay/internal/cache"
	"ssrelay/internal/metrics"
	"ssrelay/internal/renderer"
)

// Codes produced by the engine itself.
const (
	CodeInvalidItem  = "invalid_item"
	CodeMissingBlock = "missing_block"
	CodeMissingProps = "missing_props"
)

// unsupportedLabel replaces caller-supplied block names in metric labels when
// the block is unknown, keeping label cardinality bounded.
const unsupportedLabel = "unsupported"

// unknownCodeLabel is the error identity recorded for coded failures outside
// the known set.
const unknownCodeLabel = "unknown_code"

// Source yields the current renderer handle.
type Source interface {
	Current(ctx context.Context) (*renderer.Handle, error)
}

// Cache is the subset of *cache.RenderCache the engine uses.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Result is the outcome of one render. Error holds a stable code when OK is
// false; internal details never appear in it.
type Result struct {
	OK       bool
	HTML     string
	Error    string
	Duration time.Duration
	CacheHit bool
}

// Config encapsulates Engine dependencies. Cache may be nil to disable
// caching entirely.
type Config struct {
	Source       Source
	Cache        Cache
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	Minify       bool
	SingleFlight bool
}

// Engine renders blocks. It is safe for concurrent use.
type Engine struct {
	src     Source
	cache   Cache
	metrics *metrics.Metrics
	log     zerolog.Logger
	min     *minify.M
	group   *singleflight.Group
	now     func() time.Time
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		src:     cfg.Source,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		now:     time.Now,
	}
	if e.metrics == nil {
		e.metrics = metrics.New(prometheus.NewRegistry(), nil)
	}
	if cfg.Minify {
		e.min = minify.New()
		e.min.AddFunc("text/html", html.Minify)
	}
	if cfg.SingleFlight && cfg.Cache != nil {
		e.group = &singleflight.Group{}
	}
	return e
}

// RenderBlock renders block with props. Loader failures surface as
// renderer_missing or renderer_invalid; unexpected renderer errors and panics
// surface as render_error.
func (e *Engine) RenderBlock(ctx context.Context, block string, props map[string]any) (res Result) {
	start := e.now()
	defer func() {
		if p := recover(); p != nil {
			e.unexpected(block, "panic", fmt.Errorf("%v", p))
			res = Result{Error: renderer.CodeRenderError}
		}
		res.Duration = e.now().Sub(start)
	}()

	h, err := e.src.Current(ctx)
	if err != nil {
		return e.fail(block, err)
	}
	defer h.Release()

	if h.Validator != nil {
		validated, err := h.Validator.ValidateProps(ctx, block, props)
		if err != nil {
			return e.fail(block, err)
		}
		if validated != nil {
			props = validated
		}
	}

	var key string
	if e.cache != nil {
		key, err = cacheKey(h, block, props)
		if err != nil {
			return e.fail(block, err)
		}
		if v, ok := e.cache.Get(key); ok {
			e.metrics.CacheHits.WithLabelValues(block).Inc()
			e.metrics.ObserveRender(block, e.now().Sub(start).Seconds())
			return Result{OK: true, HTML: v, CacheHit: true}
		}
		e.metrics.CacheMisses.WithLabelValues(block).Inc()
	}

	var out string
	if e.group != nil {
		v, err, _ := e.group.Do(key, func() (any, error) {
			return e.render(ctx, h, block, props)
		})
		if err != nil {
			return e.fail(block, err)
		}
		out = v.(string)
	} else if out, err = e.render(ctx, h, block, props); err != nil {
		return e.fail(block, err)
	}

	// A handle retired mid-render belongs to a generation nobody looks up.
	if e.cache != nil && !h.Retired() {
		e.cache.Set(key, out)
		e.metrics.CacheStores.WithLabelValues(block).Inc()
	}
	e.metrics.ObserveRender(block, e.now().Sub(start).Seconds())
	return Result{OK: true, HTML: out}
}

// cacheKey scopes the props key to the handle's generation, so markup from a
// replaced artifact can never satisfy a lookup made after the swap.
func cacheKey(h *renderer.Handle, block string, props map[string]any) (string, error) {
	k, err := cache.Key(block, props)
	if err != nil {
		return "", err
	}
	return h.Generation + ":" + k, nil
}

func (e *Engine) render(ctx context.Context, h *renderer.Handle, block string, props map[string]any) (string, error) {
	out, err := h.Artifact.Render(ctx, block, props)
	if err != nil {
		return "", err
	}
	if e.min != nil {
		m, err := e.min.String("text/html", out)
		if err != nil {
			e.log.Warn().Str("block", block).Err(err).Msg("minify failed, serving original markup")
			return out, nil
		}
		out = m
	}
	return out, nil
}

// fail maps err to a Result. Coded errors are explicit failures; anything
// else is logged and reported as render_error.
func (e *Engine) fail(block string, err error) Result {
	code, ok := renderer.CodeOf(err)
	if !ok {
		e.unexpected(block, fmt.Sprintf("%T", err), err)
		return Result{Error: renderer.CodeRenderError}
	}
	if !knownCode(code) {
		e.unexpected(block, unknownCodeLabel, err)
		return Result{Error: renderer.CodeRenderError}
	}
	label := block
	if code == renderer.CodeUnsupportedBlock {
		label = unsupportedLabel
	}
	e.metrics.RenderFailures.WithLabelValues(label, code).Inc()
	switch code {
	case renderer.CodeUnsupportedBlock, renderer.CodeInvalidProps:
		e.log.Debug().Str("block", block).Str("code", code).Err(err).Msg("render rejected")
	default:
		e.log.Warn().Str("block", block).Str("code", code).Err(err).Msg("render failed")
	}
	return Result{Error: code}
}

func knownCode(code string) bool {
	return renderer.IsRenderCode(code) || code == renderer.CodeRendererMissing || code == renderer.CodeRendererInvalid
}

func (e *Engine) unexpected(block, identity string, err error) {
	e.metrics.RenderErrors.WithLabelValues(block, identity).Inc()
	e.log.Error().Str("block", block).Str("error_type", identity).Err(err).Msg("unexpected render error")
}

// item is one decoded batch entry; pointers tell absent fields from zero ones.
type item struct {
	Block *string         `json:"block"`
	Props *map[string]any `json:"props"`
}

// RenderBatch renders each raw item independently. An item that is not an
// object with a non-empty string block and an object props yields
// invalid_item in place.
func (e *Engine) RenderBatch(ctx context.Context, items []json.RawMessage) []Result {
	out := make([]Result, len(items))
	e.metrics.BatchItems.WithLabelValues("requested").Add(float64(len(items)))
	for i, raw := range items {
		var it item
		if err := json.Unmarshal(raw, &it); err != nil || it.Block == nil || *it.Block == "" || it.Props == nil {
			out[i] = Result{Error: CodeInvalidItem}
		} else {
			out[i] = e.RenderBlock(ctx, *it.Block, *it.Props)
		}
		if out[i].OK {
			e.metrics.BatchItems.WithLabelValues("succeeded").Inc()
		} else {
			e.metrics.BatchItems.WithLabelValues("failed").Inc()
		}
	}
	return out
}

// IsCallerError reports whether code is a caller-input failure (HTTP 400).
func IsCallerError(code string) bool {
	switch code {
	case renderer.CodeUnsupportedBlock, renderer.CodeInvalidProps, CodeMissingBlock, CodeMissingProps, CodeInvalidItem:
		return true
	}
	return false
}
