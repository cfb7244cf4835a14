package renderer

import (
	"context"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"ssrelay/internal/metrics"
)

// Opener loads an artifact from path.
type Opener func(ctx context.Context, path string) (Artifact, error)

// Clearer is the part of the render cache the loader needs.
type Clearer interface {
	Clear()
}

// LoaderConfig encapsulates all tunables for Loader construction.
type LoaderConfig struct {
	Path string
	// CheckInterval bounds how often the artifact is re-stat'ed. Zero stats on
	// every call.
	CheckInterval time.Duration
	Open          Opener           // defaults to OpenArtifact
	Cache         Clearer          // cleared on every reload; may be nil
	Metrics       *metrics.Metrics // defaults to an unregistered set
	Logger        zerolog.Logger
}

// Loader owns the current renderer handle and reloads it lazily when the
// artifact's modification time changes.
type Loader struct {
	path     string
	interval time.Duration
	open     Opener
	cache    Clearer
	metrics  *metrics.Metrics
	log      zerolog.Logger
	stat     func(string) (fs.FileInfo, error)
	now      func() time.Time

	loadMu    sync.Mutex // serializes stat and open
	mu        sync.Mutex // guards the fields below
	cur       *Handle
	lastCheck time.Time
	dirty     bool
	loaded    bool
	reloads   uint64
	failMod   time.Time
	failErr   error
}

// NewLoader constructs a Loader from cfg.
func NewLoader(cfg LoaderConfig) *Loader {
	l := &Loader{
		path:     cfg.Path,
		interval: cfg.CheckInterval,
		open:     cfg.Open,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		stat:     os.Stat,
		now:      time.Now,
	}
	if l.open == nil {
		l.open = OpenArtifact
	}
	if l.metrics == nil {
		l.metrics = metrics.New(prometheus.NewRegistry(), nil)
	}
	if l.interval < 0 {
		l.interval = 0
	}
	return l
}

// Path returns the artifact path.
func (l *Loader) Path() string { return l.path }

// Current returns a live handle, re-checking the artifact when the check
// interval has elapsed or Invalidate was called. The caller must Release it.
// Failures are *CodeError with CodeRendererMissing or CodeRendererInvalid.
//
// Opening runs outside the state lock: while one caller loads a new artifact,
// others inside the check interval keep receiving the current handle.
func (l *Loader) Current(ctx context.Context) (*Handle, error) {
	if h := l.fresh(); h != nil {
		return h, nil
	}
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	l.mu.Lock()
	now := l.now()
	if l.freshLocked(now) {
		h := l.cur
		h.acquire()
		l.mu.Unlock()
		return h, nil
	}
	l.lastCheck = now
	l.dirty = false

	fi, err := l.stat(l.path)
	if err != nil {
		l.dropLocked()
		l.failMod, l.failErr = time.Time{}, nil
		l.mu.Unlock()
		l.metrics.RendererFailed.WithLabelValues(CodeRendererMissing).Inc()
		l.log.Warn().Str("path", l.path).Err(err).Msg("renderer artifact missing")
		return nil, &CodeError{Code: CodeRendererMissing, Err: err}
	}
	mod := fi.ModTime()
	if l.cur != nil && mod.Equal(l.cur.ModTime) {
		h := l.cur
		h.acquire()
		l.mu.Unlock()
		return h, nil
	}
	if l.failErr != nil && mod.Equal(l.failMod) {
		err := l.failErr
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	art, err := l.open(ctx, l.path)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.dropLocked()
		if _, ok := CodeOf(err); !ok {
			err = &CodeError{Code: CodeRendererInvalid, Err: err}
		}
		l.failMod, l.failErr = mod, err
		code, _ := CodeOf(err)
		l.metrics.RendererFailed.WithLabelValues(code).Inc()
		l.log.Error().Str("path", l.path).Time("mtime", mod).Err(err).Msg("renderer artifact failed to load")
		return nil, err
	}

	h := newHandle(art, mod, now, uuid.NewString())
	reload := l.loaded
	l.dropLocked()
	l.cur = h
	l.loaded = true
	l.failErr = nil
	info := art.Info()
	if reload {
		l.reloads++
		l.metrics.RendererReloads.Inc()
		if l.cache != nil {
			l.cache.Clear()
			l.metrics.CacheClears.Inc()
		}
		l.log.Info().Str("path", l.path).Str("name", info.Name).Str("version", info.Version).
			Str("generation", h.Generation).Msg("renderer reloaded, cache cleared")
	} else {
		l.log.Info().Str("path", l.path).Str("name", info.Name).Str("version", info.Version).
			Str("generation", h.Generation).Msg("renderer loaded")
	}
	h.acquire()
	return h, nil
}

// fresh returns the acquired current handle when no re-check is due.
func (l *Loader) fresh() *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.freshLocked(l.now()) {
		return nil
	}
	l.cur.acquire()
	return l.cur
}

func (l *Loader) freshLocked(now time.Time) bool {
	return l.cur != nil && !l.dirty && l.interval > 0 && now.Sub(l.lastCheck) < l.interval
}

// Invalidate forces the next Current call to re-stat the artifact.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
}

// Reloads reports how many successful reloads followed the first load.
func (l *Loader) Reloads() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reloads
}

// Close retires the current handle.
func (l *Loader) Close() {
	l.mu.Lock()
	l.dropLocked()
	l.mu.Unlock()
}

func (l *Loader) dropLocked() {
	if l.cur != nil {
		l.cur.retire()
		l.cur = nil
	}
}
