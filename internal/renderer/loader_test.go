package renderer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"ssrelay/internal/metrics"
)

type fakeArtifact struct {
	name    string
	mu      sync.Mutex
	closed  bool
	renders int
}

func (a *fakeArtifact) Render(_ context.Context, block string, _ map[string]any) (string, error) {
	a.mu.Lock()
	a.renders++
	a.mu.Unlock()
	return "<p>" + a.name + ":" + block + "</p>", nil
}

func (a *fakeArtifact) Info() Info { return Info{Name: a.name, Version: "test"} }

func (a *fakeArtifact) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

func (a *fakeArtifact) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

type countingOpener struct {
	mu     sync.Mutex
	opens  int
	fail   error
	opened []*fakeArtifact
}

func (o *countingOpener) open(_ context.Context, path string) (Artifact, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.fail != nil {
		return nil, o.fail
	}
	a := &fakeArtifact{name: filepath.Base(path)}
	o.opened = append(o.opened, a)
	return a, nil
}

type clearCounter struct{ n int }

func (c *clearCounter) Clear() { c.n++ }

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func newTestLoader(t *testing.T, path string, op *countingOpener, cc *clearCounter) (*Loader, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry(), nil)
	l := NewLoader(LoaderConfig{Path: path, Open: op.open, Cache: cc, Metrics: m, Logger: zerolog.Nop()})
	return l, m
}

func TestLoaderLoadsOnceWhileUnchanged(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.yaml")
	base := time.Unix(1_700_000_000, 0)
	touch(t, p, base)
	op := &countingOpener{}
	cc := &clearCounter{}
	l, m := newTestLoader(t, p, op, cc)

	for i := 0; i < 3; i++ {
		h, err := l.Current(context.Background())
		if err != nil {
			t.Fatalf("current: %v", err)
		}
		h.Release()
	}
	if op.opens != 1 {
		t.Fatalf("opens=%d want 1", op.opens)
	}
	if l.Reloads() != 0 || cc.n != 0 {
		t.Fatalf("first load must not count as reload: reloads=%d clears=%d", l.Reloads(), cc.n)
	}
	if v := testutil.ToFloat64(m.RendererReloads); v != 0 {
		t.Fatalf("reload metric=%v", v)
	}
}

func TestLoaderReloadClearsCacheAndRetiresOld(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.yaml")
	base := time.Unix(1_700_000_000, 0)
	touch(t, p, base)
	op := &countingOpener{}
	cc := &clearCounter{}
	l, m := newTestLoader(t, p, op, cc)

	h1, err := l.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	touch(t, p, base.Add(time.Second))
	h2, err := l.Current(context.Background())
	if err != nil {
		t.Fatalf("current after touch: %v", err)
	}
	if h1 == h2 || h1.Generation == h2.Generation {
		t.Fatalf("expected a new handle")
	}
	if l.Reloads() != 1 || cc.n != 1 {
		t.Fatalf("reloads=%d clears=%d", l.Reloads(), cc.n)
	}
	if v := testutil.ToFloat64(m.RendererReloads); v != 1 {
		t.Fatalf("reload metric=%v", v)
	}
	if v := testutil.ToFloat64(m.CacheClears); v != 1 {
		t.Fatalf("clear metric=%v", v)
	}
	// h1 is still held by an in-flight render.
	if op.opened[0].isClosed() {
		t.Fatalf("old artifact closed while in use")
	}
	h1.Release()
	if !op.opened[0].isClosed() || !h1.Closed() {
		t.Fatalf("old artifact should close after last release")
	}
	h2.Release()
	if op.opened[1].isClosed() {
		t.Fatalf("current artifact must stay open")
	}
	l.Close()
	if !op.opened[1].isClosed() {
		t.Fatalf("loader close should close current artifact")
	}
}

func TestLoaderMissingArtifact(t *testing.T) {
	p := filepath.Join(t.TempDir(), "absent.yaml")
	op := &countingOpener{}
	l, m := newTestLoader(t, p, op, &clearCounter{})
	_, err := l.Current(context.Background())
	if !IsCode(err, CodeRendererMissing) {
		t.Fatalf("want renderer_missing, got %v", err)
	}
	if op.opens != 0 {
		t.Fatalf("opener should not run for a missing file")
	}
	if v := testutil.ToFloat64(m.RendererFailed.WithLabelValues(CodeRendererMissing)); v != 1 {
		t.Fatalf("failure metric=%v", v)
	}
}

func TestLoaderMissingAfterLoadDropsHandle(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.yaml")
	touch(t, p, time.Unix(1_700_000_000, 0))
	op := &countingOpener{}
	l, _ := newTestLoader(t, p, op, &clearCounter{})
	h, err := l.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	h.Release()
	if err := os.Remove(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := l.Current(context.Background()); !IsCode(err, CodeRendererMissing) {
		t.Fatalf("want renderer_missing, got %v", err)
	}
	if !op.opened[0].isClosed() {
		t.Fatalf("dropped artifact should be closed")
	}
	touch(t, p, time.Unix(1_700_000_100, 0))
	h, err = l.Current(context.Background())
	if err != nil {
		t.Fatalf("current after restore: %v", err)
	}
	h.Release()
	if l.Reloads() != 1 {
		t.Fatalf("restore after missing counts as reload; got %d", l.Reloads())
	}
}

func TestLoaderInvalidIsMemoizedPerModTime(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.yaml")
	base := time.Unix(1_700_000_000, 0)
	touch(t, p, base)
	op := &countingOpener{fail: errors.New("boom")}
	l, _ := newTestLoader(t, p, op, &clearCounter{})

	for i := 0; i < 2; i++ {
		if _, err := l.Current(context.Background()); !IsCode(err, CodeRendererInvalid) {
			t.Fatalf("want renderer_invalid, got %v", err)
		}
	}
	if op.opens != 1 {
		t.Fatalf("failed load should be memoized; opens=%d", op.opens)
	}
	op.fail = nil
	touch(t, p, base.Add(time.Second))
	h, err := l.Current(context.Background())
	if err != nil {
		t.Fatalf("current after fix: %v", err)
	}
	h.Release()
	if op.opens != 2 {
		t.Fatalf("opens=%d want 2", op.opens)
	}
}

func TestLoaderCheckIntervalAndInvalidate(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.yaml")
	base := time.Unix(1_700_000_000, 0)
	touch(t, p, base)
	op := &countingOpener{}
	cc := &clearCounter{}
	m := metrics.New(prometheus.NewRegistry(), nil)
	l := NewLoader(LoaderConfig{Path: p, CheckInterval: time.Minute, Open: op.open, Cache: cc, Metrics: m, Logger: zerolog.Nop()})
	now := time.Unix(1_800_000_000, 0)
	l.now = func() time.Time { return now }

	h, _ := l.Current(context.Background())
	h.Release()
	touch(t, p, base.Add(time.Second))
	h, _ = l.Current(context.Background())
	h.Release()
	if op.opens != 1 {
		t.Fatalf("change inside interval should not be seen yet; opens=%d", op.opens)
	}
	l.Invalidate()
	h, _ = l.Current(context.Background())
	h.Release()
	if op.opens != 2 || l.Reloads() != 1 {
		t.Fatalf("invalidate should force a check; opens=%d reloads=%d", op.opens, l.Reloads())
	}
	touch(t, p, base.Add(2*time.Second))
	now = now.Add(2 * time.Minute)
	h, _ = l.Current(context.Background())
	h.Release()
	if op.opens != 3 {
		t.Fatalf("elapsed interval should re-stat; opens=%d", op.opens)
	}
}

func TestLoaderForgetsFailureWhenArtifactDisappears(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.yaml")
	base := time.Unix(1_700_000_000, 0)
	touch(t, p, base)
	op := &countingOpener{fail: errors.New("boom")}
	l, _ := newTestLoader(t, p, op, &clearCounter{})

	if _, err := l.Current(context.Background()); !IsCode(err, CodeRendererInvalid) {
		t.Fatalf("want renderer_invalid, got %v", err)
	}
	if err := os.Remove(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := l.Current(context.Background()); !IsCode(err, CodeRendererMissing) {
		t.Fatalf("want renderer_missing, got %v", err)
	}
	// restored with the very same mtime, as cp -p would do
	op.fail = nil
	touch(t, p, base)
	h, err := l.Current(context.Background())
	if err != nil {
		t.Fatalf("current after restore: %v", err)
	}
	h.Release()
	if op.opens != 2 {
		t.Fatalf("restored artifact should be opened again; opens=%d", op.opens)
	}
}

func TestLoaderServesCurrentHandleWhileReloading(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.yaml")
	base := time.Unix(1_700_000_000, 0)
	touch(t, p, base)

	entered := make(chan struct{})
	gate := make(chan struct{})
	var opens atomic.Int32
	open := func(_ context.Context, path string) (Artifact, error) {
		n := opens.Add(1)
		if n == 2 {
			close(entered)
			<-gate
		}
		return &fakeArtifact{name: fmt.Sprintf("gen%d", n)}, nil
	}
	m := metrics.New(prometheus.NewRegistry(), nil)
	l := NewLoader(LoaderConfig{Path: p, CheckInterval: time.Minute, Open: open, Metrics: m, Logger: zerolog.Nop()})
	defer l.Close()

	h1, err := l.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	h1.Release()

	touch(t, p, base.Add(time.Second))
	l.Invalidate()
	reloaded := make(chan *Handle, 1)
	go func() {
		h, err := l.Current(context.Background())
		if err != nil {
			reloaded <- nil
			return
		}
		reloaded <- h
	}()
	<-entered

	got := make(chan *Handle, 1)
	go func() {
		h, _ := l.Current(context.Background())
		got <- h
	}()
	select {
	case h := <-got:
		if h != h1 {
			close(gate)
			t.Fatalf("want the current handle while the reload is in flight")
		}
		h.Release()
	case <-time.After(2 * time.Second):
		close(gate)
		t.Fatalf("Current blocked behind an in-flight open")
	}

	close(gate)
	h2 := <-reloaded
	if h2 == nil || h2 == h1 {
		t.Fatalf("expected the reloaded handle, got %v", h2)
	}
	h2.Release()
	if l.Reloads() != 1 {
		t.Fatalf("reloads=%d want 1", l.Reloads())
	}
}
