package renderer

import (
	"context"
	"sync"
	"time"
)

// Renderer turns a block and its props into markup. Implementations must be
// safe for concurrent use. An explicit failure is returned as *CodeError.
type Renderer interface {
	Render(ctx context.Context, block string, props map[string]any) (string, error)
}

// PropsValidator optionally checks and normalizes props before rendering.
// It follows the same explicit-result protocol as Renderer.
type PropsValidator interface {
	ValidateProps(ctx context.Context, block string, props map[string]any) (map[string]any, error)
}

// Info describes a loaded artifact.
type Info struct {
	Name    string
	Version string
}

// Artifact is a loaded renderer module.
type Artifact interface {
	Renderer
	Info() Info
	Close() error
}

// Handle is a loaded artifact tagged with the modification time it was loaded
// from. Handles returned by Loader.Current must be released.
type Handle struct {
	Artifact   Artifact
	Validator  PropsValidator // nil when the artifact has none
	ModTime    time.Time
	LoadedAt   time.Time
	Generation string

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func newHandle(a Artifact, modTime, loadedAt time.Time, generation string) *Handle {
	h := &Handle{Artifact: a, ModTime: modTime, LoadedAt: loadedAt, Generation: generation}
	if v, ok := a.(PropsValidator); ok {
		h.Validator = v
	}
	return h
}

func (h *Handle) acquire() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

// Release gives back a handle obtained from Loader.Current.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.refs > 0 {
		h.refs--
	}
	closeNow := h.refs == 0 && h.retired && !h.closed
	if closeNow {
		h.closed = true
	}
	h.mu.Unlock()
	if closeNow {
		_ = h.Artifact.Close()
	}
}

// retire marks the handle as replaced; it is closed when no render holds it.
func (h *Handle) retire() {
	h.mu.Lock()
	h.retired = true
	closeNow := h.refs == 0 && !h.closed
	if closeNow {
		h.closed = true
	}
	h.mu.Unlock()
	if closeNow {
		_ = h.Artifact.Close()
	}
}

// Retired reports whether the loader has replaced or dropped the handle.
func (h *Handle) Retired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retired
}

// Closed reports whether the underlying artifact has been closed.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
