package renderer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Exports a renderer module must provide. "validate" is optional and has the
// same signature as "render".
const (
	wasmExportMemory   = "memory"
	wasmExportAlloc    = "alloc"
	wasmExportRender   = "render"
	wasmExportValidate = "validate"
)

// wasmCall is the JSON payload written into guest memory.
type wasmCall struct {
	Block string         `json:"block"`
	Props map[string]any `json:"props"`
}

// wasmResult is the JSON document a guest returns.
type wasmResult struct {
	OK    bool           `json:"ok"`
	HTML  string         `json:"html,omitempty"`
	Props map[string]any `json:"props,omitempty"`
	Error string         `json:"error,omitempty"`
}

// WasmArtifact runs a compiled WebAssembly renderer. Every call gets a fresh
// module instance so guests need not be reentrant.
type WasmArtifact struct {
	info        Info
	runtime     wazero.Runtime
	compiled    wazero.CompiledModule
	hasValidate bool
	seq         atomic.Uint64
}

// OpenWasm compiles the module at path and checks its exports.
func OpenWasm(ctx context.Context, path string) (*WasmArtifact, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, &CodeError{Code: CodeRendererMissing, Err: err}
	}
	return NewWasm(ctx, filepath.Base(path), body)
}

// NewWasm compiles body under the given name. A guest call stops when its
// context is cancelled.
func NewWasm(ctx context.Context, name string, body []byte) (*WasmArtifact, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, Errorf(CodeRendererInvalid, "wasi: %w", err)
	}
	cm, err := r.CompileModule(ctx, body)
	if err != nil {
		_ = r.Close(ctx)
		return nil, Errorf(CodeRendererInvalid, "compile %s: %w", name, err)
	}
	fns := cm.ExportedFunctions()
	for _, want := range []string{wasmExportAlloc, wasmExportRender} {
		if _, ok := fns[want]; !ok {
			_ = r.Close(ctx)
			return nil, Errorf(CodeRendererInvalid, "%s does not export %q", name, want)
		}
	}
	if _, ok := cm.ExportedMemories()[wasmExportMemory]; !ok {
		_ = r.Close(ctx)
		return nil, Errorf(CodeRendererInvalid, "%s does not export %q", name, wasmExportMemory)
	}
	_, hasValidate := fns[wasmExportValidate]
	sum := sha256.Sum256(body)
	return &WasmArtifact{
		info:        Info{Name: name, Version: hex.EncodeToString(sum[:])[:12]},
		runtime:     r,
		compiled:    cm,
		hasValidate: hasValidate,
	}, nil
}

// Info implements Artifact.
func (w *WasmArtifact) Info() Info { return w.info }

// Close releases the runtime and every compiled module.
func (w *WasmArtifact) Close() error {
	return w.runtime.Close(context.Background())
}

// Render implements Renderer.
func (w *WasmArtifact) Render(ctx context.Context, block string, props map[string]any) (string, error) {
	res, err := w.call(ctx, wasmExportRender, block, props)
	if err != nil {
		return "", err
	}
	return res.HTML, nil
}

// ValidateProps implements PropsValidator when the guest exports "validate".
// Without it props pass through unchanged.
func (w *WasmArtifact) ValidateProps(ctx context.Context, block string, props map[string]any) (map[string]any, error) {
	if !w.hasValidate {
		return props, nil
	}
	res, err := w.call(ctx, wasmExportValidate, block, props)
	if err != nil {
		return nil, err
	}
	if res.Props == nil {
		return props, nil
	}
	return res.Props, nil
}

func (w *WasmArtifact) call(ctx context.Context, fn, block string, props map[string]any) (*wasmResult, error) {
	in, err := json.Marshal(wasmCall{Block: block, Props: props})
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	cfg := wazero.NewModuleConfig().
		WithName(fmt.Sprintf("render-%d", w.seq.Add(1))).
		WithStartFunctions("_initialize")
	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	defer mod.Close(ctx)

	alloc := mod.ExportedFunction(wasmExportAlloc)
	out, err := alloc.Call(ctx, uint64(len(in)))
	if err != nil {
		return nil, fmt.Errorf("alloc: %w", err)
	}
	ptr := uint32(out[0])
	if !mod.Memory().Write(ptr, in) {
		return nil, fmt.Errorf("write %d bytes at %d out of range", len(in), ptr)
	}
	out, err = mod.ExportedFunction(fn).Call(ctx, uint64(ptr), uint64(len(in)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	resPtr, resLen := unpackPtrLen(out[0])
	raw, ok := mod.Memory().Read(resPtr, resLen)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at %d out of range", resLen, resPtr)
	}
	var res wasmResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if !res.OK {
		return nil, guestFailure(res.Error)
	}
	return &res, nil
}

// guestFailure maps a guest-reported code onto the codes a renderer may
// return. Anything else becomes render_error so guest text never reaches
// metric labels or responses.
func guestFailure(code string) error {
	if IsRenderCode(code) {
		return &CodeError{Code: code}
	}
	return Errorf(CodeRenderError, "guest reported %.64q", code)
}

// unpackPtrLen splits a guest i64 result into ptr (high 32 bits) and length.
func unpackPtrLen(v uint64) (uint32, uint32) {
	return uint32(v >> 32), uint32(v)
}
