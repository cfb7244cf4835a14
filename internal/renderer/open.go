package renderer

import (
	"context"
	"path/filepath"
	"strings"
)

// OpenArtifact loads path as a template bundle or a WebAssembly module,
// chosen by extension.
func OpenArtifact(ctx context.Context, path string) (Artifact, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wasm":
		w, err := OpenWasm(ctx, path)
		if err != nil {
			return nil, err
		}
		return w, nil
	case ".yaml", ".yml", ".json", ".toml":
		b, err := OpenBundle(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, Errorf(CodeRendererInvalid, "unsupported artifact extension %q", ext)
	}
}
