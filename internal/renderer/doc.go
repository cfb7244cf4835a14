// Package renderer loads the hot-swappable rendering artifact and exposes it
// as a Handle. It is structured into small files by concern:
//
//   - renderer.go: Renderer/PropsValidator/Artifact contracts and Handle reference counting.
//   - errors.go: CodeError and the well-known error codes.
//   - loader.go: Loader, the lazily re-checked "current artifact" slot.
//   - open.go: artifact format dispatch by file extension.
//   - bundle.go: template bundle artifacts (html/template + JSON Schema props).
//   - wasm.go: WebAssembly artifacts executed with wazero.
//   - watcher.go: optional fsnotify watcher that forces a re-check on change.
//
// A reload clears the render cache as an explicit side effect of swapping the
// handle. The previous handle stays usable by in-flight renders and is closed
// once the last of them releases it.
package renderer
