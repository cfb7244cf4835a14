package renderer

import (
	"errors"
	"fmt"
)

// Well-known error codes.
const (
	CodeUnsupportedBlock = "unsupported_block"
	CodeInvalidProps     = "invalid_props"
	CodeRendererMissing  = "renderer_missing"
	CodeRendererInvalid  = "renderer_invalid"
	CodeRenderError      = "render_error"
)

// IsRenderCode reports whether code is one a Renderer or PropsValidator may
// return as an explicit failure.
func IsRenderCode(code string) bool {
	switch code {
	case CodeUnsupportedBlock, CodeInvalidProps, CodeRenderError:
		return true
	}
	return false
}

// CodeError is an explicit failure result carrying a stable code. Any other
// error returned by a Renderer is treated as unexpected.
type CodeError struct {
	Code string
	Err  error
}

func (e *CodeError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *CodeError) Unwrap() error { return e.Err }

// Errorf builds a CodeError whose cause is formatted from format and args.
func Errorf(code, format string, args ...any) error {
	return &CodeError{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the first CodeError in err's chain.
func CodeOf(err error) (string, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// IsCode reports whether err carries code.
func IsCode(err error, code string) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
