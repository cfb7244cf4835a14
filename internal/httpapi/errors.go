package httpapi

import (
	"encoding/json"
	"net/http"

	"ssrelay/internal/engine"
	"ssrelay/pkg/types"
)

// Request-level error codes.
const (
	codeInvalidJSON     = "invalid_json"
	codePayloadTooLarge = "payload_too_large"
	codeMissingBlocks   = "missing_blocks"
	codeBatchTooLarge   = "batch_too_large"
	codeInvalidEvents   = "invalid_events"
	codeNotFound        = "not_found"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, types.ErrorResponse{OK: false, Error: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	// rendered markup goes out verbatim
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// statusForCode maps a render result code to its HTTP status.
func statusForCode(code string) int {
	if engine.IsCallerError(code) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
