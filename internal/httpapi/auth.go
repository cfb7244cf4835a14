package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"ssrelay/internal/signature"
)

// readBody reads at most s.maxBody bytes. It reports false after writing a
// 413 when the limit is exceeded.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge)
			return nil, false
		}
		writeJSONError(w, http.StatusBadRequest, codeInvalidJSON)
		return nil, false
	}
	return body, true
}

// requireSignature authenticates the raw body before any handler parses it.
// The body is buffered and replaced so handlers can read it again.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		err := s.verifier.Verify(r.Header.Get(signature.HeaderTimestamp), r.Header.Get(signature.HeaderSignature), body)
		if err != nil {
			code := "unauthorized"
			var se *signature.Error
			if errors.As(err, &se) {
				code = se.Code
			}
			s.metrics.AuthFailure(code)
			s.log.Debug().Str("route", r.URL.Path).Str("reason", code).Msg("signature rejected")
			writeJSONError(w, http.StatusUnauthorized, code)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}
