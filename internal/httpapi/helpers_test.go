package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"ssrelay/internal/cache"
	"ssrelay/internal/engine"
	"ssrelay/internal/forge"
	"ssrelay/internal/metrics"
	"ssrelay/internal/renderer"
	"ssrelay/internal/signature"
)

const testSecret = "test-secret"

const testBundle = `name: test-blocks
version: "0.1.0"
blocks:
  hero:
    template: "<h1>{{.heading}}</h1>"
    schema:
      type: object
      required: [heading]
      properties:
        heading: {type: string}
`

type harness struct {
	srv     *Server
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	cache   *cache.RenderCache
	path    string
}

type harnessOpts struct {
	noForge  bool
	maxBody  int64
	maxBatch int
	missing  bool
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blocks.yaml")
	if !o.missing {
		if err := os.WriteFile(p, []byte(testBundle), 0o644); err != nil {
			t.Fatalf("write bundle: %v", err)
		}
	}
	c, err := cache.New(64, 0)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, c)
	log := zerolog.Nop()
	loader := renderer.NewLoader(renderer.LoaderConfig{Path: p, Cache: c, Metrics: m, Logger: log})
	t.Cleanup(loader.Close)
	eng := engine.New(engine.Config{Source: loader, Cache: c, Metrics: m, Logger: log})
	cfg := Config{
		Verifier:      signature.NewVerifier(testSecret, 0),
		Engine:        eng,
		Source:        loader,
		Metrics:       m,
		Gatherer:      reg,
		Logger:        log,
		MaxBodyBytes:  o.maxBody,
		BatchMaxItems: o.maxBatch,
	}
	if !o.noForge {
		cfg.Forge = forge.New(forge.Config{Metrics: m, Logger: log})
	}
	return &harness{srv: New(cfg), metrics: m, reg: reg, cache: c, path: p}
}

func signedRequest(t *testing.T, path string, body []byte) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(signature.HeaderSignature, signature.Sign(testSecret, ts, body))
	return req
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("json: %v body=%s", err, w.Body.String())
	}
}
