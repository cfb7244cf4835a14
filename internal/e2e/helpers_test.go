package e2e

import (
	"bytes"
	"context"
	"io"
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
	"ssrelay/internal/httpapi"
	"ssrelay/internal/metrics"
	"ssrelay/internal/renderer"
	"ssrelay/internal/signature"
)

const secret = "e2e-secret"

type relay struct {
	srv    *httptest.Server
	path   string
	loader *renderer.Loader
}

// writeArtifact writes a bundle with one hero block and pins its mtime.
func writeArtifact(t *testing.T, path, heroTemplate string, mod time.Time) {
	t.Helper()
	src := "name: e2e\nversion: \"" + mod.Format("150405") + "\"\nblocks:\n  hero:\n    template: \"" + heroTemplate + "\"\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// newRelay wires the full stack the way serve does and exposes it over TCP.
func newRelay(t *testing.T) *relay {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blocks.yaml")
	writeArtifact(t, p, "<h1>{{.heading}}</h1>", time.Unix(1_700_000_000, 0))

	c, err := cache.New(128, time.Minute)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, c)
	log := zerolog.Nop()
	loader := renderer.NewLoader(renderer.LoaderConfig{Path: p, Cache: c, Metrics: m, Logger: log})
	t.Cleanup(loader.Close)
	h := httpapi.New(httpapi.Config{
		Verifier: signature.NewVerifier(secret, 0),
		Engine:   engine.New(engine.Config{Source: loader, Cache: c, Metrics: m, Logger: log}),
		Source:   loader,
		Forge:    forge.New(forge.Config{Metrics: m, Logger: log}),
		Metrics:  m,
		Gatherer: reg,
		Logger:   log,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &relay{srv: srv, path: p, loader: loader}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostSigned(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(signature.HeaderSignature, signature.Sign(secret, ts, payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
