package e2e

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"ssrelay/pkg/types"
)

func TestE2E_RenderCacheAndHotReload(t *testing.T) {
	r := newRelay(t)
	payload := []byte(`{"block":"hero","props":{"heading":"Hi"}}`)

	resp, body := httpPostSigned(t, r.srv.URL+"/render", payload)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Render-Cache") != "miss" {
		t.Fatalf("first render: status=%d cache=%q body=%s", resp.StatusCode, resp.Header.Get("X-Render-Cache"), body)
	}
	var out types.RenderResponse
	if err := json.Unmarshal(body, &out); err != nil || out.HTML != "<h1>Hi</h1>" {
		t.Fatalf("first render body=%s err=%v", body, err)
	}

	resp, _ = httpPostSigned(t, r.srv.URL+"/render", payload)
	if resp.Header.Get("X-Render-Cache") != "hit" {
		t.Fatalf("repeat should hit cache")
	}

	writeArtifact(t, r.path, "<h2 class=hero>{{.heading}}</h2>", time.Unix(1_700_000_100, 0))
	resp, body = httpPostSigned(t, r.srv.URL+"/render", payload)
	if resp.Header.Get("X-Render-Cache") != "miss" {
		t.Fatalf("stale cache served after reload: %s", body)
	}
	if err := json.Unmarshal(body, &out); err != nil || !strings.HasPrefix(out.HTML, "<h2") {
		t.Fatalf("reloaded render body=%s err=%v", body, err)
	}
	if r.loader.Reloads() != 1 {
		t.Fatalf("reloads=%d", r.loader.Reloads())
	}

	_, metricsBody := httpGet(t, r.srv.URL+"/metrics")
	for _, want := range []string{"ssr_renderer_reloads_total 1", "ssr_cache_clears_total 1", `ssr_cache_hits_total{block="hero"} 1`} {
		if !strings.Contains(string(metricsBody), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestE2E_HealthTracksArtifact(t *testing.T) {
	r := newRelay(t)
	resp, body := httpGet(t, r.srv.URL+"/health")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"name":"e2e"`) {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
	writeArtifact(t, r.path, "{{.broken", time.Unix(1_700_000_200, 0))
	resp, body = httpGet(t, r.srv.URL+"/health")
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "renderer_invalid") {
		t.Fatalf("broken artifact health: %d %s", resp.StatusCode, body)
	}
}

func TestE2E_ForgeRoundTrip(t *testing.T) {
	r := newRelay(t)
	events := []byte(`{"events":[{"type":"click","target":"#cta","page":"/"},{"type":"click","target":"#cta","page":"/"},{"type":"bogus"}]}`)
	resp, body := httpPostSigned(t, r.srv.URL+"/forge/events", events)
	if resp.StatusCode != http.StatusAccepted || !strings.Contains(string(body), `"received":2`) {
		t.Fatalf("events: %d %s", resp.StatusCode, body)
	}
	resp, body = httpPostSigned(t, r.srv.URL+"/forge/insights", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("insights: %d", resp.StatusCode)
	}
	var ins types.Insights
	if err := json.Unmarshal(body, &ins); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(ins.TopTargets) != 1 || ins.TopTargets[0].Key != "#cta" || ins.TopTargets[0].Count != 2 {
		t.Fatalf("targets=%+v", ins.TopTargets)
	}
}

func TestE2E_UnsignedRejected(t *testing.T) {
	r := newRelay(t)
	resp, err := http.Post(r.srv.URL+"/render", "application/json", strings.NewReader(`{"block":"hero","props":{}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
