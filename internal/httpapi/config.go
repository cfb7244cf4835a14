package httpapi

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"ssrelay/internal/engine"
	"ssrelay/internal/metrics"
	"ssrelay/internal/signature"
	"ssrelay/pkg/types"
)

const (
	defaultMaxBodyBytes  int64 = 1 << 20
	defaultBatchMaxItems       = 50
)

// Renderer is the render engine as seen by the handlers.
type Renderer interface {
	RenderBlock(ctx context.Context, block string, props map[string]any) engine.Result
	RenderBatch(ctx context.Context, items []json.RawMessage) []engine.Result
}

// Telemetry is the Forge collector as seen by the handlers.
type Telemetry interface {
	Accept(items []any) int
	Insights() types.Insights
}

// CORSOptions configures the optional CORS middleware.
type CORSOptions struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Config wires the HTTP layer. Forge nil disables the telemetry endpoints.
type Config struct {
	Verifier *signature.Verifier
	Engine   Renderer
	Source   engine.Source
	Forge    Telemetry
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger

	MaxBodyBytes  int64
	BatchMaxItems int
	CORS          CORSOptions
	// BaseContext is canceled on shutdown; renders observe it alongside the
	// request context. Defaults to context.Background.
	BaseContext context.Context
}
