package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ssrelay/internal/engine"
	"ssrelay/internal/metrics"
	"ssrelay/internal/renderer"
	"ssrelay/internal/signature"
	"ssrelay/pkg/types"
)

// Server is the relay's HTTP surface.
type Server struct {
	verifier *signature.Verifier
	engine   Renderer
	source   engine.Source
	forge    Telemetry
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	maxBody  int64
	maxBatch int
	baseCtx  context.Context
	router   chi.Router
}

// New builds the router from cfg.
func New(cfg Config) *Server {
	s := &Server{
		verifier: cfg.Verifier,
		engine:   cfg.Engine,
		source:   cfg.Source,
		forge:    cfg.Forge,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		log:      cfg.Logger,
		maxBody:  cfg.MaxBodyBytes,
		maxBatch: cfg.BatchMaxItems,
		baseCtx:  cfg.BaseContext,
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	if s.maxBatch <= 0 {
		s.maxBatch = defaultBatchMaxItems
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		s.metrics = metrics.New(reg, nil)
		if s.gatherer == nil {
			s.gatherer = reg
		}
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	s.router = r
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	r.Use(middleware.Compress(5))
	if cfg.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: orDefault(cfg.CORS.AllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			AllowedHeaders: orDefault(cfg.CORS.AllowedHeaders, []string{"Content-Type", signature.HeaderTimestamp, signature.HeaderSignature}),
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSignature)
		r.Post("/render", s.handleRender)
		r.Post("/render-batch", s.handleRenderBatch)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireForge)
		r.Use(s.requireSignature)
		r.Post("/forge/events", s.handleForgeEvents)
		r.Post("/forge/insights", s.handleForgeInsights)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	MountSwagger(r)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, codeNotFound)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// decodeObject decodes a JSON object body into its raw fields.
func decodeObject(r *http.Request) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// handleRender renders one block.
//
// @Summary      Render a block
// @Description  Renders a block with the current renderer artifact. Requires X-Relay-Timestamp and X-Relay-Signature.
// @Tags         render
// @Accept       json
// @Produce      json
// @Param        request  body      types.RenderRequest  true  "Render request"
// @Success      200      {object}  types.RenderResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      401      {object}  types.ErrorResponse
// @Failure      413      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ErrorResponse
// @Router       /render [post]
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeObject(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, codeInvalidJSON)
		return
	}
	var block string
	if raw, ok := fields["block"]; !ok || json.Unmarshal(raw, &block) != nil || block == "" {
		writeJSONError(w, http.StatusBadRequest, engine.CodeMissingBlock)
		return
	}
	var props map[string]any
	if raw, ok := fields["props"]; !ok || json.Unmarshal(raw, &props) != nil || props == nil {
		writeJSONError(w, http.StatusBadRequest, engine.CodeMissingProps)
		return
	}

	ctx, cancel := s.renderContext(r.Context())
	defer cancel()
	res := s.engine.RenderBlock(ctx, block, props)
	if !res.OK {
		writeJSONError(w, statusForCode(res.Error), res.Error)
		return
	}
	if res.CacheHit {
		w.Header().Set("X-Render-Cache", "hit")
	} else {
		w.Header().Set("X-Render-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, types.RenderResponse{OK: true, HTML: res.HTML})
}

// handleRenderBatch renders each item independently.
//
// @Summary      Render several blocks
// @Description  Malformed items yield {ok:false,error:"invalid_item"} in place without failing the batch.
// @Tags         render
// @Accept       json
// @Produce      json
// @Param        request  body      types.BatchRenderRequest  true  "Batch request"
// @Success      200      {object}  types.BatchRenderResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      401      {object}  types.ErrorResponse
// @Router       /render-batch [post]
func (s *Server) handleRenderBatch(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeObject(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, codeInvalidJSON)
		return
	}
	var items []json.RawMessage
	if raw, ok := fields["blocks"]; !ok || json.Unmarshal(raw, &items) != nil || items == nil {
		writeJSONError(w, http.StatusBadRequest, codeMissingBlocks)
		return
	}
	if len(items) > s.maxBatch {
		writeJSONError(w, http.StatusBadRequest, codeBatchTooLarge)
		return
	}

	ctx, cancel := s.renderContext(r.Context())
	defer cancel()
	results := s.engine.RenderBatch(ctx, items)
	out := types.BatchRenderResponse{OK: true, Results: make([]types.BatchResult, len(results))}
	for i, res := range results {
		out.Results[i] = types.BatchResult{OK: res.OK, HTML: res.HTML, Error: res.Error}
	}
	writeJSON(w, http.StatusOK, out)
}

// requireForge answers 404 when telemetry is disabled.
func (s *Server) requireForge(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.forge == nil {
			writeJSONError(w, http.StatusNotFound, codeNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleForgeEvents ingests UX events.
//
// @Summary      Ingest telemetry events
// @Tags         forge
// @Accept       json
// @Produce      json
// @Param        request  body      types.ForgeEventsRequest  true  "Events"
// @Success      202      {object}  types.ForgeEventsResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      401      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Router       /forge/events [post]
func (s *Server) handleForgeEvents(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeObject(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, codeInvalidJSON)
		return
	}
	var events []any
	if raw, ok := fields["events"]; !ok || json.Unmarshal(raw, &events) != nil || events == nil {
		writeJSONError(w, http.StatusBadRequest, codeInvalidEvents)
		return
	}
	n := s.forge.Accept(events)
	writeJSON(w, http.StatusAccepted, types.ForgeEventsResponse{OK: true, Received: n})
}

// handleForgeInsights returns the aggregate snapshot.
//
// @Summary      Telemetry insights
// @Tags         forge
// @Produce      json
// @Success      200  {object}  types.Insights
// @Failure      401  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /forge/insights [post]
func (s *Server) handleForgeInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.forge.Insights())
}

// handleHealth reports whether the renderer artifact loads.
//
// @Summary      Renderer health
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Failure      503  {object}  types.HealthResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.source.Current(r.Context())
	if err != nil {
		code, ok := renderer.CodeOf(err)
		if !ok {
			code = renderer.CodeRendererInvalid
		}
		s.log.Warn().Err(err).Str("code", code).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, types.HealthResponse{OK: false, Error: code})
		return
	}
	defer h.Release()
	info := h.Artifact.Info()
	writeJSON(w, http.StatusOK, types.HealthResponse{OK: true, Name: info.Name, Version: info.Version})
}
