package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ssrelay/internal/cache"
	"ssrelay/internal/common/fsutil"
	"ssrelay/internal/config"
	"ssrelay/internal/engine"
	"ssrelay/internal/forge"
	"ssrelay/internal/httpapi"
	"ssrelay/internal/metrics"
	"ssrelay/internal/renderer"
	"ssrelay/internal/signature"
	"ssrelay/internal/version"
)

type serveFlags struct {
	configPath  string
	addr        string
	rendererP   string
	corsOrigins string
	logLevel    string
	logFormat   string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		Example: "  SSR_SECRET=s3cret ssrelay serve --renderer ./blocks.yaml\n" +
			"  ssrelay serve --config ./ssrelay.yaml --addr :9000",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f, os.LookupEnv)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	cmd.Flags().StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8787 (overrides SSR_ADDR)")
	cmd.Flags().StringVar(&f.rendererP, "renderer", "", "Renderer artifact path (overrides SSR_RENDERER_PATH)")
	cmd.Flags().StringVar(&f.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS when set")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: off|error|warn|info|debug")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format: json|console")
	return cmd
}

// resolveConfig layers defaults, the optional file, SSR_* variables and
// explicitly set flags, in that order, then validates the result.
func resolveConfig(cmd *cobra.Command, f serveFlags, lookup config.LookupFunc) (config.Config, error) {
	cfg := config.Defaults()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = f.addr
	}
	if flags.Changed("renderer") {
		cfg.Renderer.Path = f.rendererP
	}
	if flags.Changed("cors-origins") {
		cfg.CORSOrigins = splitCSV(f.corsOrigins)
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app is the wired relay.
type app struct {
	handler http.Handler
	loader  *renderer.Loader
	watcher *renderer.Watcher
	log     zerolog.Logger
}

// buildApp constructs every component from cfg. The caller owns the
// returned app's Close.
func buildApp(ctx context.Context, cfg config.Config, log zerolog.Logger, reg *prometheus.Registry) (*app, error) {
	path, err := fsutil.ResolvePath(cfg.Renderer.Path)
	if err != nil {
		return nil, fmt.Errorf("renderer path: %w", err)
	}
	if !fsutil.PathExists(path) {
		log.Warn().Str("path", path).Msg("renderer artifact not found yet; /health reports 503 until it appears")
	}

	var rc *cache.RenderCache
	var stats metrics.CacheStats
	if cfg.CacheActive() {
		rc, err = cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		stats = rc
	}
	m := metrics.New(reg, stats)

	lcfg := renderer.LoaderConfig{
		Path:          path,
		CheckInterval: time.Duration(cfg.Renderer.CheckIntervalMs) * time.Millisecond,
		Metrics:       m,
		Logger:        log.With().Str("component", "renderer").Logger(),
	}
	ecfg := engine.Config{
		Metrics:      m,
		Logger:       log.With().Str("component", "engine").Logger(),
		Minify:       cfg.Renderer.Minify,
		SingleFlight: cfg.Cache.SingleFlight,
	}
	if rc != nil {
		lcfg.Cache = rc
		ecfg.Cache = rc
	}
	loader := renderer.NewLoader(lcfg)
	ecfg.Source = loader
	a := &app{loader: loader, log: log}

	if cfg.Renderer.Watch {
		w, err := renderer.NewWatcher(path, loader, lcfg.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("renderer watch disabled")
		} else {
			a.watcher = w
			go w.Run(ctx)
		}
	}

	hcfg := httpapi.Config{
		Verifier:      signature.NewVerifier(cfg.Secret, time.Duration(cfg.MaxSkewSeconds)*time.Second),
		Engine:        engine.New(ecfg),
		Source:        loader,
		Metrics:       m,
		Gatherer:      reg,
		Logger:        log.With().Str("component", "http").Logger(),
		MaxBodyBytes:  cfg.MaxBodyBytes,
		BatchMaxItems: cfg.Batch.MaxItems,
		BaseContext:   ctx,
		CORS:          httpapi.CORSOptions{Enabled: len(cfg.CORSOrigins) > 0, AllowedOrigins: cfg.CORSOrigins},
	}
	if cfg.Forge.Enabled {
		hcfg.Forge = forge.New(forge.Config{
			MaxBatch: cfg.Forge.MaxBatch,
			TopN:     cfg.Forge.TopN,
			Metrics:  m,
			Logger:   log.With().Str("component", "forge").Logger(),
		})
	}
	a.handler = httpapi.New(hcfg)
	return a, nil
}

func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.loader.Close()
}

func serve(ctx context.Context, cfg config.Config) error {
	log := httpapi.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := buildApp(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Warm the renderer so a broken artifact shows up in the boot log.
	if h, err := a.loader.Current(ctx); err != nil {
		log.Warn().Err(err).Msg("renderer not loaded at startup")
	} else {
		h.Release()
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("renderer", a.loader.Path()).Str("version", version.Version).
			Bool("cache", cfg.CacheActive()).Bool("forge", cfg.Forge.Enabled).Msg("ssrelay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown (Ctrl+C / SIGTERM)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
		return err
	}
	log.Info().Msg("ssrelay stopped")
	return nil
}
