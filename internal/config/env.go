package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays SSR_* variables onto cfg. Unset variables leave the
// field alone; malformed values are reported together.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := parseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("SSR_SECRET", &c.Secret)
	str("SSR_ADDR", &c.Addr)
	if v, ok := lookup("SSR_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SSR_MAX_BODY_BYTES: %w", err))
		} else {
			c.MaxBodyBytes = n
		}
	}
	num("SSR_MAX_SKEW_SECONDS", &c.MaxSkewSeconds)
	flag("SSR_CACHE_ENABLED", &c.Cache.Enabled)
	num("SSR_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	num("SSR_CACHE_TTL_SECONDS", &c.Cache.TTLSeconds)
	flag("SSR_CACHE_SINGLE_FLIGHT", &c.Cache.SingleFlight)
	str("SSR_RENDERER_PATH", &c.Renderer.Path)
	num("SSR_RENDERER_CHECK_INTERVAL_MS", &c.Renderer.CheckIntervalMs)
	flag("SSR_RENDERER_WATCH", &c.Renderer.Watch)
	flag("SSR_RENDERER_MINIFY", &c.Renderer.Minify)
	flag("SSR_FORGE_ENABLED", &c.Forge.Enabled)
	num("SSR_FORGE_MAX_BATCH", &c.Forge.MaxBatch)
	num("SSR_FORGE_TOP_N", &c.Forge.TopN)
	num("SSR_BATCH_MAX_ITEMS", &c.Batch.MaxItems)
	str("SSR_LOG_LEVEL", &c.Log.Level)
	str("SSR_LOG_FORMAT", &c.Log.Format)
	return errors.Join(errs...)
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// Validate reports configuration the relay cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Secret) == "" {
		errs = append(errs, errors.New("secret is required (SSR_SECRET)"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes))
	}
	if c.MaxSkewSeconds <= 0 {
		errs = append(errs, fmt.Errorf("max_skew_seconds must be positive, got %d", c.MaxSkewSeconds))
	}
	if c.Cache.MaxEntries < 0 || c.Cache.TTLSeconds < 0 {
		errs = append(errs, errors.New("cache sizes must not be negative"))
	}
	if c.Renderer.Path == "" {
		errs = append(errs, errors.New("renderer.path must not be empty"))
	}
	if c.Renderer.CheckIntervalMs < 0 {
		errs = append(errs, errors.New("renderer.check_interval_ms must not be negative"))
	}
	if c.Forge.MaxBatch <= 0 || c.Forge.TopN <= 0 {
		errs = append(errs, errors.New("forge.max_batch and forge.top_n must be positive"))
	}
	if c.Batch.MaxItems <= 0 {
		errs = append(errs, errors.New("batch.max_items must be positive"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// CacheActive reports whether rendering should use the cache at all.
func (c Config) CacheActive() bool {
	return c.Cache.Enabled && c.Cache.MaxEntries > 0
}
