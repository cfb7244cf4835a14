package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the relay. Load starts from Defaults,
// so keys absent from a file keep their default value.
type Config struct {
	Addr           string   `json:"addr" yaml:"addr" toml:"addr"`
	Secret         string   `json:"secret" yaml:"secret" toml:"secret"`
	MaxBodyBytes   int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	MaxSkewSeconds int      `json:"max_skew_seconds" yaml:"max_skew_seconds" toml:"max_skew_seconds"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	Cache    CacheConfig    `json:"cache" yaml:"cache" toml:"cache"`
	Renderer RendererConfig `json:"renderer" yaml:"renderer" toml:"renderer"`
	Forge    ForgeConfig    `json:"forge" yaml:"forge" toml:"forge"`
	Batch    BatchConfig    `json:"batch" yaml:"batch" toml:"batch"`
	Log      LogConfig      `json:"log" yaml:"log" toml:"log"`
}

type CacheConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxEntries   int  `json:"max_entries" yaml:"max_entries" toml:"max_entries"`
	TTLSeconds   int  `json:"ttl_seconds" yaml:"ttl_seconds" toml:"ttl_seconds"`
	SingleFlight bool `json:"single_flight" yaml:"single_flight" toml:"single_flight"`
}

type RendererConfig struct {
	Path            string `json:"path" yaml:"path" toml:"path"`
	CheckIntervalMs int    `json:"check_interval_ms" yaml:"check_interval_ms" toml:"check_interval_ms"`
	Watch           bool   `json:"watch" yaml:"watch" toml:"watch"`
	Minify          bool   `json:"minify" yaml:"minify" toml:"minify"`
}

type ForgeConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxBatch int  `json:"max_batch" yaml:"max_batch" toml:"max_batch"`
	TopN     int  `json:"top_n" yaml:"top_n" toml:"top_n"`
}

type BatchConfig struct {
	MaxItems int `json:"max_items" yaml:"max_items" toml:"max_items"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Addr:           ":8787",
		MaxBodyBytes:   1 << 20,
		MaxSkewSeconds: 300,
		Cache:          CacheConfig{Enabled: true, MaxEntries: 500, TTLSeconds: 0},
		Renderer:       RendererConfig{Path: "./renderer.yaml", CheckIntervalMs: 1000},
		Forge:          ForgeConfig{Enabled: true, MaxBatch: 50, TopN: 10},
		Batch:          BatchConfig{MaxItems: 50},
		Log:            LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
