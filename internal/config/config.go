package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rammbock/internal/logging"
)

// Config is the runtime configuration of a library and its streams.
type Config struct {
	HandlerInterval     time.Duration
	PollTimeout         time.Duration
	FillTimeout         time.Duration
	DefaultTimeout      time.Duration
	MaxPayloadBytes     int
	ErrorBackoffInitial time.Duration
	ErrorBackoffMax     time.Duration
	LogLevel            string
	// Definitions are YAML definition files loaded at startup.
	Definitions []string
}

type fileConfig struct {
	HandlerInterval     string   `toml:"handler_interval"`
	PollTimeout         string   `toml:"poll_timeout"`
	FillTimeout         string   `toml:"fill_timeout"`
	DefaultTimeout      string   `toml:"default_timeout"`
	MaxPayloadBytes     int      `toml:"max_payload_bytes"`
	ErrorBackoffInitial string   `toml:"error_backoff_initial"`
	ErrorBackoffMax     string   `toml:"error_backoff_max"`
	LogLevel            string   `toml:"log_level"`
	Definitions         []string `toml:"definitions"`
}

func Default() Config {
	return Config{
		HandlerInterval:     500 * time.Millisecond,
		PollTimeout:         10 * time.Millisecond,
		FillTimeout:         10 * time.Millisecond,
		DefaultTimeout:      10 * time.Second,
		MaxPayloadBytes:     8 * 1024 * 1024,
		ErrorBackoffInitial: 250 * time.Millisecond,
		ErrorBackoffMax:     5 * time.Second,
		LogLevel:            "info",
	}
}

// Load reads a TOML file over Default. Only keys present in the file
// override defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown keys %v", path, undecoded)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handler_interval", raw.HandlerInterval, &cfg.HandlerInterval},
		{"poll_timeout", raw.PollTimeout, &cfg.PollTimeout},
		{"fill_timeout", raw.FillTimeout, &cfg.FillTimeout},
		{"default_timeout", raw.DefaultTimeout, &cfg.DefaultTimeout},
		{"error_backoff_initial", raw.ErrorBackoffInitial, &cfg.ErrorBackoffInitial},
		{"error_backoff_max", raw.ErrorBackoffMax, &cfg.ErrorBackoffMax},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("max_payload_bytes") {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("definitions") {
		cfg.Definitions = normalizePaths(raw.Definitions)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	positive := map[string]time.Duration{
		"handler_interval": cfg.HandlerInterval,
		"poll_timeout":     cfg.PollTimeout,
		"fill_timeout":     cfg.FillTimeout,
		"default_timeout":  cfg.DefaultTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", key, d)
		}
	}
	if cfg.MaxPayloadBytes <= 0 {
		return fmt.Errorf("max_payload_bytes must be positive, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.ErrorBackoffInitial < 0 || cfg.ErrorBackoffMax < cfg.ErrorBackoffInitial {
		return fmt.Errorf("error backoff range %v..%v is invalid", cfg.ErrorBackoffInitial, cfg.ErrorBackoffMax)
	}
	if cfg.LogLevel != "" && !logging.ValidLevel(cfg.LogLevel) {
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	return nil
}

func normalizePaths(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
