// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"firestige.xyz/pseudoconn/internal/filter"
	"firestige.xyz/pseudoconn/internal/frame"
	"firestige.xyz/pseudoconn/internal/inject"
	"firestige.xyz/pseudoconn/internal/log"
	"firestige.xyz/pseudoconn/internal/pcapfile"
	"firestige.xyz/pseudoconn/internal/session"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `pseudoconn:` root key in YAML.
type GlobalConfig struct {
	Log       log.LoggerConfig `mapstructure:"log"`
	Generator GeneratorConfig  `mapstructure:"generator"`
	Inject    inject.Config    `mapstructure:"inject"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

// ─── Generator ───

// GeneratorConfig holds the session defaults used by generate, inject and
// validate.
type GeneratorConfig struct {
	Start        string            `mapstructure:"start"` // RFC 3339; empty = fixed epoch
	WallClock    bool              `mapstructure:"wall_clock"`
	Delay        time.Duration     `mapstructure:"delay"`
	Seed         uint64            `mapstructure:"seed"`
	StreamSeeds  map[string]uint64 `mapstructure:"stream_seeds"`
	MTU          int               `mapstructure:"mtu"`
	Segmentation string            `mapstructure:"segmentation"` // legacy | strict
	Snaplen      uint32            `mapstructure:"snaplen"`
}

// SessionConfig converts g into a session.Config. g must have been validated.
func (g GeneratorConfig) SessionConfig() (session.Config, error) {
	cfg := session.Config{
		WallClock:   g.WallClock,
		Delay:       g.Delay,
		Seed:        g.Seed,
		StreamSeeds: g.StreamSeeds,
		MTU:         g.MTU,
		Snaplen:     g.Snaplen,
	}
	if g.Start != "" {
		start, err := time.Parse(time.RFC3339Nano, g.Start)
		if err != nil {
			return cfg, fmt.Errorf("generator.start: %w", err)
		}
		cfg.Start = start
	}
	seg, err := frame.ParseStrategy(g.Segmentation)
	if err != nil {
		return cfg, fmt.Errorf("generator.segmentation: %w", err)
	}
	cfg.Segmentation = seg
	return cfg, nil
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pseudoconn: ...`.
type configRoot struct {
	Pseudoconn GlobalConfig `mapstructure:"pseudoconn"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only.
// The YAML file uses `pseudoconn:` as root key; env vars use the PSEUDOCONN_ prefix (e.g., PSEUDOCONN_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `pseudoconn.` key prefix maps to `PSEUDOCONN_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Pseudoconn

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "pseudoconn." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("pseudoconn.log.level", "info")
	v.SetDefault("pseudoconn.log.pattern", log.DefaultPattern)
	v.SetDefault("pseudoconn.log.time", log.DefaultTimeLayout)
	v.SetDefault("pseudoconn.log.console", "stderr")

	// Generator defaults
	v.SetDefault("pseudoconn.generator.start", "")
	v.SetDefault("pseudoconn.generator.wall_clock", false)
	v.SetDefault("pseudoconn.generator.delay", session.DefaultDelay)
	v.SetDefault("pseudoconn.generator.seed", 0)
	v.SetDefault("pseudoconn.generator.mtu", session.DefaultMTU)
	v.SetDefault("pseudoconn.generator.segmentation", frame.Legacy.String())
	v.SetDefault("pseudoconn.generator.snaplen", pcapfile.DefaultSnaplen)

	// Inject defaults
	v.SetDefault("pseudoconn.inject.interface", "")
	v.SetDefault("pseudoconn.inject.buffer_size_mb", inject.DefaultBufferSizeMB)
	v.SetDefault("pseudoconn.inject.snap_len", inject.DefaultSnapLen)
	v.SetDefault("pseudoconn.inject.pace", false)
	v.SetDefault("pseudoconn.inject.filter", "")

	// Metrics defaults
	v.SetDefault("pseudoconn.metrics.enabled", false)
	v.SetDefault("pseudoconn.metrics.listen", ":9091")
	v.SetDefault("pseudoconn.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Console) {
	case "", "stdout", "stderr", "none":
	default:
		return fmt.Errorf("invalid log console: %s (must be stdout/stderr/none)", cfg.Log.Console)
	}

	// ── Generator validation ──
	g := &cfg.Generator
	if g.Delay < 0 {
		return fmt.Errorf("invalid generator.delay: %s", g.Delay)
	}
	if g.MTU == 0 {
		g.MTU = session.DefaultMTU
	}
	if g.MTU < 0 || g.MTU > 65535 {
		return fmt.Errorf("invalid generator.mtu: %d (must be 1..65535)", g.MTU)
	}
	if g.Snaplen == 0 {
		g.Snaplen = pcapfile.DefaultSnaplen
	}
	if int(g.Snaplen) < g.MTU {
		return fmt.Errorf("invalid generator.snaplen: %d (must be at least generator.mtu %d)", g.Snaplen, g.MTU)
	}
	if _, err := g.SessionConfig(); err != nil {
		return err
	}

	// ── Inject validation ──
	if cfg.Inject.BufferSizeMB < 0 {
		return fmt.Errorf("invalid inject.buffer_size_mb: %d", cfg.Inject.BufferSizeMB)
	}
	if err := filter.Validate(cfg.Inject.Filter); err != nil {
		return fmt.Errorf("invalid inject.filter: %w", err)
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("invalid metrics.path: %q (must start with /)", cfg.Metrics.Path)
		}
	}

	return nil
}
