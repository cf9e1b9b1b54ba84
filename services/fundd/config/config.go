package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretEnv overrides auth.hmac_secret so the secret can stay out of files.
const SecretEnv = "FUNDD_JWT_SECRET"

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for fundd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	StatePath     string          `yaml:"state"`
	JournalDSN    string          `yaml:"journal"`
	RegistryPath  string          `yaml:"registry"`
	ExportDir     string          `yaml:"export_dir"`
	Engine        EngineConfig    `yaml:"engine"`
	Sampler       SamplerConfig   `yaml:"sampler"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimits    []RateLimit     `yaml:"rate_limits"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	HTTP          HTTPConfig      `yaml:"http"`
}

// EngineConfig tunes the fund engine.
type EngineConfig struct {
	SlippageBps uint32   `yaml:"slippage_bps"`
	Paused      []string `yaml:"paused"`
}

// SamplerConfig controls the NAV sampling loop.
type SamplerConfig struct {
	Interval Duration `yaml:"interval"`
	Disabled bool     `yaml:"disabled"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Disabled   bool     `yaml:"disabled"`
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimit bounds one route group.
type RateLimit struct {
	ID            string  `yaml:"id"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// LoggingConfig configures the optional rotated log file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig configures OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// HTTPConfig holds server timeouts.
type HTTPConfig struct {
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return finalize(cfg)
}

// Parse decodes configuration from raw YAML.
func Parse(data []byte) (Config, error) {
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return finalize(cfg)
}

func finalize(cfg Config) (Config, error) {
	if secret := strings.TrimSpace(os.Getenv(SecretEnv)); secret != "" {
		cfg.Auth.HMACSecret = secret
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7081"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/var/data/fundd/state"
	}
	if cfg.JournalDSN == "" {
		cfg.JournalDSN = "/var/data/fundd/journal.sqlite"
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "/var/data/fundd/exports"
	}
	if cfg.Engine.SlippageBps == 0 {
		cfg.Engine.SlippageBps = 100
	}
	if cfg.Sampler.Interval.Duration == 0 {
		cfg.Sampler.Interval.Duration = time.Minute
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "fundd"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout.Duration == 0 {
		cfg.HTTP.IdleTimeout.Duration = 2 * time.Minute
	}
	if len(cfg.RateLimits) == 0 {
		cfg.RateLimits = []RateLimit{
			{ID: "read", RatePerSecond: 20, Burst: 40},
			{ID: "write", RatePerSecond: 5, Burst: 10},
		}
	}
}

func validate(cfg Config) error {
	var errs []error
	if strings.TrimSpace(cfg.RegistryPath) == "" {
		errs = append(errs, errors.New("registry path must be configured"))
	}
	if !cfg.Auth.Disabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		errs = append(errs, fmt.Errorf("auth.hmac_secret or %s must be set when auth is enabled", SecretEnv))
	}
	if cfg.Engine.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("engine.slippage_bps %d exceeds 10000", cfg.Engine.SlippageBps))
	}
	if cfg.Sampler.Interval.Duration < time.Second {
		errs = append(errs, errors.New("sampler.interval must be at least 1s"))
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0,1]"))
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for _, rl := range cfg.RateLimits {
		id := strings.TrimSpace(rl.ID)
		if id == "" {
			errs = append(errs, errors.New("rate limit id must be set"))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("duplicate rate limit %q", id))
		}
		seen[id] = struct{}{}
		if rl.RatePerSecond <= 0 || rl.Burst <= 0 {
			errs = append(errs, fmt.Errorf("rate limit %q requires positive rate and burst", id))
		}
	}
	return errors.Join(errs...)
}
