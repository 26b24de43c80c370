package config

import (
	"embed"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

const (
	ExtractorChrome = "chrome"
	ExtractorHTTP   = "http"
)

type CacheConfig struct {
	MaxEntries int    `yaml:"max_entries" env:"MAX_ENTRIES"`
	TTL        string `yaml:"ttl" env:"TTL"`
}

type Config struct {
	Endpoint      string      `yaml:"endpoint" env:"SIMILAR_ENDPOINT"`
	Listen        string      `yaml:"listen" env:"SIMILAR_LISTEN"`
	Extractor     string      `yaml:"extractor" env:"SIMILAR_EXTRACTOR"`
	CDPURL        string      `yaml:"cdp_url" env:"SIMILAR_CDP_URL"`
	LookupTimeout string      `yaml:"lookup_timeout" env:"SIMILAR_LOOKUP_TIMEOUT"`
	LogLevel      string      `yaml:"log_level" env:"SIMILAR_LOG_LEVEL"`
	Cache         CacheConfig `yaml:"cache" envPrefix:"SIMILAR_CACHE_"`
}

func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || d <= 0 {
		return 600 * time.Second
	}
	return d
}

func (c *Config) CacheSize() int {
	if c.Cache.MaxEntries <= 0 {
		return 10
	}
	return c.Cache.MaxEntries
}

func (c *Config) LookupTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.LookupTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// SlogLevel maps log_level to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "similar", "config.yaml")
}

// DataPath is where user settings such as the whitelist are stored.
func DataPath() string {
	return filepath.Join(xdg.DataHome, "similar", "similar.db")
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config at path on top of the embedded defaults and applies
// SIMILAR_* environment overrides. A missing file is created from the defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Non-fatal: the embedded defaults are used either way.
		_ = writeDefaults(path)
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := defaultConfigFS.ReadFile("default_config.yaml")
	return os.WriteFile(path, data, 0o644)
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint: url scheme must be http or https, got %q", u.Scheme)
	}

	switch strings.ToLower(cfg.Extractor) {
	case ExtractorHTTP:
	case ExtractorChrome:
		if cfg.CDPURL == "" {
			return fmt.Errorf("extractor %q requires cdp_url", ExtractorChrome)
		}
	default:
		return fmt.Errorf("unknown extractor %q (valid: chrome, http)", cfg.Extractor)
	}
	cfg.Extractor = strings.ToLower(cfg.Extractor)

	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.TTL != "" {
		if d, err := time.ParseDuration(cfg.Cache.TTL); err != nil || d <= 0 {
			return fmt.Errorf("cache.ttl: invalid duration %q", cfg.Cache.TTL)
		}
	}
	if cfg.LookupTimeout != "" {
		if d, err := time.ParseDuration(cfg.LookupTimeout); err != nil || d <= 0 {
			return fmt.Errorf("lookup_timeout: invalid duration %q", cfg.LookupTimeout)
		}
	}
	return nil
}
