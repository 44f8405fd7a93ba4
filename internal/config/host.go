package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/sceneref/internal/ident"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Host holds all configuration for the scene host.
type Host struct {
	// Logging: debug, info, warn, error
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// Manifests
	ManifestDir string `yaml:"manifest_dir" env:"MANIFEST_DIR"`

	// Explicit asset identifiers, keyed by asset path.
	AssetIDs map[string]ident.Identifier `yaml:"asset_ids"`

	// Resolution cache entries (bounded LRU)
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`

	// Persistence
	Persist  bool           `yaml:"persist" env:"PERSIST"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
}

// DefaultHost returns Host config with sensible defaults.
func DefaultHost() Host {
	return Host{
		LogLevel:    "info",
		ManifestDir: "scenes",
		CacheSize:   4096,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "sceneref",
			Password: "sceneref",
			DBName:   "sceneref",
			SSLMode:  "disable",
		},
	}
}

// LoadHost loads host config from a YAML file, then applies environment
// overrides. If the file doesn't exist, defaults are used.
func LoadHost(path string) (Host, error) {
	cfg := DefaultHost()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to info.
func (c Host) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the config for values the host cannot run with.
func (c Host) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("%w: cache_size must be positive, got %d", ErrInvalidConfig, c.CacheSize)
	}
	for path, id := range c.AssetIDs {
		if id.IsZero() {
			return fmt.Errorf("%w: asset %q has a zero identifier", ErrInvalidConfig, path)
		}
	}
	if c.Persist {
		if c.Database.Host == "" {
			return fmt.Errorf("%w: persist requires database.host", ErrInvalidConfig)
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("%w: database.port %d out of range", ErrInvalidConfig, c.Database.Port)
		}
	}
	return nil
}
