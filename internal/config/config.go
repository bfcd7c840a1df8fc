package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jgalley/dumirror/internal/record"
)

// Config represents the complete application configuration.
type Config struct {
	Output  OutputConfig  `mapstructure:"output"`
	Index   IndexConfig   `mapstructure:"index"`
	Logging LoggingConfig `mapstructure:"logging"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Measure MeasureConfig `mapstructure:"measure"`
	Paths   []PathConfig  `mapstructure:"paths"`
}

// OutputConfig holds the location of the mirrored output tree.
type OutputConfig struct {
	Root string `mapstructure:"root"`
}

// IndexConfig holds settings for the SQLite run catalog.
type IndexConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging-related settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ScanConfig holds default scan settings.
type ScanConfig struct {
	MinSize  string        `mapstructure:"min_size"`
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
	Sudo     bool          `mapstructure:"sudo"`
	Quiet    bool          `mapstructure:"quiet"`
	Strategy string        `mapstructure:"strategy"`
	MaxDepth int           `mapstructure:"max_depth"`
}

// MeasureConfig holds the external tools used for measurement.
type MeasureConfig struct {
	DuPath   string `mapstructure:"du_path"`
	SudoPath string `mapstructure:"sudo_path"`
}

// PathConfig holds configuration for a periodically scanned path.
type PathConfig struct {
	Path     string        `mapstructure:"path"`
	MinSize  string        `mapstructure:"min_size"`
	Interval time.Duration `mapstructure:"interval"`
	Sudo     bool          `mapstructure:"sudo"`
}

// EffectiveInterval returns the interval for this path, falling back to the default.
func (p PathConfig) EffectiveInterval(defaultInterval time.Duration) time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return defaultInterval
}

// EffectiveMinSize returns the threshold for this path in bytes, falling back
// to the default.
func (p PathConfig) EffectiveMinSize(defaultMinSize string) (int64, error) {
	if p.MinSize != "" {
		return record.ParseThreshold(p.MinSize)
	}
	return record.ParseThreshold(defaultMinSize)
}

// MinSizeBytes returns the default scan threshold in bytes.
func (s ScanConfig) MinSizeBytes() (int64, error) {
	return record.ParseThreshold(s.MinSize)
}

// IndexPath returns the catalog location, defaulting to index.db under the
// output root.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.Output.Root, "index.db")
}

var strategies = map[string]bool{"auto": true, "du": true, "ceph": true, "walk": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.root", "./output")
	v.SetDefault("index.enabled", true)
	v.SetDefault("index.path", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("scan.min_size", "2G")
	v.SetDefault("scan.interval", "24h")
	v.SetDefault("scan.workers", 1)
	v.SetDefault("scan.sudo", false)
	v.SetDefault("scan.quiet", false)
	v.SetDefault("scan.strategy", "auto")
	v.SetDefault("scan.max_depth", 0)
	v.SetDefault("measure.du_path", "")
	v.SetDefault("measure.sudo_path", "sudo")
}

// Load reads configuration from the specified file path. With an empty path
// the usual locations are searched and a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("dumirror")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("dumirror")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dumirror")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "dumirror"))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK if using defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Output.Root == "" {
		return fmt.Errorf("output.root is required")
	}

	if c.Scan.Workers < 1 {
		return fmt.Errorf("scan.workers must be at least 1")
	}

	if c.Scan.Interval < time.Second {
		return fmt.Errorf("scan.interval must be at least 1s")
	}

	if c.Scan.MaxDepth < 0 {
		return fmt.Errorf("scan.max_depth must be non-negative")
	}

	if _, err := c.Scan.MinSizeBytes(); err != nil {
		return fmt.Errorf("scan.min_size: %w", err)
	}

	if !strategies[c.Scan.Strategy] {
		return fmt.Errorf("scan.strategy must be one of auto, du, ceph, walk")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	for i, p := range c.Paths {
		if p.Path == "" {
			return fmt.Errorf("paths[%d].path is required", i)
		}
		if !filepath.IsAbs(p.Path) {
			return fmt.Errorf("paths[%d].path must be absolute", i)
		}
		if p.MinSize != "" {
			if _, err := record.ParseThreshold(p.MinSize); err != nil {
				return fmt.Errorf("paths[%d].min_size: %w", i, err)
			}
		}
	}

	return nil
}

// Default returns a default configuration suitable for testing or initial setup.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Root: "./output",
		},
		Index: IndexConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Scan: ScanConfig{
			MinSize:  "2G",
			Interval: 24 * time.Hour,
			Workers:  1,
			Strategy: "auto",
		},
		Measure: MeasureConfig{
			SudoPath: "sudo",
		},
		Paths: []PathConfig{},
	}
}
