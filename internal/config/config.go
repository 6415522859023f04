package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/utils"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "ICONCACHE_"

// Configuration represents the complete daemon configuration
type Configuration struct {
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Loader  LoaderConfig  `yaml:"loader"`
	Usage   UsageConfig   `yaml:"usage"`
	Preload PreloadConfig `yaml:"preload"`
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`
	Themes  ThemeConfig   `yaml:"themes"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSize    string `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// CacheConfig represents the three cache tiers
type CacheConfig struct {
	Directory   string `yaml:"directory"`
	MemorySize  string `yaml:"memory_size"`
	GpuSize     string `yaml:"gpu_size"`
	DiskSize    string `yaml:"disk_size"`
	DiskEnabled bool   `yaml:"disk_enabled"`
}

// LoaderConfig represents the background load pipeline
type LoaderConfig struct {
	Workers     int    `yaml:"workers"`
	Coalesce    bool   `yaml:"coalesce"`
	DefaultIcon string `yaml:"default_icon"`
}

// UsageConfig represents usage statistics settings
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PreloadConfig represents automatic preload settings
type PreloadConfig struct {
	AutoEnabled  bool          `yaml:"auto_enabled"`
	Count        int           `yaml:"count"`
	StartupDelay time.Duration `yaml:"startup_delay"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// APIConfig represents the admin HTTP server
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ThemeConfig lists the directories searched by the icon resolver
type ThemeConfig struct {
	Directories []string `yaml:"directories"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Logging: LoggingConfig{
			Level:      "INFO",
			Format:     "text",
			File:       "",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
		Cache: CacheConfig{
			Directory:   utils.CacheRoot(),
			MemorySize:  "128MB",
			GpuSize:     "64MB",
			DiskSize:    "512MB",
			DiskEnabled: true,
		},
		Loader: LoaderConfig{
			Workers:     0,
			Coalesce:    false,
			DefaultIcon: "application-x-executable",
		},
		Usage: UsageConfig{
			Enabled: true,
		},
		Preload: PreloadConfig{
			AutoEnabled:  true,
			Count:        30,
			StartupDelay: 500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "iconcache",
			CustomLabels: map[string]string{
				"service": "iconcache",
			},
		},
		API: APIConfig{
			Enabled: true,
			Address: "127.0.0.1:8089",
		},
		Themes: ThemeConfig{
			Directories: []string{
				"/usr/share/icons/hicolor",
				"/usr/share/pixmaps",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from ICONCACHE_* environment variables.
// Unparsable numeric and duration values are ignored.
func (c *Configuration) LoadFromEnv() error {
	// Logging settings
	if val := getenv("LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := getenv("LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
	if val := getenv("LOG_FILE"); val != "" {
		c.Logging.File = val
	}

	// Cache settings
	if val := getenv("CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := getenv("MEMORY_CACHE_SIZE"); val != "" {
		c.Cache.MemorySize = val
	}
	if val := getenv("GPU_CACHE_SIZE"); val != "" {
		c.Cache.GpuSize = val
	}
	if val := getenv("DISK_CACHE_SIZE"); val != "" {
		c.Cache.DiskSize = val
	}
	if val := getenv("DISK_CACHE_ENABLED"); val != "" {
		c.Cache.DiskEnabled = parseBool(val)
	}

	// Loader settings
	if val := getenv("WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Loader.Workers = workers
		}
	}
	if val := getenv("COALESCE"); val != "" {
		c.Loader.Coalesce = parseBool(val)
	}

	// Usage and preload settings
	if val := getenv("USAGE_TRACKING"); val != "" {
		c.Usage.Enabled = parseBool(val)
	}
	if val := getenv("AUTO_PRELOAD"); val != "" {
		c.Preload.AutoEnabled = parseBool(val)
	}
	if val := getenv("PRELOAD_COUNT"); val != "" {
		if count, err := strconv.Atoi(val); err == nil {
			c.Preload.Count = count
		}
	}
	if val := getenv("PRELOAD_DELAY"); val != "" {
		if delay, err := time.ParseDuration(val); err == nil {
			c.Preload.StartupDelay = delay
		}
	}

	// Surfaces
	if val := getenv("METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = parseBool(val)
	}
	if val := getenv("API_ADDRESS"); val != "" {
		c.API.Address = val
	}
	if val := getenv("ICON_DIRS"); val != "" {
		c.Themes.Directories = filepath.SplitList(val)
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func parseBool(val string) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory").
			WithContext("file", filename)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").
			WithContext("file", filename)
	}

	return nil
}

// Sizes holds the parsed tier budgets in bytes.
type Sizes struct {
	Memory int64
	Gpu    int64
	Disk   int64
}

// Sizes parses the human-readable tier budgets.
func (c *Configuration) Sizes() (Sizes, error) {
	var (
		s   Sizes
		err error
	)
	fields := []struct {
		name string
		val  string
		dst  *int64
	}{
		{"cache.memory_size", c.Cache.MemorySize, &s.Memory},
		{"cache.gpu_size", c.Cache.GpuSize, &s.Gpu},
		{"cache.disk_size", c.Cache.DiskSize, &s.Disk},
	}
	for _, f := range fields {
		if *f.dst, err = utils.ParseBytes(f.val); err != nil {
			return Sizes{}, validationError(f.name, "invalid size %q", f.val)
		}
		if *f.dst <= 0 {
			return Sizes{}, validationError(f.name, "must be greater than 0")
		}
	}
	return s, nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Logging.Level); err != nil {
		return validationError("logging.level", "invalid log level %q (must be one of: DEBUG, INFO, WARN, ERROR)", c.Logging.Level)
	}

	switch utils.LogFormat(strings.ToLower(c.Logging.Format)) {
	case utils.FormatText, utils.FormatJSON, "":
	default:
		return validationError("logging.format", "invalid log format %q (must be text or json)", c.Logging.Format)
	}

	if c.Logging.MaxSize != "" {
		if _, err := utils.ParseBytes(c.Logging.MaxSize); err != nil {
			return validationError("logging.max_size", "invalid size %q", c.Logging.MaxSize)
		}
	}
	if c.Logging.MaxBackups < 0 {
		return validationError("logging.max_backups", "must not be negative")
	}

	if _, err := c.Sizes(); err != nil {
		return err
	}

	if c.Cache.DiskEnabled && c.Cache.Directory == "" {
		return validationError("cache.directory", "required when the disk cache is enabled")
	}

	if c.Loader.Workers < 0 {
		return validationError("loader.workers", "must not be negative")
	}
	if c.Loader.DefaultIcon != "" {
		if err := utils.ValidateIconName(c.Loader.DefaultIcon); err != nil {
			return validationError("loader.default_icon", "%v", err)
		}
	}

	if c.Preload.Count < 1 || c.Preload.Count > 100 {
		return validationError("preload.count", "must be between 1 and 100, got %d", c.Preload.Count)
	}
	if c.Preload.StartupDelay < 0 {
		return validationError("preload.startup_delay", "must not be negative")
	}

	if c.API.Enabled && c.API.Address == "" {
		return validationError("api.address", "required when the API is enabled")
	}

	return nil
}

func validationError(field, format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeConfigValidation, field+": "+fmt.Sprintf(format, args...)).
		WithComponent("config").
		WithDetail("field", field)
}
