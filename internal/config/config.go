package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"time"

	"github.com/spf13/viper"
)

var (
	once   sync.Once
	config *Config
)

// Config represents the application configuration.
type Config struct {
	viper     *viper.Viper
	Version   string          `mapstructure:"version"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	Transport TransportConfig `mapstructure:"transport"`
	Errors    ErrorConfig     `mapstructure:"errors"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
}

// QueueConfig controls the scheduler's dispatch behavior.
type QueueConfig struct {
	SimultaneousDownloads int  `mapstructure:"simultaneous_downloads"`
	PrioritySimultaneous  int  `mapstructure:"priority_simultaneous_downloads"`
	DedicatedPriorityLane bool `mapstructure:"dedicated_priority_lane"`
}

// MirrorConfig controls the mirror-selection and retry policy.
type MirrorConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// TransferConfig contains settings shared by every transfer, independent of
// the transport that carries it.
type TransferConfig struct {
	DefaultDirectory   string `mapstructure:"default_directory"`
	ChunkSize          string `mapstructure:"chunk_size"`
	BandwidthLimit     int    `mapstructure:"bandwidth_limit"`
	ProgressInterval   int    `mapstructure:"progress_interval"`
	CheckpointInterval int    `mapstructure:"checkpoint_interval"`
}

// CacheConfig contains cache settings.
type CacheConfig struct {
	Directory string `mapstructure:"directory"`
	TTL       int    `mapstructure:"ttl"`
	MaxSize   int    `mapstructure:"max_size"`
	Enabled   bool   `mapstructure:"enabled"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	Output     string `mapstructure:"output"` // stdout, stderr, file
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// TransportConfig contains settings for the network-facing processors
// (httpfetch, objectstore): retry behavior and request pacing.
type TransportConfig struct {
	MaxRetries      int     `mapstructure:"max_retries"`
	RetryDelay      int     `mapstructure:"retry_delay"`     // seconds
	RequestTimeout  int     `mapstructure:"request_timeout"` // seconds
	RateLimitPerSec float64 `mapstructure:"rate_limit"`
	Burst           int     `mapstructure:"burst"`
}

// ErrorConfig contains error handling settings.
type ErrorConfig struct {
	MaxRetries      int     `mapstructure:"max_retries"`
	RetryDelay      int     `mapstructure:"retry_delay"` // seconds
	RetryMultiplier float64 `mapstructure:"retry_multiplier"`
	RetryMaxDelay   int     `mapstructure:"retry_max_delay"` // seconds
}

// Load initializes and loads the configuration.
func Load(cfgFile ...string) (*Config, error) {
	once.Do(func() {
		configFile := ""
		if len(cfgFile) > 0 {
			configFile = cfgFile[0]
		}
		initViper(configFile)
	})

	config = &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set defaults if not configured
	setDefaults(config)

	return config, nil
}

// LoadFromViper loads configuration from a specific viper instance.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{viper: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set defaults if not configured
	setDefaults(cfg)

	return cfg, nil
}

// Get returns the current configuration.
func Get() *Config {
	if config == nil {
		var err error
		config, err = Load("")
		if err != nil {
			// Return a default config if loading fails
			config = &Config{}
			setDefaults(config)
		}
	}
	return config
}

// Save writes the current configuration to file.
func Save() error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configFile = filepath.Join(home, ".fetchkit", "config.yaml")
	}

	// Ensure directory exists
	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return viper.WriteConfigAs(configFile)
}

// initViper sets up viper configuration.
func initViper(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			// Fall back to current directory
			configDir := ".fetchkit"
			viper.AddConfigPath(configDir)
		} else {
			configDir := filepath.Join(home, ".fetchkit")
			viper.AddConfigPath(configDir)
		}

		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables
	viper.SetEnvPrefix("FETCHKIT")
	viper.AutomaticEnv()

	// Set defaults
	setViperDefaults()

	// Read config file
	viper.ReadInConfig()
}

// setViperDefaults sets default values in viper.
func setViperDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	// Transfer defaults
	viper.SetDefault("transfer.default_directory", filepath.Join(home, "FetchKit"))
	viper.SetDefault("transfer.chunk_size", "1MB")
	viper.SetDefault("transfer.bandwidth_limit", 0)
	viper.SetDefault("transfer.progress_interval", 1)
	viper.SetDefault("transfer.checkpoint_interval", 30)

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.directory", filepath.Join(home, ".fetchkit", "cache"))
	viper.SetDefault("cache.ttl", 60)
	viper.SetDefault("cache.max_size", 100)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size", 10)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 7)
	viper.SetDefault("log.compress", true)

	// Transport defaults
	viper.SetDefault("transport.max_retries", 4)
	viper.SetDefault("transport.retry_delay", 5)
	viper.SetDefault("transport.request_timeout", 30)
	viper.SetDefault("transport.rate_limit", 10.0)
	viper.SetDefault("transport.burst", 5)

	// Error defaults
	viper.SetDefault("errors.max_retries", 3)
	viper.SetDefault("errors.retry_delay", 1)
	viper.SetDefault("errors.retry_multiplier", 2.0)
	viper.SetDefault("errors.retry_max_delay", 60)

	// Queue defaults
	viper.SetDefault("queue.simultaneous_downloads", 5)
	viper.SetDefault("queue.priority_simultaneous_downloads", 2)
	viper.SetDefault("queue.dedicated_priority_lane", true)

	// Mirror defaults
	viper.SetDefault("mirror.max_retries", 2)

	// Version
	viper.SetDefault("version", "1.0.0")
}

// setDefaults ensures all config fields have sensible defaults.
func setDefaults(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	if cfg.Transfer.DefaultDirectory == "" {
		cfg.Transfer.DefaultDirectory = filepath.Join(home, "FetchKit")
	}

	if cfg.Transfer.ChunkSize == "" {
		cfg.Transfer.ChunkSize = "1MB"
	}

	if cfg.Cache.Directory == "" {
		cfg.Cache.Directory = filepath.Join(home, ".fetchkit", "cache")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// GetChunkSizeBytes converts chunk size string to bytes.
func (c *Config) GetChunkSizeBytes() (int64, error) {
	size := c.Transfer.ChunkSize
	if size == "" {
		size = "1MB"
	}

	multiplier := int64(1)
	value := int64(0)

	if strings.HasSuffix(size, "KB") {
		multiplier = 1024
		fmt.Sscanf(size, "%dKB", &value)
	} else if strings.HasSuffix(size, "MB") {
		multiplier = 1024 * 1024
		fmt.Sscanf(size, "%dMB", &value)
	} else if strings.HasSuffix(size, "GB") {
		multiplier = 1024 * 1024 * 1024
		fmt.Sscanf(size, "%dGB", &value)
	} else {
		fmt.Sscanf(size, "%d", &value)
	}

	return value * multiplier, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		configFile = filepath.Join(home, ".fetchkit", "config.yaml")
	}
	return configFile
}

// DataDir returns the fetchkit data directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fetchkit"
	}
	return filepath.Join(home, ".fetchkit")
}

// GetDataDir returns the fetchkit data directory, honoring an explicit
// "data_dir" override (set directly or via a viper instance) before
// falling back to the default under the user's home directory.
func (c *Config) GetDataDir() string {
	if c.viper != nil {
		if dir := c.viper.GetString("data_dir"); dir != "" {
			return dir
		}
	}
	if dir := viper.GetString("data_dir"); dir != "" {
		return dir
	}
	return DataDir()
}

// GetString returns a string value from viper.
func (c *Config) GetString(key string) string {
	if c.viper != nil {
		return c.viper.GetString(key)
	}
	return viper.GetString(key)
}

// GetInt returns an int value from viper.
func (c *Config) GetInt(key string) int {
	if c.viper != nil {
		return c.viper.GetInt(key)
	}
	return viper.GetInt(key)
}

// GetInt64 returns an int64 value from viper.
func (c *Config) GetInt64(key string) int64 {
	if c.viper != nil {
		return c.viper.GetInt64(key)
	}
	return viper.GetInt64(key)
}

// GetFloat64 returns a float64 value from viper.
func (c *Config) GetFloat64(key string) float64 {
	if c.viper != nil {
		return c.viper.GetFloat64(key)
	}
	return viper.GetFloat64(key)
}

// GetDuration returns a duration value from viper.
func (c *Config) GetDuration(key string) time.Duration {
	// Get the value as int (seconds) and convert to duration
	var seconds int
	if c.viper != nil {
		seconds = c.viper.GetInt(key)
	} else {
		seconds = viper.GetInt(key)
	}
	return time.Duration(seconds) * time.Second
}

// GetLogLevel returns the log level.
func (c *Config) GetLogLevel() string {
	return c.Log.Level
}
