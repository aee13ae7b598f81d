// ABOUTME: Configuration loading and parsing for wxcallback
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing and validation

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Defaults applied when a value is left empty
const (
	DefaultHTTPAddr        = ":8080"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 100_000
	DefaultPurgeInterval   = time.Minute
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMetricsPath     = "/metrics"
)

// MinCacheTTL covers the platform's redelivery window (three attempts about
// five seconds apart) with room to spare.
const MinCacheTTL = 30 * time.Second

// Config represents the complete wxcallback configuration
type Config struct {
	Server       ServerConfig        `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Database     DatabaseConfig      `yaml:"database" toml:"database"`
	Cache        CacheConfig         `yaml:"cache" toml:"cache"`
	Redis        RedisConfig         `yaml:"redis" toml:"redis"`
	Auth         AuthConfig          `yaml:"auth" toml:"auth"`
	Logging      LoggingConfig       `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig       `yaml:"metrics" toml:"metrics"`
	MessageLog   MessageLogConfig    `yaml:"message_log" toml:"message_log"`
	Integrations []IntegrationConfig `yaml:"integrations" toml:"integrations" validate:"required,min=1,dive"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"-" toml:"-"`
	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReadTimeoutRaw     string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeoutRaw    string `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS on :443 with a Tailscale certificate
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Expose publicly via Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// CacheConfig selects where completed responses are kept
type CacheConfig struct {
	Backend       string        `yaml:"backend" toml:"backend" validate:"omitempty,oneof=memory sqlite redis none"`
	MaxEntries    int           `yaml:"max_entries" toml:"max_entries" validate:"min=0"`
	TTL           time.Duration `yaml:"-" toml:"-"`
	PurgeInterval time.Duration `yaml:"-" toml:"-"`

	TTLRaw           string `yaml:"ttl" toml:"ttl"`
	PurgeIntervalRaw string `yaml:"purge_interval" toml:"purge_interval"`
}

// RedisConfig holds the Redis connection used by the redis cache backend
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db" validate:"min=0"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// AuthConfig holds authentication configuration for the read API
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" validate:"omitempty,min=32"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path" validate:"omitempty,startswith=/"`
}

// MessageLogConfig controls recording of callback bodies in the database
type MessageLogConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Buffer  int  `yaml:"buffer" toml:"buffer" validate:"min=0"`
}

// IntegrationConfig is one platform account the gateway answers callbacks for
type IntegrationConfig struct {
	Name           string `yaml:"name" toml:"name" validate:"required,excludesall=/?#%"`
	AppID          string `yaml:"app_id" toml:"app_id" validate:"required"`
	Token          string `yaml:"token" toml:"token" validate:"required"`
	EncodingAESKey string `yaml:"encoding_aes_key" toml:"encoding_aes_key" validate:"omitempty,len=43"`
	Reply          string `yaml:"reply" toml:"reply" validate:"omitempty,oneof=echo success"`
}

// Encrypted reports whether callbacks for this integration use the envelope.
func (i IntegrationConfig) Encrypted() bool {
	return i.EncodingAESKey != ""
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Cache.PurgeInterval == 0 {
		c.Cache.PurgeInterval = DefaultPurgeInterval
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for i := range c.Integrations {
		if c.Integrations[i].Reply == "" {
			c.Integrations[i].Reply = "success"
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// A listener is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Cache.Backend != CacheNone && c.Cache.TTL < MinCacheTTL {
		return fmt.Errorf("cache.ttl must be at least %s, got %s", MinCacheTTL, c.Cache.TTL)
	}

	if c.Cache.PurgeInterval <= 0 {
		return fmt.Errorf("cache.purge_interval must be positive, got %s", c.Cache.PurgeInterval)
	}

	needsDatabase := c.Cache.Backend == CacheSQLite || c.MessageLog.Enabled
	if needsDatabase && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite cache and the message log")
	}

	if c.Cache.Backend == CacheRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when cache.backend is redis")
	}

	seen := make(map[string]bool, len(c.Integrations))
	for _, in := range c.Integrations {
		if seen[in.Name] {
			return fmt.Errorf("integration name %q is used more than once", in.Name)
		}
		seen[in.Name] = true
	}

	return nil
}

// Integration returns the integration with the given name.
func (c *Config) Integration(name string) (IntegrationConfig, bool) {
	for _, in := range c.Integrations {
		if in.Name == name {
			return in, true
		}
	}
	return IntegrationConfig{}, false
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", cfg.Server.ReadTimeoutRaw, &cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
		{"cache.purge_interval", cfg.Cache.PurgeIntervalRaw, &cfg.Cache.PurgeInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
