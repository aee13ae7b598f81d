// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, duration parsing, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAESKey = "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  read_timeout: "5s"
  shutdown_timeout: "30s"

database:
  path: "./test.db"

cache:
  backend: sqlite
  ttl: "10m"
  purge_interval: "30s"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true

message_log:
  enabled: true
  buffer: 64

integrations:
  - name: main
    app_id: wxb11529c136998cb6
    token: pamtest
    encoding_aes_key: "`+testAESKey+`"
    reply: echo
  - name: plain
    app_id: wx0000000000000000
    token: other
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want %v", cfg.Server.ReadTimeout, 5*time.Second)
	}
	if cfg.Server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("Server.WriteTimeout = %v, want default %v", cfg.Server.WriteTimeout, DefaultWriteTimeout)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, 30*time.Second)
	}
	if cfg.Cache.Backend != CacheSQLite {
		t.Errorf("Cache.Backend = %q, want %q", cfg.Cache.Backend, CacheSQLite)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, 10*time.Minute)
	}
	if cfg.Cache.PurgeInterval != 30*time.Second {
		t.Errorf("Cache.PurgeInterval = %v, want %v", cfg.Cache.PurgeInterval, 30*time.Second)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
	if cfg.MessageLog.Buffer != 64 {
		t.Errorf("MessageLog.Buffer = %d, want 64", cfg.MessageLog.Buffer)
	}

	require.Len(t, cfg.Integrations, 2)
	main := cfg.Integrations[0]
	assert.Equal(t, "main", main.Name)
	assert.Equal(t, "echo", main.Reply)
	assert.True(t, main.Encrypted())

	plain, ok := cfg.Integration("plain")
	require.True(t, ok)
	assert.False(t, plain.Encrypted())
	assert.Equal(t, "success", plain.Reply, "reply should default to success")

	_, ok = cfg.Integration("missing")
	assert.False(t, ok)
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[server]
http_addr = ":9000"

[cache]
backend = "redis"
ttl = "2m"

[redis]
addr = "localhost:6379"
db = 2

[[integrations]]
name = "main"
app_id = "wxb11529c136998cb6"
token = "pamtest"
encoding_aes_key = "`+testAESKey+`"
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	require.Len(t, cfg.Integrations, 1)
	assert.Equal(t, testAESKey, cfg.Integrations[0].EncodingAESKey)
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
integrations:
  - name: main
    app_id: wx1
    token: t
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.TTL)
	assert.Equal(t, DefaultCacheMaxEntries, cfg.Cache.MaxEntries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_WX_TOKEN", "token-from-env")
	t.Setenv("TEST_WX_AES_KEY", testAESKey)

	configPath := writeConfig(t, "config.yaml", `
integrations:
  - name: main
    app_id: wx1
    token: "${TEST_WX_TOKEN}"
    encoding_aes_key: "${TEST_WX_AES_KEY}"
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "token-from-env", cfg.Integrations[0].Token)
	assert.Equal(t, testAESKey, cfg.Integrations[0].EncodingAESKey)
}

func TestExpandEnvVars_Unset(t *testing.T) {
	assert.Equal(t, "value: ", expandEnvVars("value: ${WXCALLBACK_SURELY_UNSET_VAR}"))
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
cache:
  ttl: "forever"
integrations:
  - name: main
    app_id: wx1
    token: t
`)

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.ttl")
}

func TestLoad_RejectsUnsafeCacheTimings(t *testing.T) {
	tests := map[string]struct {
		cache   string
		wantErr string
	}{
		"tiny ttl":                {cache: "  ttl: \"1ms\"\n", wantErr: "cache.ttl"},
		"negative purge interval": {cache: "  purge_interval: \"-1m\"\n", wantErr: "cache.purge_interval"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", "cache:\n"+tt.cache+`integrations:
  - name: main
    app_id: wx1
    token: t
`)

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "integrations: [unclosed")
	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Integrations: []IntegrationConfig{{Name: "main", AppID: "wx1", Token: "t", EncodingAESKey: testAESKey}},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no integrations", mutate: func(c *Config) { c.Integrations = nil }, wantErr: "Integrations"},
		{name: "missing token", mutate: func(c *Config) { c.Integrations[0].Token = "" }, wantErr: "Token"},
		{name: "short aes key", mutate: func(c *Config) { c.Integrations[0].EncodingAESKey = "short" }, wantErr: "EncodingAESKey"},
		{name: "unknown reply", mutate: func(c *Config) { c.Integrations[0].Reply = "shout" }, wantErr: "Reply"},
		{name: "slash in name", mutate: func(c *Config) { c.Integrations[0].Name = "a/b" }, wantErr: "Name"},
		{name: "unknown backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantErr: "Backend"},
		{name: "weak jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantErr: "JWTSecret"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "Level"},
		{
			name: "duplicate names",
			mutate: func(c *Config) {
				c.Integrations = append(c.Integrations, c.Integrations[0])
			},
			wantErr: "more than once",
		},
		{
			name:    "sqlite without database",
			mutate:  func(c *Config) { c.Cache.Backend = CacheSQLite },
			wantErr: "database.path",
		},
		{
			name:    "message log without database",
			mutate:  func(c *Config) { c.MessageLog.Enabled = true },
			wantErr: "database.path",
		},
		{
			name:    "ttl shorter than redelivery window",
			mutate:  func(c *Config) { c.Cache.TTL = time.Millisecond },
			wantErr: "cache.ttl",
		},
		{
			name:    "negative ttl",
			mutate:  func(c *Config) { c.Cache.TTL = -time.Minute },
			wantErr: "cache.ttl",
		},
		{
			name:   "minimum ttl",
			mutate: func(c *Config) { c.Cache.TTL = MinCacheTTL },
		},
		{
			name: "short ttl without a cache",
			mutate: func(c *Config) {
				c.Cache.Backend = CacheNone
				c.Cache.TTL = time.Millisecond
			},
		},
		{
			name:    "negative purge interval",
			mutate:  func(c *Config) { c.Cache.PurgeInterval = -time.Minute },
			wantErr: "cache.purge_interval",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Cache.Backend = CacheRedis },
			wantErr: "redis.addr",
		},
		{
			name: "tailscale without hostname",
			mutate: func(c *Config) {
				c.Tailscale.Enabled = true
			},
			wantErr: "tailscale.hostname",
		},
		{
			name: "no listener",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
			},
			wantErr: "server.http_addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}
