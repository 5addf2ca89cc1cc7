package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/zep-us/alert-relay/internal/dispatch"
	"github.com/zep-us/alert-relay/pkg/logger"
)

// EnvPrefix prefixes environment overrides, e.g. ALERT_RELAY_SERVER_PORT
const EnvPrefix = "ALERT_RELAY"

// Relay modes
const (
	RelayModeSync  = "sync"
	RelayModeAsync = "async"
)

// Header is one outbound request header of a provider.
// Headers are a list rather than a table so that viper does not fold the name's case.
type Header struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// ProviderConfig describes one downstream webhook provider
type ProviderConfig struct {
	Name           string   `mapstructure:"name"`
	Enabled        bool     `mapstructure:"enabled"`
	Endpoint       string   `mapstructure:"endpoint"`
	Headers        []Header `mapstructure:"headers"`
	TimeoutSeconds int      `mapstructure:"timeout"`    // Per-delivery timeout in seconds
	FreeQuota      int64    `mapstructure:"free_quota"` // 0 = unlimited
	QuotaMode      string   `mapstructure:"quota_mode"` // Overrides the global quota_mode when set
}

// Config holds all configuration values for the application
type Config struct {
	ServerPort              int      `mapstructure:"server_port"`
	ShutdownDrainSeconds    int      `mapstructure:"shutdown_drain_seconds"`
	ShutdownTimeoutSeconds  int      `mapstructure:"shutdown_timeout_seconds"`
	AllowedOrigins          []string `mapstructure:"allowed_origins"`     // CORS allowed origins
	MaxRequestSizeMB        int      `mapstructure:"max_request_size_mb"` // Request body size limit in MB
	LogLevel                string   `mapstructure:"log_level"`
	LogFormat               string   `mapstructure:"log_format"`    // "console" or "json"
	AlertLogDir             string   `mapstructure:"alert_log_dir"` // Empty disables the alert journal file
	RelayMode               string   `mapstructure:"relay_mode"`    // "sync" or "async"
	WorkerPoolSize          int      `mapstructure:"worker_pool_size"`
	JobQueueSize            int      `mapstructure:"job_queue_size"`
	MaxConcurrentDeliveries int      `mapstructure:"max_concurrent_deliveries"`
	RateLimitRPS            float64  `mapstructure:"rate_limit_rps"` // Per client IP; 0 disables
	RateLimitBurst          int      `mapstructure:"rate_limit_burst"`
	RateLimitIdleSeconds    int      `mapstructure:"rate_limit_idle_seconds"` // Idle client buckets are dropped after this
	TrustForwardedFor       bool     `mapstructure:"trust_forwarded_for"`     // Take the client IP from X-Forwarded-For (only behind a trusted proxy)
	Strategy                string   `mapstructure:"strategy"`
	QuotaMode               string   `mapstructure:"quota_mode"`

	Providers []ProviderConfig `mapstructure:"providers"`
}

// Load reads configuration from config.toml (or the file named by ALERT_RELAY_CONFIG)
// after loading an optional .env file into the environment.
// Returns error if the file is missing or the provider list is invalid.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env: %v", err)
	}

	v := newViper()
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	return load(v)
}

// LoadFile reads configuration from an explicit path
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server_port", 8048)
	v.SetDefault("shutdown_drain_seconds", 2)
	v.SetDefault("shutdown_timeout_seconds", 10)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("max_request_size_mb", 1)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("alert_log_dir", "logs")
	v.SetDefault("relay_mode", RelayModeSync)
	v.SetDefault("worker_pool_size", 0) // 0 = auto-detect in worker.NewPool()
	v.SetDefault("job_queue_size", 10000)
	v.SetDefault("max_concurrent_deliveries", 10000)
	v.SetDefault("rate_limit_rps", 0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("rate_limit_idle_seconds", 600)
	v.SetDefault("trust_forwarded_for", false)
	v.SetDefault("strategy", string(dispatch.RoundRobin))
	v.SetDefault("quota_mode", string(dispatch.QuotaEnforced))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper defaults do not reach into array tables
	rawProviders, _ := v.Get("providers").([]interface{})
	for i := range config.Providers {
		var raw map[string]interface{}
		if i < len(rawProviders) {
			raw, _ = rawProviders[i].(map[string]interface{})
		}
		applyProviderDefaults(&config.Providers[i], raw)
	}

	config.normalize()

	if err := config.DispatchConfig().Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider configuration: %w", err)
	}

	logger.Info("Configuration loaded successfully from %s", v.ConfigFileUsed())
	logger.Info("  server_port: %d", config.ServerPort)
	logger.Info("  relay_mode: %s", config.RelayMode)
	logger.Info("  strategy: %s, quota_mode: %s", config.Strategy, config.QuotaMode)
	logger.Info("  providers: %d", len(config.Providers))
	for _, p := range config.Providers {
		logger.Info("    %s enabled=%v endpoint=%s free_quota=%d timeout=%ds", p.Name, p.Enabled, p.Endpoint, p.FreeQuota, p.TimeoutSeconds)
	}
	if len(config.Providers) == 0 {
		logger.Warn("no providers configured - alerts will be recorded locally only")
	}
	logger.Info("  alert_log_dir: %q", config.AlertLogDir)
	logger.Info("  rate_limit_rps: %v (burst %d, trust_forwarded_for %v)", config.RateLimitRPS, config.RateLimitBurst, config.TrustForwardedFor)

	return &config, nil
}

func applyProviderDefaults(p *ProviderConfig, raw map[string]interface{}) {
	if _, ok := raw["enabled"]; !ok {
		p.Enabled = true
	}
	if _, ok := raw["timeout"]; !ok {
		p.TimeoutSeconds = 30
	}
	if _, ok := raw["free_quota"]; !ok {
		p.FreeQuota = 1000
	}
}

// normalize fixes recoverable values with a warning, like an unknown relay mode
func (c *Config) normalize() {
	switch c.RelayMode {
	case RelayModeSync, RelayModeAsync:
	case "":
		c.RelayMode = RelayModeSync
	default:
		logger.Warn("unknown relay_mode=%q, defaulting to %q", c.RelayMode, RelayModeSync)
		c.RelayMode = RelayModeSync
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		logger.Warn("unknown log_format=%q, defaulting to console", c.LogFormat)
		c.LogFormat = "console"
	}

	if c.MaxRequestSizeMB <= 0 {
		logger.Warn("max_request_size_mb <= 0 (%d), defaulting to 1", c.MaxRequestSizeMB)
		c.MaxRequestSizeMB = 1
	}
	if c.MaxConcurrentDeliveries <= 0 {
		logger.Warn("max_concurrent_deliveries <= 0 (%d), defaulting to 10000", c.MaxConcurrentDeliveries)
		c.MaxConcurrentDeliveries = 10000
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 1
	}
}

// DispatchConfig converts the provider section into dispatcher input.
// Disabled providers are kept so they show up in status reports; they are never selected.
func (c *Config) DispatchConfig() dispatch.Config {
	endpoints := make([]dispatch.EndpointConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		headers := make(map[string]string, len(p.Headers))
		for _, h := range p.Headers {
			headers[h.Name] = h.Value
		}
		endpoints = append(endpoints, dispatch.EndpointConfig{
			ID:         p.Name,
			URL:        p.Endpoint,
			Headers:    headers,
			Timeout:    time.Duration(p.TimeoutSeconds) * time.Second,
			Enabled:    p.Enabled,
			QuotaLimit: p.FreeQuota,
			QuotaMode:  dispatch.QuotaMode(p.QuotaMode),
		})
	}
	return dispatch.Config{
		Strategy:  dispatch.Strategy(c.Strategy),
		QuotaMode: dispatch.QuotaMode(c.QuotaMode),
		Endpoints: endpoints,
	}
}
