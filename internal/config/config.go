// Package config loads application configuration: environment variables
// first (INFERGATE_*), with an optional YAML file underneath. The loaded
// Config is immutable; constructors receive the values they need rather
// than reading process-wide state.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nhalm/infergate/internal/ratelimit"
)

// Config is the complete application configuration.
type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Auth       AuthConfig      `mapstructure:"auth"`
	Upstream   UpstreamConfig  `mapstructure:"upstream"`
	Compute    ComputeConfig   `mapstructure:"compute"`
	RateLimits RateLimitConfig `mapstructure:"rate_limits"`
	Lifecycle  LifecycleConfig `mapstructure:"lifecycle"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// RedisConfig contains the shared store connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AuthConfig contains JWT verification settings.
type AuthConfig struct {
	Secret        string   `mapstructure:"secret"`
	AdminSubjects []string `mapstructure:"admin_subjects"`
}

// UpstreamConfig locates the remotely hosted inference server.
type UpstreamConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// ComputeConfig locates the provider API managing the compute instance.
type ComputeConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// Limit is one operation's quota.
type Limit struct {
	MaxRequests int64         `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// RateLimitConfig is the per-operation quota table with a default fallback.
type RateLimitConfig struct {
	Default    Limit            `mapstructure:"default"`
	Operations map[string]Limit `mapstructure:"operations"`
}

// Limits converts the table into the admission controller's immutable form.
func (c RateLimitConfig) Limits() ratelimit.Limits {
	ops := make(map[string]ratelimit.Limit, len(c.Operations))
	for name, lim := range c.Operations {
		ops[name] = ratelimit.Limit{MaxRequests: lim.MaxRequests, Window: lim.Window}
	}
	return ratelimit.Limits{
		Operations: ops,
		Default:    ratelimit.Limit{MaxRequests: c.Default.MaxRequests, Window: c.Default.Window},
	}
}

// LifecycleConfig holds the monitor's policy knobs.
type LifecycleConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	HardLimit   time.Duration `mapstructure:"hard_limit"`
	Interval    time.Duration `mapstructure:"interval"`
}

// Load reads configuration from the optional file at path (may be empty)
// and the INFERGATE_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", int64(1<<20))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "infergate:")

	// Empty defaults register the keys so AutomaticEnv can fill them;
	// viper only unmarshals keys it already knows about.
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.admin_subjects", []string{})
	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("compute.url", "")
	v.SetDefault("compute.token", "")

	v.SetDefault("rate_limits.default.max_requests", 60)
	v.SetDefault("rate_limits.default.window", time.Minute)
	v.SetDefault("rate_limits.operations.chat.max_requests", 20)
	v.SetDefault("rate_limits.operations.chat.window", time.Minute)
	v.SetDefault("rate_limits.operations.models.max_requests", 60)
	v.SetDefault("rate_limits.operations.models.window", time.Minute)
	v.SetDefault("rate_limits.operations.conversation_read.max_requests", 120)
	v.SetDefault("rate_limits.operations.conversation_read.window", time.Minute)
	v.SetDefault("rate_limits.operations.conversation_write.max_requests", 60)
	v.SetDefault("rate_limits.operations.conversation_write.window", time.Minute)
	v.SetDefault("rate_limits.operations.instance_read.max_requests", 60)
	v.SetDefault("rate_limits.operations.instance_read.window", time.Minute)
	v.SetDefault("rate_limits.operations.instance_admin.max_requests", 10)
	v.SetDefault("rate_limits.operations.instance_admin.window", time.Minute)

	v.SetDefault("lifecycle.idle_timeout", 15*time.Minute)
	v.SetDefault("lifecycle.hard_limit", time.Hour)
	v.SetDefault("lifecycle.interval", 5*time.Minute)

	v.SetEnvPrefix("INFERGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required (INFERGATE_AUTH_SECRET)")
	}
	if c.RateLimits.Default.MaxRequests <= 0 || c.RateLimits.Default.Window <= 0 {
		return fmt.Errorf("rate_limits.default must set max_requests and window")
	}
	for name, lim := range c.RateLimits.Operations {
		if lim.MaxRequests <= 0 || lim.Window <= 0 {
			return fmt.Errorf("rate_limits.operations.%s must set max_requests and window", name)
		}
	}
	if c.Lifecycle.Interval > c.Lifecycle.IdleTimeout {
		return fmt.Errorf("lifecycle.interval must not exceed lifecycle.idle_timeout")
	}
	return nil
}
