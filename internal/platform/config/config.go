// Package config loads service configuration from config.yaml and the
// environment via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the monitoring service
type Config struct {
	ThingSpeak    ThingSpeakConfig    `mapstructure:"thingspeak"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Errors        ErrorsConfig        `mapstructure:"errors"`
	Stats         StatsConfig         `mapstructure:"stats"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Channels      []ChannelConfig     `mapstructure:"channels"`
}

// ThingSpeakConfig holds upstream API settings
type ThingSpeakConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	APIKey    string          `mapstructure:"api_key"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
}

// RateLimitConfig holds rate gate settings
type RateLimitConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	PerMinute   int           `mapstructure:"per_minute"`
	PerDay      int           `mapstructure:"per_day"`
}

// RetryConfig holds retry/backoff settings
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// ChannelConfig identifies a ThingSpeak channel the dashboard polls
type ChannelConfig struct {
	ID      int    `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	ReadKey string `mapstructure:"read_key"`
}

// CacheConfig holds caching configuration
type CacheConfig struct {
	L1MaxSize      int           `mapstructure:"l1_max_size"`
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	MaxStaleAge    time.Duration `mapstructure:"max_stale_age"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	WarmupOnStart  bool          `mapstructure:"warmup_on_start"`
	RedisEnabled   bool          `mapstructure:"redis_enabled"`
	StaleRetention time.Duration `mapstructure:"stale_retention"`
}

// ErrorsConfig holds suppression and recovery settings
type ErrorsConfig struct {
	SuppressThreshold  int           `mapstructure:"suppress_threshold"`
	SuppressWindow     time.Duration `mapstructure:"suppress_window"`
	SuppressCooldown   time.Duration `mapstructure:"suppress_cooldown"`
	StateRetention     time.Duration `mapstructure:"state_retention"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	RecoveryAttemptCap int           `mapstructure:"recovery_attempt_cap"`
}

// StatsConfig holds error-statistics persistence settings
type StatsConfig struct {
	SnapshotPath     string        `mapstructure:"snapshot_path"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	LogPath          string        `mapstructure:"log_path"`
	LogMaxBytes      int64         `mapstructure:"log_max_bytes"`
	LogMaxRotations  int           `mapstructure:"log_max_rotations"`
	RecentErrors     int           `mapstructure:"recent_errors"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds the admin/metrics HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// ThingSpeak defaults match the free tier: one call every 15 seconds.
	v.SetDefault("thingspeak.base_url", "https://api.thingspeak.com")
	v.SetDefault("thingspeak.timeout", "10s")
	v.SetDefault("thingspeak.rate_limit.min_interval", "15s")
	v.SetDefault("thingspeak.rate_limit.per_minute", 4)
	v.SetDefault("thingspeak.rate_limit.per_day", 8000)
	v.SetDefault("thingspeak.retry.max_retries", 3)
	v.SetDefault("thingspeak.retry.base_delay", "1s")
	v.SetDefault("thingspeak.retry.max_delay", "30s")

	// Cache defaults
	v.SetDefault("cache.l1_max_size", 1000)
	v.SetDefault("cache.default_ttl", "30s")
	v.SetDefault("cache.max_stale_age", "24h")
	v.SetDefault("cache.sweep_interval", "5m")
	v.SetDefault("cache.stale_retention", "24h")
	v.SetDefault("cache.warmup_on_start", true)
	v.SetDefault("cache.redis_enabled", false)

	// Error handling defaults
	v.SetDefault("errors.suppress_threshold", 10)
	v.SetDefault("errors.suppress_window", "60s")
	v.SetDefault("errors.suppress_cooldown", "5m")
	v.SetDefault("errors.state_retention", "30m")
	v.SetDefault("errors.sweep_interval", "5m")
	v.SetDefault("errors.recovery_attempt_cap", 5)

	// Stats persistence defaults
	v.SetDefault("stats.snapshot_path", "data/error-stats.json")
	v.SetDefault("stats.snapshot_interval", "1m")
	v.SetDefault("stats.log_path", "logs/errors.log")
	v.SetDefault("stats.log_max_bytes", 5*1024*1024)
	v.SetDefault("stats.log_max_rotations", 3)
	v.SetDefault("stats.recent_errors", 100)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// AWS defaults
	v.SetDefault("aws.enabled", false)
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ThingSpeak.BaseURL == "" {
		return fmt.Errorf("thingspeak.base_url is required")
	}
	if c.ThingSpeak.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("thingspeak.rate_limit.per_minute must be positive")
	}
	if c.ThingSpeak.RateLimit.PerDay <= 0 {
		return fmt.Errorf("thingspeak.rate_limit.per_day must be positive")
	}
	if c.ThingSpeak.Retry.MaxRetries < 0 {
		return fmt.Errorf("thingspeak.retry.max_retries must not be negative")
	}
	if c.Cache.L1MaxSize <= 0 {
		return fmt.Errorf("cache.l1_max_size must be positive")
	}
	if c.Errors.SuppressThreshold <= 0 {
		return fmt.Errorf("errors.suppress_threshold must be positive")
	}
	if c.Errors.RecoveryAttemptCap <= 0 {
		return fmt.Errorf("errors.recovery_attempt_cap must be positive")
	}
	if c.Stats.LogMaxBytes <= 0 {
		return fmt.Errorf("stats.log_max_bytes must be positive")
	}
	if c.AWS.Enabled && c.AWS.SNSTopicARN == "" {
		return fmt.Errorf("aws.sns_topic_arn is required when aws.enabled")
	}
	for i, ch := range c.Channels {
		if ch.ID <= 0 {
			return fmt.Errorf("channels[%d].id must be positive", i)
		}
	}
	return nil
}
