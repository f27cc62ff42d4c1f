package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Oracle     OracleConfig     `yaml:"oracle" mapstructure:"oracle"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ScoringConfig holds the default decision knobs.
type ScoringConfig struct {
	UseML     bool    `yaml:"use_ml" mapstructure:"use_ml"`
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// OracleConfig selects and tunes the probability oracle.
type OracleConfig struct {
	Kind        string        `yaml:"kind" mapstructure:"kind"` // "logistic" or "remote"
	ModelPath   string        `yaml:"model_path" mapstructure:"model_path"`
	URL         string        `yaml:"url" mapstructure:"url"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Breaker     BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// Timeout returns the per-call oracle timeout.
func (c OracleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BreakerConfig tunes the circuit breaker in front of a remote oracle.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CacheConfig configures the Redis prediction cache. Empty RedisURL disables it.
type CacheConfig struct {
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// StoreConfig configures the decision audit store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the scoring API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// BatchConfig configures batch evaluation.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MonitoringConfig configures the decision drift checker. An empty WebhookURL
// keeps the checker collecting but never sends.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MinDecisions        int     `yaml:"min_decisions" mapstructure:"min_decisions"`
	DisagreementRateMax float64 `yaml:"disagreement_rate_max" mapstructure:"disagreement_rate_max"`
	ApproveRateMin      float64 `yaml:"approve_rate_min" mapstructure:"approve_rate_min"`
	ApproveRateMax      float64 `yaml:"approve_rate_max" mapstructure:"approve_rate_max"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GRANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("scoring.use_ml", true)
	v.SetDefault("scoring.threshold", 0.5)
	v.SetDefault("oracle.kind", "logistic")
	v.SetDefault("oracle.model_path", "")
	v.SetDefault("oracle.url", "")
	v.SetDefault("oracle.timeout_secs", 5)
	v.SetDefault("oracle.breaker.failure_threshold", 5)
	v.SetDefault("oracle.breaker.reset_timeout_secs", 30)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "grant.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.min_decisions", 20)
	v.SetDefault("monitoring.disagreement_rate_max", 0.25)
	v.SetDefault("monitoring.approve_rate_min", 0.0)
	v.SetDefault("monitoring.approve_rate_max", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the rest of the program cannot run with.
func (c *Config) Validate() error {
	var errs []string
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold > 1 {
		errs = append(errs, "scoring.threshold must be within [0, 1]")
	}
	switch c.Oracle.Kind {
	case "logistic":
	case "remote":
		if c.Oracle.URL == "" {
			errs = append(errs, "oracle.url is required for the remote oracle")
		}
	default:
		errs = append(errs, "oracle.kind must be logistic or remote (got "+c.Oracle.Kind+")")
	}
	if c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, "batch.concurrency must be positive")
	}
	if c.Monitoring.ApproveRateMin > c.Monitoring.ApproveRateMax {
		errs = append(errs, "monitoring.approve_rate_min must not exceed approve_rate_max")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
