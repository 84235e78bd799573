package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Oracle     OracleConfig     `yaml:"oracle" mapstructure:"oracle"`
	News       NewsConfig       `yaml:"news" mapstructure:"news"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Framework  FrameworkConfig  `yaml:"framework" mapstructure:"framework"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Validate   ValidateConfig   `yaml:"validate" mapstructure:"validate"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the checkpoint database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RegistryConfig configures the sustainability report registry.
type RegistryConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OracleConfig holds the analysis model settings.
type OracleConfig struct {
	Key                 string  `yaml:"key" mapstructure:"key"`
	Model               string  `yaml:"model" mapstructure:"model"`
	FallbackModel       string  `yaml:"fallback_model" mapstructure:"fallback_model"`
	MaxTokens           int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature         float64 `yaml:"temperature" mapstructure:"temperature"`
	RatePerMinute       int     `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerTripAfter    int     `yaml:"breaker_trip_after" mapstructure:"breaker_trip_after"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// NewsConfig holds the news search provider settings.
type NewsConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds the evidence repair search settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// FrameworkConfig points at the industry topic-weight workbook.
type FrameworkConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// FetchConfig tunes the concurrent news collection.
type FetchConfig struct {
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	TaskTimeoutSecs  int     `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs"`
	SearchRatePerSec float64 `yaml:"search_rate_per_sec" mapstructure:"search_rate_per_sec"`
}

// ValidateConfig tunes evidence link validation.
type ValidateConfig struct {
	Workers     int `yaml:"workers" mapstructure:"workers"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig configures pipeline-wide behavior.
type PipelineConfig struct {
	DataDir       string `yaml:"data_dir" mapstructure:"data_dir"`
	WordCloudTopN int    `yaml:"wordcloud_top_n" mapstructure:"wordcloud_top_n"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GREENWASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "greenwash.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("registry.base_url", "https://mops.twse.com.tw")
	v.SetDefault("registry.timeout_secs", 60)
	v.SetDefault("oracle.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.fallback_model", "claude-haiku-4-5-20251001")
	v.SetDefault("oracle.max_tokens", 8192)
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.rate_per_minute", 30)
	v.SetDefault("oracle.max_attempts", 3)
	v.SetDefault("oracle.breaker_trip_after", 5)
	v.SetDefault("oracle.breaker_cooldown_secs", 60)
	v.SetDefault("news.base_url", "https://newsapi.org")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("framework.path", "frameworks/sasb_weights.yaml")
	v.SetDefault("fetch.workers", 5)
	v.SetDefault("fetch.task_timeout_secs", 45)
	v.SetDefault("fetch.search_rate_per_sec", 2.0)
	v.SetDefault("validate.workers", 8)
	v.SetDefault("validate.timeout_secs", 10)
	v.SetDefault("pipeline.data_dir", "data")
	v.SetDefault("pipeline.wordcloud_top_n", 100)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
