// Package config loads application configuration from file and environment
// and bootstraps the global logger.
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
	SignalHire SignalHireConfig `yaml:"signalhire" mapstructure:"signalhire"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Assess     AssessConfig     `yaml:"assess" mapstructure:"assess"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// SignalHireConfig holds people-directory API settings.
type SignalHireConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	ValidateModel string `yaml:"validate_model" mapstructure:"validate_model"`
	AssessModel   string `yaml:"assess_model" mapstructure:"assess_model"`
	MaxTokens     int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CacheConfig tunes freshness policies.
type CacheConfig struct {
	PolicyFile            string `yaml:"policy_file" mapstructure:"policy_file"`
	NegativeCooldownHours int    `yaml:"negative_cooldown_hours" mapstructure:"negative_cooldown_hours"`
}

// ResolverConfig tunes the identity resolution cascade.
type ResolverConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
}

// DiscoveryConfig tunes employer discovery.
type DiscoveryConfig struct {
	MaxCandidates  int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	SearchRate     float64 `yaml:"search_rate" mapstructure:"search_rate"`
	SkipValidation bool    `yaml:"skip_validation" mapstructure:"skip_validation"`
}

// SearchConfig tunes the two-phase search/collect paginator.
type SearchConfig struct {
	MaxIDs       int     `yaml:"max_ids" mapstructure:"max_ids"`
	CollectCount int     `yaml:"collect_count" mapstructure:"collect_count"`
	CollectRate  float64 `yaml:"collect_rate" mapstructure:"collect_rate"`
	CollectBurst int     `yaml:"collect_burst" mapstructure:"collect_burst"`
	Workers      int     `yaml:"workers" mapstructure:"workers"`
}

// SessionConfig tunes pipeline session persistence.
type SessionConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// AssessConfig tunes the assessment fan-out engine.
type AssessConfig struct {
	Workers         int `yaml:"workers" mapstructure:"workers"`
	TaskTimeoutSecs int `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs"`
	BatchBudgetSecs int `yaml:"batch_budget_secs" mapstructure:"batch_budget_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "scout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("signalhire.base_url", "https://api.signalhire.com")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("anthropic.validate_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.assess_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("cache.negative_cooldown_hours", 168)
	v.SetDefault("resolver.fuzzy_threshold", 0.84)
	v.SetDefault("discovery.max_candidates", 100)
	v.SetDefault("discovery.search_rate", 2)
	v.SetDefault("search.max_ids", 1000)
	v.SetDefault("search.collect_count", 20)
	v.SetDefault("search.collect_rate", 10)
	v.SetDefault("search.collect_burst", 1)
	v.SetDefault("search.workers", 5)
	v.SetDefault("session.ttl_hours", 24)
	v.SetDefault("assess.workers", 15)
	v.SetDefault("assess.task_timeout_secs", 90)
	v.SetDefault("assess.batch_budget_secs", 300)

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
