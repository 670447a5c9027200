package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Upstream chat API
	APIBaseURL string `mapstructure:"api_base_url"`
	APIToken   string `mapstructure:"api_token"`
	TokenFile  string `mapstructure:"token_file"`

	// Local state
	DBDSN string `mapstructure:"db_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// rabbitMQ, empty URL disables turn events
	RabbitURL         string `mapstructure:"rabbit_url"`
	RabbitQueue       string `mapstructure:"rabbit_queue"`
	WorkerConcurrency int    `mapstructure:"worker_concurrency"`

	HTTPAddr string `mapstructure:"http_addr"`
	Locale   string `mapstructure:"locale"`
	LogLevel string `mapstructure:"log_level"`

	// Chat engine
	DefaultModel    string        `mapstructure:"default_model"`
	ReasoningEffort string        `mapstructure:"reasoning_effort"`
	ModelsFile      string        `mapstructure:"models_file"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	TopicCacheTTL   time.Duration `mapstructure:"topic_cache_ttl"`
	AutosaveDelay   time.Duration `mapstructure:"autosave_delay"`
}

// Load reads defaults, an optional config file and the environment, in
// increasing order of precedence. Environment keys are the upper-cased field
// keys, e.g. DB_DSN or RETRY_BASE_DELAY.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gopherchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_base_url", "http://localhost:8000")
	v.SetDefault("api_token", "")
	v.SetDefault("token_file", "")

	v.SetDefault("db_dsn", "./data/gopherchat.db")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("rabbit_url", "")
	v.SetDefault("rabbit_queue", "chat_turns")
	v.SetDefault("worker_concurrency", 2)

	v.SetDefault("http_addr", "127.0.0.1:8080")
	v.SetDefault("locale", "zh-Hans")
	v.SetDefault("log_level", "info")

	v.SetDefault("default_model", "gemini-2.0-flash")
	v.SetDefault("reasoning_effort", "medium")
	v.SetDefault("models_file", "")
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_base_delay", time.Second)
	v.SetDefault("topic_cache_ttl", 3*time.Second)
	v.SetDefault("autosave_delay", 500*time.Millisecond)
}

func (c *Config) normalize() {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.TopicCacheTTL <= 0 {
		c.TopicCacheTTL = 3 * time.Second
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 2
	}
	if c.WorkerConcurrency > 50 {
		c.WorkerConcurrency = 50
	}
	switch c.ReasoningEffort {
	case "low", "medium", "high":
	default:
		c.ReasoningEffort = "medium"
	}
}
