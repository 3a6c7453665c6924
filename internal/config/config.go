package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Provider struct {
		Name           string `mapstructure:"name"` // "openai" or "gemini"
		Model          string `mapstructure:"model"`
		OpenaiApiKey   string `mapstructure:"openai_api_key"`
		GoogleApiKey   string `mapstructure:"google_api_key"`
		PromptTemplate string `mapstructure:"prompt_template"`
	} `mapstructure:"provider"`

	Worker struct {
		Concurrency   int      `mapstructure:"concurrency"`
		PriorityOrder []string `mapstructure:"priority_order"`
	} `mapstructure:"worker"`

	RateLimit struct {
		MaxCalls int           `mapstructure:"max_calls"`
		Window   time.Duration `mapstructure:"window"`
	} `mapstructure:"rate_limit"`

	Retry struct {
		MaxRetries int           `mapstructure:"max_retries"`
		BaseDelay  time.Duration `mapstructure:"base_delay"`
		MaxDelay   time.Duration `mapstructure:"max_delay"`
	} `mapstructure:"retry"`

	Store struct {
		Backend string `mapstructure:"backend"` // "file" or "sqlite"
		Dir     string `mapstructure:"dir"`     // file backend
		DSN     string `mapstructure:"dsn"`     // sqlite backend
	} `mapstructure:"store"`

	Server struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".") // Look for config.yaml in the current directory

	viper.SetDefault("provider.name", "openai")
	viper.SetDefault("provider.model", "gpt-4o-mini")
	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("rate_limit.max_calls", 60)
	viper.SetDefault("rate_limit.window", time.Minute)
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.base_delay", time.Second)
	viper.SetDefault("retry.max_delay", 30*time.Second)
	viper.SetDefault("store.backend", "file")
	viper.SetDefault("store.dir", "batches")
	viper.SetDefault("store.dsn", "conductor.db")
	viper.SetDefault("server.address", ":8080")

	viper.AutomaticEnv()
	// Explicit bindings so the usual provider key env vars work without a
	// prefix or naming convention.
	viper.BindEnv("provider.openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("provider.google_api_key", "GEMINI_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env vars carry the load.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
