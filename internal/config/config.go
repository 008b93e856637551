// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	HTTPAddr           string        `mapstructure:"HTTP_ADDR"`
	DBURL              string        `mapstructure:"DB_URL"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	GithubClientID     string        `mapstructure:"GITHUB_CLIENT_ID"`
	GithubClientSecret string        `mapstructure:"GITHUB_CLIENT_SECRET"`
	WorkerConcurrency  int           `mapstructure:"WORKER_CONCURRENCY"`
	QueuePollInterval  time.Duration `mapstructure:"QUEUE_POLL_INTERVAL"`
	QueueLease         time.Duration `mapstructure:"QUEUE_LEASE"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":3000")
	viper.SetDefault("WORKER_CONCURRENCY", 4)
	viper.SetDefault("QUEUE_POLL_INTERVAL", "500ms")
	viper.SetDefault("QUEUE_LEASE", "5m")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is a required configuration field")
	}
	if cfg.GithubClientID == "" || cfg.GithubClientSecret == "" {
		return nil, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required configuration fields")
	}
	if cfg.WorkerConcurrency <= 0 {
		return nil, errors.New("WORKER_CONCURRENCY must be a positive integer")
	}

	return &cfg, nil
}
