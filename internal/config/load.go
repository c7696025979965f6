package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	// Registered with empty defaults so Unmarshal picks them up from env.
	v.SetDefault("database.url", "")
	v.SetDefault("maps.api_key", "")
	v.SetDefault("maps.base_url", "https://maps.googleapis.com/maps/api/distancematrix/json")
	v.SetDefault("maps.language", "zh-CN")
	v.SetDefault("maps.call_limit", 100)
	v.SetDefault("maps.max_retries", 3)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.max_upload_bytes", 10<<20)

	// Optional config file in the working directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from env vars.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables: DISTANCE_SERVER_PORT, DISTANCE_DATABASE_URL, ...
	v.SetEnvPrefix("DISTANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
