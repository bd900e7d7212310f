package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all recognized environment variables,
// e.g. TASKFORGE_ENGINE_MAX_CONCURRENT_TASKS.
const envPrefix = "TASKFORGE"

// Load configuration from environment variables.
// Every key has a default except the database URL, which must be provided.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every recognized key so that
// viper's env lookup covers the whole tree.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("engine.max_concurrent_tasks", 50)
	v.SetDefault("engine.task_retry_attempts", 3)
	v.SetDefault("engine.retry_base_delay", "1s")
	v.SetDefault("engine.retry_max_delay", "1m")
	v.SetDefault("engine.drain_timeout", "30s")
	v.SetDefault("engine.admission_queue_capacity", 0)
}
