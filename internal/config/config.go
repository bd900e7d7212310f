package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Engine   EngineConfig   `mapstructure:"engine"   validate:"required"`
}

// ServerConfig contains the process-level settings: the ops/metrics
// listener port and the log level.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// EngineConfig contains the task processing engine settings.
type EngineConfig struct {
	// MaxConcurrentTasks is the worker pool capacity: the number of tasks
	// this process will execute at the same time.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks" validate:"required,gt=0"`

	// TaskRetryAttempts is the retry policy ceiling. A task's attempt
	// counter starts at 1; once it reaches this value no further retries
	// are scheduled.
	TaskRetryAttempts int `mapstructure:"task_retry_attempts" validate:"required,gt=0"`

	// RetryBaseDelay is the backoff base: attempt n waits base * 2^(n-1).
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"required,gt=0"`

	// RetryMaxDelay caps the computed backoff delay.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" validate:"required,gt=0"`

	// DrainTimeout bounds how long shutdown waits for in-flight tasks
	// before cancelling them.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"required,gt=0"`

	// AdmissionQueueCapacity sizes the bounded wait queue in front of the
	// worker pool. Zero means saturation is rejected immediately.
	AdmissionQueueCapacity int `mapstructure:"admission_queue_capacity" validate:"gte=0"`
}
