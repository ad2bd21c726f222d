// Package worker runs the pipeline's stage handlers: discovery pages, listing scrapes and
// group unification, fed from the stage streams into a bounded pool.
package worker

import (
	"errors"
	"time"
)

const (
	// DefaultPoolSize is the default number of workers in the pool.
	DefaultPoolSize = 8

	// DefaultDrainTimeout is the default timeout for graceful shutdown.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultTaskTimeout bounds a single task, fetch and extraction or a reasoning call.
	DefaultTaskTimeout = 5 * time.Minute

	// DefaultHealthCheckInterval is the default interval for worker health checks.
	DefaultHealthCheckInterval = 30 * time.Second

	// DefaultConsumerGroup is the stream consumer group shared by all pipeline workers.
	DefaultConsumerGroup = "listings-workers"

	// MinPoolSize is the minimum allowed pool size.
	MinPoolSize = 1

	// MaxPoolSize is the maximum allowed pool size.
	MaxPoolSize = 100
)

// Config holds configuration for the worker pool and its stream reader.
type Config struct {
	// PoolSize is the number of concurrent workers.
	PoolSize int `mapstructure:"pool_size"`

	// DrainTimeout is the maximum time to wait for workers to finish during shutdown.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`

	// TaskTimeout is the timeout for one task.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`

	// HealthCheckInterval is the interval between worker health checks.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`

	// ConsumerGroup is the stream consumer group name.
	ConsumerGroup string `mapstructure:"consumer_group"`

	// Stages limits the stages this process consumes. Empty means all.
	Stages []string `mapstructure:"stages"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:            DefaultPoolSize,
		DrainTimeout:        DefaultDrainTimeout,
		TaskTimeout:         DefaultTaskTimeout,
		HealthCheckInterval: DefaultHealthCheckInterval,
		ConsumerGroup:       DefaultConsumerGroup,
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.PoolSize == 0 {
		c.PoolSize = d.PoolSize
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = d.ConsumerGroup
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize {
		return errors.New("pool size must be at least 1")
	}
	if c.PoolSize > MaxPoolSize {
		return errors.New("pool size cannot exceed 100")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.TaskTimeout <= 0 {
		return errors.New("task timeout must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return errors.New("health check interval must be positive")
	}
	if c.ConsumerGroup == "" {
		return errors.New("consumer group is required")
	}
	return nil
}
