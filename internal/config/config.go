// Package config loads the listings service configuration from config.yaml, the environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/elasticsearch"
	infragin "github.com/jonesrussell/north-cloud/listings/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/profiling"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/geocode"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/reasoning"
	"github.com/jonesrussell/north-cloud/listings/internal/scheduler"
	"github.com/jonesrussell/north-cloud/listings/internal/search"
	"github.com/jonesrussell/north-cloud/listings/internal/source"
	"github.com/jonesrussell/north-cloud/listings/internal/worker"
)

// Config is the service configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logger        logger.Config       `mapstructure:"logger"`
	Database      database.Config     `mapstructure:"database"`
	Redis         queue.StreamsConfig `mapstructure:"redis"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Worker        worker.Config       `mapstructure:"worker"`
	Source        source.Config       `mapstructure:"source"`
	Platforms     PlatformsConfig     `mapstructure:"platforms"`
	Reasoning     reasoning.Config    `mapstructure:"reasoning"`
	Geocoding     geocode.Config      `mapstructure:"geocoding"`
	Unification   UnificationConfig   `mapstructure:"unification"`
	Scheduler     scheduler.Config    `mapstructure:"scheduler"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Profiling     profiling.Config    `mapstructure:"profiling"`
}

// AppConfig identifies the running service.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// QueueConfig tunes the stage streams.
type QueueConfig struct {
	MaxStreamLen int64         `mapstructure:"max_stream_len"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
	BatchSize    int64         `mapstructure:"batch_size"`
	ClaimMinIdle time.Duration `mapstructure:"claim_min_idle"`
	// ResumeBatch caps how many pending entities one resume re-enqueues.
	ResumeBatch int `mapstructure:"resume_batch"`
}

// PlatformsConfig points at the platform definition file.
type PlatformsConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// UnificationConfig toggles optional unification collaborators.
type UnificationConfig struct {
	// Geocode enables the geocoding fallback for cleaned addresses.
	Geocode bool `mapstructure:"geocode"`
	// IndexProperties publishes committed properties to Elasticsearch.
	IndexProperties bool `mapstructure:"index_properties"`
}

// ElasticsearchConfig combines the client connection and the property index settings.
type ElasticsearchConfig struct {
	Enabled bool                 `mapstructure:"enabled"`
	Client  elasticsearch.Config `mapstructure:",squash"`
	Index   search.Config        `mapstructure:",squash"`
}

// ServerConfig configures the HTTP API. A zero WriteTimeout leaves event streams open.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	SSE             sse.Config    `mapstructure:"sse"`
}

// AuthConfig guards the administrative control surface.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-"`
}

// Validation errors.
var (
	ErrMissingPlatforms = errors.New("platforms.file is required")
	ErrMissingDatabase  = errors.New("database.host and database.dbname are required")
	ErrMissingRedis     = errors.New("redis.addr is required")
	ErrInvalidPort      = errors.New("server.port must be between 1 and 65535")
	ErrInvalidStage     = errors.New("worker.stages contains an unknown stage")
)

const maxPort = 65535

// SetDefaults fills every section's zero values.
func (c *Config) SetDefaults() {
	if c.App.Name == "" {
		c.App.Name = "listings"
	}
	if c.App.Version == "" {
		c.App.Version = "1.0.0"
	}
	if c.App.Environment == "" {
		c.App.Environment = "production"
	}
	if c.App.Debug {
		c.Logger.Level = "debug"
		c.Logger.Development = true
	}
	c.Logger.SetDefaults()
	c.Worker.SetDefaults()
	c.Source.SetDefaults()
	c.Reasoning.SetDefaults()
	c.Geocoding.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Elasticsearch.Client.SetDefaults()
	c.Elasticsearch.Index.SetDefaults()
	c.Server.SetDefaults()
}

// SetDefaults fills the HTTP server's zero values.
func (s *ServerConfig) SetDefaults() {
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = infragin.DefaultReadTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = infragin.DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = infragin.DefaultShutdownTimeout
	}
}

// Gin converts the server section into the HTTP server configuration.
func (c *Config) Gin() *infragin.Config {
	cfg := &infragin.Config{
		Port:            c.Server.Port,
		Debug:           c.App.Debug,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		IdleTimeout:     c.Server.IdleTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		ServiceName:     c.App.Name,
		ServiceVersion:  c.App.Version,
		CORS: infragin.CORSConfig{
			Enabled:        true,
			AllowedOrigins: c.Server.CORSOrigins,
		},
	}
	cfg.SetDefaults()
	return cfg
}

// Stages returns the configured worker stages, or every stage when none are set.
func (c *Config) Stages() ([]queue.Stage, error) {
	if len(c.Worker.Stages) == 0 {
		return queue.AllStages(), nil
	}
	out := make([]queue.Stage, 0, len(c.Worker.Stages))
	for _, name := range c.Worker.Stages {
		s, err := queue.ParseStage(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidStage, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Validate checks the sections every command depends on. The reasoning API key is checked by
// the reasoning client when a command needs it.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Host == "" || c.Database.DBName == "" {
		errs = append(errs, ErrMissingDatabase)
	}
	if c.Redis.Addr == "" {
		errs = append(errs, ErrMissingRedis)
	}
	if c.Platforms.File == "" {
		errs = append(errs, ErrMissingPlatforms)
	}
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		errs = append(errs, ErrInvalidPort)
	}
	if err := c.Worker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("worker: %w", err))
	}
	if _, err := c.Stages(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	return errors.Join(errs...)
}
