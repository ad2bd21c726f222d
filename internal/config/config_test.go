package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/listings/internal/config"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

const sampleConfig = `
app:
  environment: development
database:
  host: db.internal
  dbname: listings_test
redis:
  addr: redis.internal:6379
worker:
  pool_size: 4
  stages: [scrape, unify]
platforms:
  file: /etc/listings/platforms.yaml
scheduler:
  dispatch_spec: "@every 1m"
elasticsearch:
  enabled: true
  url: http://es.internal:9200
  index: properties_test
  replicas: 2
server:
  port: 9090
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "listings", cfg.App.Name)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "listings", cfg.Redis.Prefix)
	assert.Equal(t, 4, cfg.Worker.PoolSize)
	assert.Equal(t, 5*time.Minute, cfg.Worker.TaskTimeout)
	assert.Equal(t, "@every 1m", cfg.Scheduler.DispatchSpec)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.LeaseTTL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Zero(t, cfg.Server.WriteTimeout)

	assert.True(t, cfg.Elasticsearch.Enabled)
	assert.Equal(t, "http://es.internal:9200", cfg.Elasticsearch.Client.URL)
	assert.Equal(t, "properties_test", cfg.Elasticsearch.Index.Index)
	assert.Equal(t, 2, cfg.Elasticsearch.Index.Replicas)

	stages, err := cfg.Stages()
	require.NoError(t, err)
	assert.Equal(t, []queue.Stage{queue.StageScrape, queue.StageUnify}, stages)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "env-redis:6380")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("SCHEDULER_BATCH_SIZE", "50")
	t.Setenv("APP_DEBUG", "true")

	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "sk-test", cfg.Reasoning.APIKey)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg := &config.Config{}
		cfg.Database.Host = "db"
		cfg.Database.DBName = "listings"
		cfg.Redis.Addr = "redis:6379"
		cfg.Platforms.File = "platforms.yaml"
		cfg.SetDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "missing redis", mutate: func(c *config.Config) { c.Redis.Addr = "" }, wantErr: config.ErrMissingRedis},
		{name: "missing database", mutate: func(c *config.Config) { c.Database.Host = "" }, wantErr: config.ErrMissingDatabase},
		{name: "missing platforms", mutate: func(c *config.Config) { c.Platforms.File = "" }, wantErr: config.ErrMissingPlatforms},
		{name: "bad port", mutate: func(c *config.Config) { c.Server.Port = 70000 }, wantErr: config.ErrInvalidPort},
		{name: "unknown stage", mutate: func(c *config.Config) { c.Worker.Stages = []string{"index"} }, wantErr: config.ErrInvalidStage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_BadSchedulerSpec(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Database.Host, cfg.Database.DBName = "db", "listings"
	cfg.Redis.Addr = "redis:6379"
	cfg.Platforms.File = "platforms.yaml"
	cfg.Scheduler.DispatchSpec = "every now and then"
	cfg.SetDefaults()

	require.Error(t, cfg.Validate())
}
