package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration in the order defaults, config file, environment. An empty path
// searches ./config.yaml and ./config/config.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	setupViper(v, path)
	setDefaults(v)

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}
	if err := bindEnvironmentVariables(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment variables: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.SetDefaults()

	return &cfg, nil
}

// loadEnvFile loads .env file (ignores error if file doesn't exist).
func loadEnvFile() {
	_ = godotenv.Load()
}

func setupViper(v *viper.Viper, path string) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if path != "" {
		v.SetConfigFile(path)
		return
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
}

// readConfigFile tolerates a missing file only when no explicit path was given.
func readConfigFile(v *viper.Viper, path string) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if path == "" && errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

func bindEnvironmentVariables(v *viper.Viper) error {
	bindings := map[string][]string{
		"app.environment":        {"APP_ENV"},
		"app.debug":              {"APP_DEBUG"},
		"logger.level":           {"LOG_LEVEL"},
		"database.host":          {"POSTGRES_HOST", "DATABASE_HOST"},
		"database.port":          {"POSTGRES_PORT", "DATABASE_PORT"},
		"database.user":          {"POSTGRES_USER", "DATABASE_USER"},
		"database.password":      {"POSTGRES_PASSWORD", "DATABASE_PASSWORD"},
		"database.dbname":        {"POSTGRES_DB", "DATABASE_DBNAME"},
		"redis.addr":             {"REDIS_ADDR"},
		"redis.password":         {"REDIS_PASSWORD"},
		"reasoning.api_key":      {"ANTHROPIC_API_KEY", "REASONING_API_KEY"},
		"elasticsearch.url":      {"ELASTICSEARCH_URL"},
		"elasticsearch.password": {"ELASTIC_PASSWORD", "ELASTICSEARCH_PASSWORD"},
		"elasticsearch.api_key":  {"ELASTICSEARCH_API_KEY"},
		"auth.jwt_secret":        {"AUTH_JWT_SECRET", "JWT_SECRET"},
		"profiling.server_url":   {"PYROSCOPE_SERVER_ADDRESS"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app", map[string]any{
		"name":        "listings",
		"version":     "1.0.0",
		"environment": "production",
		"debug":       false,
	})

	v.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"output_paths": []string{"stdout"},
	})

	v.SetDefault("database", map[string]any{
		"host":           "localhost",
		"port":           "5432",
		"user":           "postgres",
		"password":       "",
		"dbname":         "listings",
		"sslmode":        "disable",
		"max_open_conns": 25,
		"max_idle_conns": 5,
	})

	v.SetDefault("redis", map[string]any{
		"addr":     "localhost:6379",
		"password": "",
		"db":       0,
		"prefix":   "listings",
	})

	v.SetDefault("queue", map[string]any{
		"max_stream_len": 100000,
		"block_timeout":  "5s",
		"batch_size":     10,
		"claim_min_idle": "5m",
		"resume_batch":   500,
	})

	v.SetDefault("worker", map[string]any{
		"pool_size":             8,
		"drain_timeout":         "30s",
		"task_timeout":          "5m",
		"health_check_interval": "30s",
		"consumer_group":        "listings-workers",
		"stages":                []string{},
	})

	v.SetDefault("source", map[string]any{
		"max_attempts":        3,
		"request_timeout":     "30s",
		"max_body_size":       10 * 1024 * 1024,
		"user_agent":          "",
		"requests_per_second": 1.0,
		"burst":               1,
		"breaker_failures":    5,
		"breaker_timeout":     "60s",
		"respect_robots_txt":  false,
	})

	v.SetDefault("platforms", map[string]any{
		"file":  "config/platforms.yml",
		"watch": true,
	})

	v.SetDefault("reasoning", map[string]any{
		"api_key":             "",
		"base_url":            "",
		"model":               "",
		"max_tokens":          0,
		"temperature":         0.0,
		"request_timeout":     "2m",
		"max_retries":         2,
		"requests_per_minute": 50,
	})

	v.SetDefault("geocoding", map[string]any{
		"enabled":             true,
		"base_url":            "",
		"country_codes":       "mx",
		"user_agent":          "",
		"email":               "",
		"timeout":             "10s",
		"requests_per_second": 1.0,
		"max_attempts":        3,
	})

	v.SetDefault("unification", map[string]any{
		"geocode":          true,
		"index_properties": true,
	})

	v.SetDefault("scheduler", map[string]any{
		"dispatch_spec":   "@every 30s",
		"reanalysis_spec": "@every 5m",
		"recovery_spec":   "@every 1m",
		"reload_spec":     "@every 5m",
		"timezone":        "",
		"sweep_timeout":   "2m",
		"batch_size":      200,
		"dispatch_ttl":    "10m",
		"lease_ttl":       "10m",
		"job_timeout":     "15m",
		"stall_timeout":   "30m",
	})

	v.SetDefault("elasticsearch", map[string]any{
		"enabled":      false,
		"url":          "http://127.0.0.1:9200",
		"username":     "",
		"password":     "",
		"api_key":      "",
		"max_retries":  3,
		"ping_timeout": "5s",
		"index":        "listings_properties",
		"shards":       1,
		"replicas":     0,
		"timeout":      "10s",
		"refresh":      false,
	})

	v.SetDefault("server", map[string]any{
		"port":             8080,
		"read_timeout":     "30s",
		"write_timeout":    "0s",
		"idle_timeout":     "120s",
		"shutdown_timeout": "30s",
		"cors_origins":     []string{"*"},
	})

	v.SetDefault("auth", map[string]any{
		"jwt_secret": "",
	})

	v.SetDefault("profiling", map[string]any{
		"enabled":     false,
		"server_url":  "",
		"environment": "",
	})
}
