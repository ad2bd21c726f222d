package bootstrap

import (
	"fmt"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/config"
)

// LoadConfig loads and validates configuration. debug forces debug logging.
func LoadConfig(path string, debug bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.App.Debug = true
		cfg.Logger.Level = "debug"
		cfg.Logger.Development = true
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, fmt.Errorf("validate config: %w", validationErr)
	}
	return cfg, nil
}

// CreateLogger creates the service logger.
func CreateLogger(cfg *config.Config) (infralogger.Logger, error) {
	log, err := infralogger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(
		infralogger.String("service", cfg.App.Name),
		infralogger.String("version", cfg.App.Version),
		infralogger.String("environment", cfg.App.Environment),
	), nil
}
