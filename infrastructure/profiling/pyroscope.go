// Package profiling starts optional continuous profiling for long-running commands.
package profiling

import (
	"fmt"
	"os"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

// Config controls continuous profiling.
type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServerURL   string `mapstructure:"server_url"`
	Environment string `mapstructure:"environment"`
}

// Profiler wraps a running pyroscope profiler. A nil Profiler is valid and does nothing.
type Profiler struct {
	profiler *pyroscope.Profiler
}

// Start starts pyroscope for the named service. It returns nil when profiling is disabled.
func Start(serviceName, version string, cfg Config, log logger.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://pyroscope:4040"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: fmt.Sprintf("north-cloud.%s", serviceName),
		ServerAddress:   cfg.ServerURL,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": cfg.Environment,
			"version":     version,
			"hostname":    hostname,
			"go_version":  runtime.Version(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	log.Info("Continuous profiling started",
		logger.String("server", cfg.ServerURL),
		logger.String("environment", cfg.Environment),
	)
	return &Profiler{profiler: p}, nil
}

// Stop flushes and stops the profiler.
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}
	return p.profiler.Stop()
}
