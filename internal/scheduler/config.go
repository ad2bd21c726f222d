package scheduler

import (
	"errors"
	"time"
)

// Config configures the sweeps. Specs use the standard five-field cron syntax or descriptors
// such as "@every 30s".
type Config struct {
	DispatchSpec   string        `mapstructure:"dispatch_spec"`
	ReanalysisSpec string        `mapstructure:"reanalysis_spec"`
	RecoverySpec   string        `mapstructure:"recovery_spec"`
	ReloadSpec     string        `mapstructure:"reload_spec"`
	Timezone       string        `mapstructure:"timezone"`
	SweepTimeout   time.Duration `mapstructure:"sweep_timeout"`
	// BatchSize caps the entities one sweep dispatches.
	BatchSize int `mapstructure:"batch_size"`
	// DispatchTTL suppresses re-dispatching an entity whose task is still queued.
	DispatchTTL time.Duration `mapstructure:"dispatch_ttl"`
	// LeaseTTL is how long a group may stay in processing_ai before it is recovered.
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
	// JobTimeout is how long a job may stay running before it is recovered.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	// StallTimeout is how long an active run with no pending or running job may sit before
	// it is reconciled.
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.DispatchSpec == "" {
		c.DispatchSpec = "@every 30s"
	}
	if c.ReanalysisSpec == "" {
		c.ReanalysisSpec = "@every 5m"
	}
	if c.RecoverySpec == "" {
		c.RecoverySpec = "@every 1m"
	}
	if c.ReloadSpec == "" {
		c.ReloadSpec = "@every 5m"
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.DispatchTTL <= 0 {
		c.DispatchTTL = 10 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 10 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 15 * time.Minute
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Minute
	}
}

// Validate checks the sweep schedules.
func (c Config) Validate() error {
	var errs []error
	for _, spec := range []string{c.DispatchSpec, c.ReanalysisSpec, c.RecoverySpec, c.ReloadSpec} {
		if err := ValidateSpec(spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
