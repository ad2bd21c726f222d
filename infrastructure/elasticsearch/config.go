package elasticsearch

import (
	"time"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/retry"
)

const (
	defaultURL         = "http://localhost:9200"
	defaultMaxRetries  = 3
	defaultPingTimeout = 5 * time.Second
)

// Config holds the connection settings of the property read model cluster. APIKey takes
// precedence over basic auth.
type Config struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" json:"-"`
	APIKey   string `mapstructure:"api_key"  json:"-"`

	// InsecureSkipVerify accepts self-signed certificates of development clusters.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	MaxRetries  int           `mapstructure:"max_retries"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`

	// RetryConfig paces the startup check. Nil means 5 attempts starting at 2s.
	RetryConfig *retry.Config `mapstructure:"-"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = defaultURL
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = defaultPingTimeout
	}
	if c.RetryConfig == nil {
		c.RetryConfig = &retry.Config{
			MaxAttempts:  5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		}
	}
}
