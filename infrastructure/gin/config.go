// Package gin provides the HTTP server, middleware and health endpoints shared by the listings
// API.
package gin

import (
	"time"
)

// Server timeouts used when the configuration leaves them zero.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	corsMaxAge = 12 * time.Hour
)

// Config holds the HTTP server configuration. A zero WriteTimeout disables the write deadline,
// which the run event stream needs.
type Config struct {
	Port            int
	Debug           bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	CORS CORSConfig

	// ServiceName and ServiceVersion are reported by the health endpoint.
	ServiceName    string
	ServiceVersion string
}

// CORSConfig lists the origins allowed to call the API from a browser. "*" allows every origin.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "1.0.0"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
}
