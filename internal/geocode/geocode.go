// Package geocode resolves addresses to coordinates through a Nominatim-compatible search API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/circuitbreaker"
	infrahttp "github.com/jonesrussell/north-cloud/listings/infrastructure/http"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
)

const (
	defaultBaseURL        = "https://nominatim.openstreetmap.org"
	defaultTimeout        = 10 * time.Second
	defaultRequestsPerSec = 1.0
	defaultMaxAttempts    = 3
	defaultUserAgent      = "north-cloud-listings/1.0"
	maxResponseBytes      = 1 << 20
)

// Config configures the geocoder.
type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	CountryCodes      string        `mapstructure:"country_codes"`
	UserAgent         string        `mapstructure:"user_agent"`
	Email             string        `mapstructure:"email"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRequestsPerSec
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// Point is a resolved coordinate pair.
type Point struct {
	Lat         float64
	Lng         float64
	DisplayName string
}

// Client geocodes addresses.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	log     infralogger.Logger
}

// New creates a geocoding client.
func New(cfg Config, log infralogger.Logger) *Client {
	cfg.SetDefaults()

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.Counts = func(err error) bool {
		kind := failure.Classify(err)
		return kind != failure.KindNotFound && kind != failure.KindInvalidData
	}

	return &Client{
		cfg:     cfg,
		http:    infrahttp.NewClient(&infrahttp.ClientConfig{Timeout: cfg.Timeout}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker: circuitbreaker.New("geocoder", breakerCfg),
		log:     log,
	}
}

// Geocode returns the best match for address, or nil when nothing matched. city and state are
// appended to the query when they are not already part of the address.
func (c *Client) Geocode(ctx context.Context, address, city, state string) (*Point, error) {
	query := buildQuery(address, city, state)
	if query == "" {
		return nil, nil
	}

	var point *Point
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: time.Second,
		IsRetryable: func(err error) bool {
			return failure.PolicyFor(failure.Classify(err)).Retryable
		},
	}, func(ctx context.Context) error {
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			return waitErr
		}
		return c.breaker.Execute(func() error {
			var searchErr error
			point, searchErr = c.search(ctx, query)
			return searchErr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}

	if point == nil {
		c.log.Debug("Geocoder found no match", infralogger.String("query", query))
	}
	return point, nil
}

type searchHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (c *Client) search(ctx context.Context, query string) (*Point, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	if c.cfg.CountryCodes != "" {
		params.Set("countrycodes", c.cfg.CountryCodes)
	}
	if c.cfg.Email != "" {
		params.Set("email", c.cfg.Email)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &failure.StatusError{StatusCode: resp.StatusCode, URL: c.cfg.BaseURL}
	}

	var hits []searchHit
	if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&hits); decodeErr != nil {
		return nil, failure.Wrap(failure.KindInvalidData, fmt.Errorf("decode geocoder response: %w", decodeErr))
	}
	if len(hits) == 0 {
		return nil, nil
	}

	lat, latErr := strconv.ParseFloat(hits[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(hits[0].Lon, 64)
	if err := errors.Join(latErr, lngErr); err != nil {
		return nil, failure.Wrap(failure.KindInvalidData, fmt.Errorf("parse geocoder coordinates: %w", err))
	}

	return &Point{Lat: lat, Lng: lng, DisplayName: hits[0].DisplayName}, nil
}

func buildQuery(address, city, state string) string {
	parts := make([]string, 0, 3)
	lower := strings.ToLower(address)
	if a := strings.TrimSpace(address); a != "" {
		parts = append(parts, a)
	}
	for _, extra := range []string{city, state} {
		extra = strings.TrimSpace(extra)
		if extra != "" && !strings.Contains(lower, strings.ToLower(extra)) {
			parts = append(parts, extra)
		}
	}
	return strings.Join(parts, ", ")
}
