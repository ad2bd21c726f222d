// Package source fetches search result pages and listing pages from source platforms.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/circuitbreaker"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

const (
	tracerName = "github.com/jonesrussell/north-cloud/listings/source"

	defaultMaxAttempts     = 3
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxBodySize     = 10 * 1024 * 1024
	defaultRequestsPerSec  = 1.0
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 2 * time.Minute

	// errorBodyLimit caps how much of an error response is kept on a StatusError.
	errorBodyLimit = 512
)

// Config configures the source client.
type Config struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxBodySize       int           `mapstructure:"max_body_size"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BreakerFailures   int           `mapstructure:"breaker_failures"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	RespectRobotsTxt  bool          `mapstructure:"respect_robots_txt"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = defaultMaxBodySize
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRequestsPerSec
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = defaultBreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = defaultBreakerTimeout
	}
}

// Platforms resolves platform definitions by name.
type Platforms interface {
	Get(name string) (*platform.Definition, error)
}

// Observer receives one call per fetch attempt sequence.
type Observer interface {
	ObserveFetch(platform, operation string, kind failure.Kind, elapsed time.Duration)
}

// Page is a fetched page.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// Client fetches pages through colly with a per-host rate limit, a per-host circuit
// breaker and classified retries.
type Client struct {
	cfg       Config
	platforms Platforms
	breakers  *circuitbreaker.Set
	transport http.RoundTripper
	observer  Observer
	tracer    trace.Tracer
	log       infralogger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport sets the HTTP transport used by every collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithObserver reports fetch outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a source client.
func NewClient(cfg Config, platforms Platforms, log infralogger.Logger, opts ...Option) *Client {
	cfg.SetDefaults()
	c := &Client{
		cfg:       cfg,
		platforms: platforms,
		tracer:    otel.Tracer(tracerName),
		log:       log,
		limiters:  make(map[string]*rate.Limiter),
	}
	c.breakers = circuitbreaker.NewSet(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailures,
		Timeout:          cfg.BreakerTimeout,
		// Client-side and not-found responses say nothing about host health.
		Counts: func(err error) bool {
			switch failure.Classify(err) {
			case failure.KindNetwork, failure.KindTimeout, failure.KindUpstream, failure.KindRateLimited, failure.KindBlocked:
				return true
			default:
				return false
			}
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.Warn("Source circuit breaker state changed",
				infralogger.String("host", name),
				infralogger.String("from", from.String()),
				infralogger.String("to", to.String()),
			)
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchListing fetches a listing page.
func (c *Client) FetchListing(ctx context.Context, platformName, listingURL string) (*Page, error) {
	def, err := c.platforms.Get(platformName)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, err)
	}
	return c.fetch(ctx, def, "fetch_listing", listingURL)
}

// fetch runs one classified, rate-limited, breaker-guarded retry loop for a URL.
func (c *Client) fetch(ctx context.Context, def *platform.Definition, operation, target string) (*Page, error) {
	host, err := hostOf(target)
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidData, err)
	}

	ctx, span := c.tracer.Start(ctx, "source."+operation,
		trace.WithAttributes(
			attribute.String("platform", def.Name),
			attribute.String("url", target),
		))
	defer span.End()

	start := time.Now()
	var page *Page
	err = retry.Do(ctx, failure.RetryConfig(c.cfg.MaxAttempts), func(ctx context.Context) error {
		if waitErr := c.limiter(host, def).Wait(ctx); waitErr != nil {
			return waitErr
		}
		return c.breakers.Get(host).Execute(func() error {
			var visitErr error
			page, visitErr = c.visit(ctx, def, target)
			return visitErr
		})
	})

	kind := failure.Classify(err)
	if c.observer != nil {
		c.observer.ObserveFetch(def.Name, operation, kind, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		c.log.Debug("Source fetch failed",
			infralogger.Platform(def.Name),
			infralogger.String("url", target),
			infralogger.String("kind", string(kind)),
			infralogger.Error(err),
		)
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", page.StatusCode))
	return page, nil
}

// visit performs a single request with a collector bound to ctx.
func (c *Client) visit(ctx context.Context, def *platform.Definition, target string) (*Page, error) {
	collector := colly.NewCollector(c.collectorOptions(ctx, def)...)

	timeout := c.cfg.RequestTimeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	collector.SetRequestTimeout(timeout)
	if c.transport != nil {
		collector.WithTransport(c.transport)
	}

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range def.Headers {
			r.Headers.Set(k, v)
		}
	})

	var (
		page     *Page
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= http.StatusBadRequest {
			fetchErr = &failure.StatusError{
				StatusCode: r.StatusCode,
				URL:        target,
				Body:       truncate(string(r.Body), errorBodyLimit),
			}
			return
		}
		page = &Page{
			URL:        target,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       r.Body,
			FetchedAt:  time.Now(),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			fetchErr = &failure.StatusError{StatusCode: r.StatusCode, URL: target}
			return
		}
		fetchErr = err
	})

	if err := collector.Visit(target); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if page == nil {
		return nil, errors.New("no response received")
	}
	return page, nil
}

func (c *Client) collectorOptions(ctx context.Context, def *platform.Definition) []colly.CollectorOption {
	userAgent := c.cfg.UserAgent
	if def.UserAgent != "" {
		userAgent = def.UserAgent
	}

	opts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
		colly.ParseHTTPErrorResponse(),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(c.cfg.MaxBodySize),
	}
	if userAgent != "" {
		opts = append(opts, colly.UserAgent(userAgent))
	}
	if !c.cfg.RespectRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	return opts
}

// limiter returns the per-host limiter, sized by the platform when it sets a rate.
func (c *Client) limiter(host string, def *platform.Definition) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.limiters[host]; ok {
		return l
	}
	rps, burst := c.cfg.RequestsPerSecond, c.cfg.Burst
	if def.RequestsPerSecond > 0 {
		rps = def.RequestsPerSecond
	}
	if def.Burst > 0 {
		burst = def.Burst
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	c.limiters[host] = l
	return l
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return u.Host, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
