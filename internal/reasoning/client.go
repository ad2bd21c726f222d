// Package reasoning calls the external reasoning service that unifies listing groups. The
// service is forced to answer through a single tool whose input is validated against a fixed
// schema before it reaches the caller.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	infrahttp "github.com/jonesrussell/north-cloud/listings/infrastructure/http"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
)

const (
	tracerName = "github.com/jonesrussell/north-cloud/listings/reasoning"

	defaultModel          = "claude-sonnet-4-5"
	defaultMaxTokens      = 4096
	defaultRequestTimeout = 2 * time.Minute
	defaultMaxRetries     = 2
	defaultRequestsPerMin = 30
)

// ErrNotConfigured is returned by New when no API key is set.
var ErrNotConfigured = errors.New("reasoning service api key is not configured")

// Config configures the reasoning client.
type Config struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int64         `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = defaultRequestsPerMin
	}
}

// Request is one unification call.
type Request struct {
	GroupID string
	Mode    domain.UnificationMode
	System  string
	Prompt  string
}

// Client calls the reasoning service.
type Client struct {
	api     anthropic.Client
	model   string
	tokens  int64
	temp    float64
	limiter *rate.Limiter
	tracer  trace.Tracer
	log     infralogger.Logger
}

// New creates a client. The limiter spaces calls evenly across a minute.
func New(cfg Config, log infralogger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.RequestTimeout),
		option.WithHTTPClient(infrahttp.NewClient(&infrahttp.ClientConfig{Timeout: -1})),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	perCall := time.Minute / time.Duration(cfg.RequestsPerMinute)

	return &Client{
		api:     anthropic.NewClient(opts...),
		model:   cfg.Model,
		tokens:  cfg.MaxTokens,
		temp:    cfg.Temperature,
		limiter: rate.NewLimiter(rate.Every(perCall), 1),
		tracer:  otel.Tracer(tracerName),
		log:     log,
	}, nil
}

// Unify sends the request and returns the validated result. Errors carry a failure.Kind:
// rate_limited for quota responses, invalid_data for a malformed result.
func (c *Client) Unify(ctx context.Context, req Request) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "reasoning.unify", trace.WithAttributes(
		attribute.String("group_id", req.GroupID),
		attribute.String("mode", string(req.Mode)),
		attribute.String("model", c.model),
	))
	defer span.End()

	result, err := c.unify(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unification call failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("input_tokens", result.InputTokens),
		attribute.Int64("output_tokens", result.OutputTokens),
		attribute.Int("quality_score", result.QualityScore),
	)
	return result, nil
}

func (c *Client) unify(ctx context.Context, req Request) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, failure.Wrap(failure.KindCancelled, fmt.Errorf("reasoning rate limiter: %w", err))
	}

	params := anthropic.MessageNewParams{
		Model:      anthropic.Model(c.model),
		MaxTokens:  c.tokens,
		Messages:   []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Tools:      []anthropic.ToolUnionParam{unificationTool(req.Mode)},
		ToolChoice: anthropic.ToolChoiceParamOfTool(ToolName),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if c.temp > 0 {
		params.Temperature = anthropic.Float(c.temp)
	}

	start := time.Now()
	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	c.log.Debug("Reasoning service responded",
		infralogger.GroupID(req.GroupID),
		infralogger.String("model", string(msg.Model)),
		infralogger.String("stop_reason", string(msg.StopReason)),
		infralogger.Int64("input_tokens", msg.Usage.InputTokens),
		infralogger.Int64("output_tokens", msg.Usage.OutputTokens),
		infralogger.Duration("elapsed", time.Since(start)),
	)

	for _, block := range msg.Content {
		if block.Type != "tool_use" || block.Name != ToolName {
			continue
		}
		result, parseErr := ParseResult(block.Input, req.Mode)
		if parseErr != nil {
			return nil, parseErr
		}
		result.Model = string(msg.Model)
		result.InputTokens = msg.Usage.InputTokens
		result.OutputTokens = msg.Usage.OutputTokens
		return result, nil
	}

	return nil, failure.Wrap(failure.KindInvalidData,
		fmt.Errorf("%w: no %s tool call in response (stop reason %s)", ErrInvalidResult, ToolName, msg.StopReason))
}

// classify tags an SDK error with the failure kind of its HTTP status.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return failure.Wrap(failure.ClassifyStatus(apiErr.StatusCode), fmt.Errorf("reasoning service: %w", err))
	}
	return fmt.Errorf("reasoning service: %w", err)
}
