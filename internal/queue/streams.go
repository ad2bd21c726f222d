// Package queue provides the Redis Streams task queue that carries pipeline work between stages.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Default connection timeout for Redis operations.
	defaultConnectionTimeout = 2 * time.Second

	defaultPrefix = "listings"
)

// Stage is one queue-backed step of the pipeline.
type Stage string

const (
	StageDiscovery Stage = "discovery"
	StageScrape    Stage = "scrape"
	StageUnify     Stage = "unify"
)

// AllStages returns every stage in pipeline order.
func AllStages() []Stage {
	return []Stage{StageDiscovery, StageScrape, StageUnify}
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageDiscovery, StageScrape, StageUnify:
		return true
	default:
		return false
	}
}

// ParseStage parses a stage name.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

// StreamsClient wraps a Redis client with streams-specific operations.
type StreamsClient struct {
	client *redis.Client
	prefix string
}

// StreamsConfig holds configuration for the Redis Streams client.
type StreamsConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// NewStreamsClient creates a new Redis Streams client.
func NewStreamsClient(cfg StreamsConfig) (*StreamsClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStreamsClientFromRedis(client, cfg.Prefix), nil
}

// NewStreamsClientFromRedis creates a StreamsClient from an existing Redis client.
func NewStreamsClientFromRedis(client *redis.Client, prefix string) *StreamsClient {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &StreamsClient{
		client: client,
		prefix: prefix,
	}
}

// StreamName returns the stream key for a stage.
func (c *StreamsClient) StreamName(stage Stage) string {
	return fmt.Sprintf("%s:tasks:%s", c.prefix, stage)
}

// DelayedName returns the sorted-set key holding a stage's delayed tasks.
func (c *StreamsClient) DelayedName(stage Stage) string {
	return fmt.Sprintf("%s:delayed:%s", c.prefix, stage)
}

// Close closes the underlying Redis client.
func (c *StreamsClient) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *StreamsClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client.
func (c *StreamsClient) Client() *redis.Client {
	return c.client
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist.
func (c *StreamsClient) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// XAdd adds a message to a stream, trimming it approximately to maxLen when maxLen > 0.
func (c *StreamsClient) XAdd(ctx context.Context, stream string, values map[string]any, maxLen int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return c.client.XAdd(ctx, args).Result()
}

// XReadGroup reads messages from a stream using a consumer group.
func (c *StreamsClient) XReadGroup(
	ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration,
) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
}

// XAck acknowledges messages in a stream.
func (c *StreamsClient) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return c.client.XAck(ctx, stream, group, ids...).Err()
}

// PendingCount returns the number of delivered but unacknowledged messages.
func (c *StreamsClient) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	pending, err := c.client.XPending(ctx, stream, group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || isNoGroup(err) {
			return 0, nil
		}
		return 0, err
	}
	return pending.Count, nil
}

// XPendingExt returns detailed pending entries for a stream.
func (c *StreamsClient) XPendingExt(
	ctx context.Context, stream, group, start, end string, count int64,
) ([]redis.XPendingExt, error) {
	return c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
}

// XClaim claims pending messages for a consumer.
func (c *StreamsClient) XClaim(
	ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string,
) ([]redis.XMessage, error) {
	return c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

// XLen returns the length of a stream.
func (c *StreamsClient) XLen(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}

func isNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}
