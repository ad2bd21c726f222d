package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultConsumerGroup is the consumer group every worker joins.
	DefaultConsumerGroup = "workers"

	// Default block timeout for reading from streams.
	defaultBlockTimeout = 5 * time.Second

	// Default count of messages to read per batch.
	defaultBatchSize = 10

	// Default minimum idle time before claiming pending messages.
	defaultClaimMinIdle = 10 * time.Minute

	// Maximum pending messages to check at once.
	maxPendingCheck = 100
)

// Consumer reads tasks from one or more stage streams.
type Consumer struct {
	client        *StreamsClient
	stages        []Stage
	consumerGroup string
	consumerID    string
	blockTimeout  time.Duration
	batchSize     int64
	claimMinIdle  time.Duration
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Stages        []Stage       // Stages to read (empty = all)
	ConsumerGroup string        // Consumer group name
	ConsumerID    string        // Unique consumer identifier
	BlockTimeout  time.Duration // Block timeout for reads (0 = default)
	BatchSize     int64         // Number of messages per read (0 = default)
	ClaimMinIdle  time.Duration // Min idle time before claiming (0 = default)
}

// NewConsumer creates a new task consumer.
func NewConsumer(client *StreamsClient, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}

	stages := cfg.Stages
	if len(stages) == 0 {
		stages = AllStages()
	}
	for _, s := range stages {
		if !s.IsValid() {
			return nil, fmt.Errorf("unknown stage %q", s)
		}
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = DefaultConsumerGroup
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	claimMinIdle := cfg.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = defaultClaimMinIdle
	}

	return &Consumer{
		client:        client,
		stages:        stages,
		consumerGroup: group,
		consumerID:    cfg.ConsumerID,
		blockTimeout:  blockTimeout,
		batchSize:     batchSize,
		claimMinIdle:  claimMinIdle,
	}, nil
}

// Initialize creates consumer groups for the consumer's stage streams.
func (c *Consumer) Initialize(ctx context.Context) error {
	for _, stage := range c.stages {
		stream := c.client.StreamName(stage)
		if err := c.client.CreateConsumerGroup(ctx, stream, c.consumerGroup); err != nil {
			return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
		}
	}
	return nil
}

// Read returns reclaimed idle tasks if there are any, otherwise new tasks.
func (c *Consumer) Read(ctx context.Context) ([]*ConsumedTask, error) {
	if reclaimed := c.reclaimPending(ctx); len(reclaimed) > 0 {
		return reclaimed, nil
	}

	tasks, err := c.readNewMessages(ctx)
	if err != nil && isNoGroup(err) {
		// A purge removed the stream; recreate the groups and read on the next call.
		if initErr := c.Initialize(ctx); initErr != nil {
			return nil, initErr
		}
		return nil, nil
	}
	return tasks, err
}

// Acknowledge acknowledges processing of a task.
func (c *Consumer) Acknowledge(ctx context.Context, task *ConsumedTask) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	stream := c.client.StreamName(task.Stage)
	return c.client.XAck(ctx, stream, c.consumerGroup, task.MessageID)
}

func (c *Consumer) readNewMessages(ctx context.Context) ([]*ConsumedTask, error) {
	streams := make([]string, 0, len(c.stages)*2)
	for _, stage := range c.stages {
		streams = append(streams, c.client.StreamName(stage))
	}
	for range c.stages {
		streams = append(streams, ">")
	}

	messages, err := c.client.XReadGroup(ctx, c.consumerGroup, c.consumerID, streams, c.batchSize, c.blockTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from streams: %w", err)
	}

	var tasks []*ConsumedTask
	for _, stream := range messages {
		stage := c.stageForStream(stream.Stream)
		for _, msg := range stream.Messages {
			task, parseErr := parseMessage(msg, stage)
			if parseErr != nil {
				// Malformed messages would be redelivered forever.
				_ = c.client.XAck(ctx, stream.Stream, c.consumerGroup, msg.ID)
				continue
			}
			tasks = append(tasks, task)
		}
	}

	return tasks, nil
}

func (c *Consumer) reclaimPending(ctx context.Context) []*ConsumedTask {
	var reclaimed []*ConsumedTask

	for _, stage := range c.stages {
		stream := c.client.StreamName(stage)

		pending, err := c.client.XPendingExt(ctx, stream, c.consumerGroup, "-", "+", maxPendingCheck)
		if err != nil {
			continue
		}

		var ids []string
		for _, entry := range pending {
			if entry.Idle >= c.claimMinIdle {
				ids = append(ids, entry.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		claimed, claimErr := c.client.XClaim(ctx, stream, c.consumerGroup, c.consumerID, c.claimMinIdle, ids...)
		if claimErr != nil {
			continue
		}

		for _, msg := range claimed {
			task, parseErr := parseMessage(msg, stage)
			if parseErr != nil {
				continue
			}
			reclaimed = append(reclaimed, task)
		}
	}

	return reclaimed
}

func (c *Consumer) stageForStream(stream string) Stage {
	for _, stage := range c.stages {
		if c.client.StreamName(stage) == stream {
			return stage
		}
	}
	return ""
}

func parseMessage(msg redis.XMessage, stage Stage) (*ConsumedTask, error) {
	data, ok := msg.Values[TaskDataField].(string)
	if !ok {
		return nil, errors.New("missing or invalid task data")
	}

	task, err := decodeTask(data)
	if err != nil {
		return nil, err
	}

	consumed := &ConsumedTask{
		MessageID: msg.ID,
		Stage:     stage,
		Task:      task,
	}

	if enqueuedStr, hasEnqueued := msg.Values[EnqueuedAtField].(string); hasEnqueued {
		if t, parseErr := time.Parse(time.RFC3339, enqueuedStr); parseErr == nil {
			consumed.EnqueuedAt = t
		}
	}

	return consumed, nil
}

// ConsumerGroup returns the consumer group name.
func (c *Consumer) ConsumerGroup() string {
	return c.consumerGroup
}

// ConsumerID returns the consumer ID.
func (c *Consumer) ConsumerID() string {
	return c.consumerID
}
