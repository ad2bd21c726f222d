package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default max stream length to prevent unbounded growth.
const defaultMaxStreamLen = 100000

// Producer enqueues tasks onto stage streams.
type Producer struct {
	client       *StreamsClient
	maxStreamLen int64
	now          func() time.Time
}

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	MaxStreamLen int64 `mapstructure:"max_stream_len"`
}

// NewProducer creates a new task producer.
func NewProducer(client *StreamsClient, cfg ProducerConfig) *Producer {
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}

	return &Producer{
		client:       client,
		maxStreamLen: maxLen,
		now:          time.Now,
	}
}

// Enqueue adds a task to its stage stream.
func (p *Producer) Enqueue(ctx context.Context, task Task) (string, error) {
	if !task.Stage.IsValid() {
		return "", fmt.Errorf("task %s: unknown stage %q", task.ID, task.Stage)
	}

	data, err := encodeTask(task)
	if err != nil {
		return "", err
	}

	values := map[string]any{
		TaskDataField:   data,
		EnqueuedAtField: p.now().UTC().Format(time.RFC3339),
	}

	stream := p.client.StreamName(task.Stage)
	messageID, addErr := p.client.XAdd(ctx, stream, values, p.maxStreamLen)
	if addErr != nil {
		return "", fmt.Errorf("failed to enqueue task to stream %s: %w", stream, addErr)
	}

	return messageID, nil
}

// EnqueueAfter schedules a task to be added to its stream once delay has elapsed. A zero delay
// enqueues immediately.
func (p *Producer) EnqueueAfter(ctx context.Context, task Task, delay time.Duration) error {
	if delay <= 0 {
		_, err := p.Enqueue(ctx, task)
		return err
	}
	if !task.Stage.IsValid() {
		return fmt.Errorf("task %s: unknown stage %q", task.ID, task.Stage)
	}

	data, err := encodeTask(task)
	if err != nil {
		return err
	}

	due := p.now().Add(delay).UnixMilli()
	key := p.client.DelayedName(task.Stage)
	if addErr := p.client.Client().ZAdd(ctx, key, redis.Z{Score: float64(due), Member: data}).Err(); addErr != nil {
		return fmt.Errorf("failed to schedule task on %s: %w", key, addErr)
	}

	return nil
}

// PromoteDue moves delayed tasks whose time has come onto their streams and returns how many
// moved. Concurrent promoters are safe: only the caller that removes a member enqueues it.
func (p *Producer) PromoteDue(ctx context.Context) (int, error) {
	promoted := 0
	now := strconv.FormatInt(p.now().UnixMilli(), 10)

	for _, stage := range AllStages() {
		key := p.client.DelayedName(stage)
		due, err := p.client.Client().ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return promoted, fmt.Errorf("failed to read delayed tasks for %s: %w", stage, err)
		}

		for _, member := range due {
			removed, remErr := p.client.Client().ZRem(ctx, key, member).Result()
			if remErr != nil {
				return promoted, fmt.Errorf("failed to remove delayed task from %s: %w", key, remErr)
			}
			if removed == 0 {
				continue
			}

			task, decodeErr := decodeTask(member)
			if decodeErr != nil {
				continue
			}
			if _, enqErr := p.Enqueue(ctx, task); enqErr != nil {
				return promoted, enqErr
			}
			promoted++
		}
	}

	return promoted, nil
}

// Depth is the queue backlog of one stage.
type Depth struct {
	Stage   Stage `json:"stage"`
	Length  int64 `json:"length"`
	Pending int64 `json:"pending"`
	Delayed int64 `json:"delayed"`
}

// Depth reports stream length, unacknowledged count for group and delayed count of a stage.
func (p *Producer) Depth(ctx context.Context, stage Stage, group string) (Depth, error) {
	d := Depth{Stage: stage}

	length, err := p.client.XLen(ctx, p.client.StreamName(stage))
	if err != nil && !errors.Is(err, redis.Nil) {
		return d, fmt.Errorf("failed to get length of %s stream: %w", stage, err)
	}
	d.Length = length

	pending, err := p.client.PendingCount(ctx, p.client.StreamName(stage), group)
	if err != nil {
		return d, fmt.Errorf("failed to get pending count of %s stream: %w", stage, err)
	}
	d.Pending = pending

	delayed, err := p.client.Client().ZCard(ctx, p.client.DelayedName(stage)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return d, fmt.Errorf("failed to get delayed count of %s: %w", stage, err)
	}
	d.Delayed = delayed

	return d, nil
}

// Purge drops every queued, unacknowledged and delayed task of a stage and recreates the
// consumer group so consumers keep reading. Tasks already being processed finish normally;
// their acknowledgements become no-ops.
func (p *Producer) Purge(ctx context.Context, stage Stage, group string) (int64, error) {
	stream := p.client.StreamName(stage)
	delayed := p.client.DelayedName(stage)

	length, err := p.client.XLen(ctx, stream)
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to get length of %s stream: %w", stage, err)
	}
	scheduled, err := p.client.Client().ZCard(ctx, delayed).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to get delayed count of %s: %w", stage, err)
	}

	if delErr := p.client.Client().Del(ctx, stream, delayed).Err(); delErr != nil {
		return 0, fmt.Errorf("failed to purge %s stream: %w", stage, delErr)
	}

	if group != "" {
		if groupErr := p.client.CreateConsumerGroup(ctx, stream, group); groupErr != nil {
			return 0, groupErr
		}
	}

	return length + scheduled, nil
}
