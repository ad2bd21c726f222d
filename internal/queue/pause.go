package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PausedName returns the key flagging a stage as paused by an operator.
func (c *StreamsClient) PausedName(stage Stage) string {
	return fmt.Sprintf("%s:paused:%s", c.prefix, stage)
}

// Pause flags a stage so that sweeps stop dispatching to it until Resume.
func (p *Producer) Pause(ctx context.Context, stage Stage) error {
	at := p.now().UTC().Format("2006-01-02T15:04:05Z07:00")
	if err := p.client.Client().Set(ctx, p.client.PausedName(stage), at, 0).Err(); err != nil {
		return fmt.Errorf("failed to pause %s stage: %w", stage, err)
	}
	return nil
}

// Resume clears a stage's pause flag.
func (p *Producer) Resume(ctx context.Context, stage Stage) error {
	if err := p.client.Client().Del(ctx, p.client.PausedName(stage)).Err(); err != nil {
		return fmt.Errorf("failed to resume %s stage: %w", stage, err)
	}
	return nil
}

// IsPaused reports whether a stage is paused.
func (p *Producer) IsPaused(ctx context.Context, stage Stage) (bool, error) {
	err := p.client.Client().Get(ctx, p.client.PausedName(stage)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read pause flag of %s stage: %w", stage, err)
	}
	return true, nil
}
