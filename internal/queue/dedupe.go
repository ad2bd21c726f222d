package queue

import (
	"context"
	"fmt"
	"time"
)

// DedupeName returns the key marking an entity as recently dispatched.
func (c *StreamsClient) DedupeName(key string) string {
	return fmt.Sprintf("%s:dispatched:%s", c.prefix, key)
}

// EnqueueOnce enqueues a task unless a task for the same entity was dispatched within ttl.
// It reports whether the task was enqueued.
func (p *Producer) EnqueueOnce(ctx context.Context, task Task, ttl time.Duration) (bool, error) {
	key := p.client.DedupeName(task.Key())

	ok, err := p.client.Client().SetNX(ctx, key, task.ID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark %s dispatched: %w", task.Key(), err)
	}
	if !ok {
		return false, nil
	}

	if _, err := p.Enqueue(ctx, task); err != nil {
		p.client.Client().Del(context.WithoutCancel(ctx), key)
		return false, err
	}
	return true, nil
}
