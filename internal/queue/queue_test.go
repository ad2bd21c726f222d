package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*StreamsClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStreamsClientFromRedis(rdb, "test"), mr
}

func newTestConsumer(t *testing.T, client *StreamsClient, stages ...Stage) *Consumer {
	t.Helper()

	c, err := NewConsumer(client, ConsumerConfig{
		Stages:       stages,
		ConsumerID:   "worker-1",
		BlockTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))
	return c
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	producer := NewProducer(client, ProducerConfig{})
	consumer := newTestConsumer(t, client)

	_, err := producer.Enqueue(ctx, NewJobTask(StageDiscovery, "run-1", "job-1"))
	require.NoError(t, err)
	_, err = producer.Enqueue(ctx, NewUnifyTask("group-1"))
	require.NoError(t, err)

	tasks, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	byStage := map[Stage]Task{}
	for _, ct := range tasks {
		byStage[ct.Stage] = ct.Task
		assert.False(t, ct.EnqueuedAt.IsZero())
	}
	assert.Equal(t, "job-1", byStage[StageDiscovery].JobID)
	assert.Equal(t, "group-1", byStage[StageUnify].GroupID)

	depth, err := producer.Depth(ctx, StageDiscovery, consumer.ConsumerGroup())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth.Length)
	assert.Equal(t, int64(1), depth.Pending)

	for _, ct := range tasks {
		require.NoError(t, consumer.Acknowledge(ctx, ct))
	}

	depth, err = producer.Depth(ctx, StageDiscovery, consumer.ConsumerGroup())
	require.NoError(t, err)
	assert.Zero(t, depth.Pending)
}

func TestProducer_EnqueueRejectsUnknownStage(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := NewProducer(client, ProducerConfig{}).Enqueue(context.Background(), Task{ID: "x", Stage: "bogus"})
	require.Error(t, err)
}

func TestProducer_DelayedTasksArePromotedWhenDue(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	producer := NewProducer(client, ProducerConfig{})
	producer.now = func() time.Time { return now }

	require.NoError(t, producer.EnqueueAfter(ctx, NewJobTask(StageScrape, "run-1", "job-9"), time.Minute))

	promoted, err := producer.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	depth, err := producer.Depth(ctx, StageScrape, DefaultConsumerGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth.Delayed)

	now = now.Add(2 * time.Minute)
	promoted, err = producer.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	consumer := newTestConsumer(t, client, StageScrape)
	tasks, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "job-9", tasks[0].Task.JobID)
}

func TestProducer_PurgeClearsStageAndConsumersKeepReading(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	producer := NewProducer(client, ProducerConfig{})
	consumer := newTestConsumer(t, client, StageScrape)

	for i := range 3 {
		_, err := producer.Enqueue(ctx, NewJobTask(StageScrape, "run-1", "job-"+string(rune('a'+i))))
		require.NoError(t, err)
	}
	require.NoError(t, producer.EnqueueAfter(ctx, NewJobTask(StageScrape, "run-1", "job-z"), time.Hour))

	purged, err := producer.Purge(ctx, StageScrape, consumer.ConsumerGroup())
	require.NoError(t, err)
	assert.Equal(t, int64(4), purged)

	depth, err := producer.Depth(ctx, StageScrape, consumer.ConsumerGroup())
	require.NoError(t, err)
	assert.Zero(t, depth.Length)
	assert.Zero(t, depth.Delayed)

	_, err = producer.Enqueue(ctx, NewJobTask(StageScrape, "run-2", "job-new"))
	require.NoError(t, err)

	tasks, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "job-new", tasks[0].Task.JobID)
}

func TestProducer_PauseAndResume(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	producer := NewProducer(client, ProducerConfig{})

	paused, err := producer.IsPaused(ctx, StageUnify)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, producer.Pause(ctx, StageUnify))
	assert.True(t, mr.Exists("test:paused:unify"))

	paused, err = producer.IsPaused(ctx, StageUnify)
	require.NoError(t, err)
	assert.True(t, paused)

	paused, err = producer.IsPaused(ctx, StageScrape)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, producer.Resume(ctx, StageUnify))
	paused, err = producer.IsPaused(ctx, StageUnify)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestProducer_EnqueueOnceSuppressesDuplicatesUntilExpiry(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	producer := NewProducer(client, ProducerConfig{})

	ok, err := producer.EnqueueOnce(ctx, NewUnifyTask("group-1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = producer.EnqueueOnce(ctx, NewUnifyTask("group-1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = producer.EnqueueOnce(ctx, NewUnifyTask("group-2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = producer.EnqueueOnce(ctx, NewUnifyTask("group-1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	depth, err := producer.Depth(ctx, StageUnify, DefaultConsumerGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth.Length)
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage(" Scrape ")
	require.NoError(t, err)
	assert.Equal(t, StageScrape, s)

	_, err = ParseStage("dedup")
	require.Error(t, err)
}
