package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/worker"
)

func testPoolConfig(size int) worker.Config {
	cfg := worker.DefaultConfig()
	cfg.PoolSize = size
	cfg.DrainTimeout = 2 * time.Second
	cfg.TaskTimeout = time.Second
	return cfg
}

func consumed(id string) *queue.ConsumedTask {
	return &queue.ConsumedTask{
		MessageID: id,
		Stage:     queue.StageScrape,
		Task:      queue.NewJobTask(queue.StageScrape, "run-1", id),
	}
}

func TestNewPool_Validation(t *testing.T) {
	t.Parallel()

	_, err := worker.NewPool(testPoolConfig(0), func(context.Context, queue.Task) error { return nil }, infralogger.NewNop())
	require.Error(t, err)

	_, err = worker.NewPool(testPoolConfig(2), nil, infralogger.NewNop())
	require.Error(t, err)
}

func TestPool_SubmitRequiresRunning(t *testing.T) {
	t.Parallel()

	pool, err := worker.NewPool(testPoolConfig(1), func(context.Context, queue.Task) error { return nil }, infralogger.NewNop())
	require.NoError(t, err)

	err = pool.Submit(context.Background(), consumed("a"), nil)
	require.ErrorIs(t, err, worker.ErrPoolNotRunning)
	require.ErrorIs(t, pool.Stop(context.Background()), worker.ErrPoolNotRunning)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 3
	var running, peak atomic.Int32
	release := make(chan struct{})

	handler := func(context.Context, queue.Task) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}

	pool, err := worker.NewPool(testPoolConfig(size), handler, infralogger.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Start())

	var wg sync.WaitGroup
	done := func(error) { wg.Done() }

	ctx := context.Background()
	for i := range size {
		wg.Add(1)
		require.NoError(t, pool.Submit(ctx, consumed(string(rune('a'+i))), done))
	}

	// A fourth submit blocks until a worker frees up.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pool.Submit(blocked, consumed("d"), nil), context.DeadlineExceeded)
	require.Eventually(t, func() bool { return pool.BusyCount() == size }, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, int32(size), peak.Load())
	require.NoError(t, pool.Stop(ctx))
	assert.Equal(t, worker.PoolStateStopped, pool.State())

	stats := pool.Stats()
	assert.Equal(t, int64(size), stats.TasksProcessed)
	assert.InDelta(t, 100.0, stats.SuccessRate(), 0.001)
}

func TestPool_DoneReceivesHandlerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	pool, err := worker.NewPool(testPoolConfig(1), func(context.Context, queue.Task) error { return boom }, infralogger.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Start())

	got := make(chan error, 1)
	require.NoError(t, pool.Submit(context.Background(), consumed("a"), func(err error) { got <- err }))

	select {
	case err := <-got:
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("done was not called")
	}

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int64(1), pool.Stats().TasksFailed)
}

func TestPool_StopWaitsForRunningTask(t *testing.T) {
	t.Parallel()

	var finished atomic.Bool
	started := make(chan struct{})
	handler := func(ctx context.Context, _ queue.Task) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return nil
	}

	pool, err := worker.NewPool(testPoolConfig(1), handler, infralogger.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Start())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Submit(ctx, consumed("a"), nil))
	<-started
	cancel()

	require.NoError(t, pool.Stop(context.Background()))
	assert.True(t, finished.Load(), "a running task keeps its context through shutdown")
}

func TestHealthMonitor_Check(t *testing.T) {
	t.Parallel()

	pool, err := worker.NewPool(testPoolConfig(2), func(context.Context, queue.Task) error { return nil }, infralogger.NewNop())
	require.NoError(t, err)

	monitor := worker.NewHealthMonitor(pool, time.Minute, infralogger.NewNop())
	assert.Equal(t, worker.HealthStatusUnhealthy, monitor.Check().Status)

	require.NoError(t, pool.Start())
	check := monitor.Check()
	assert.Equal(t, worker.HealthStatusHealthy, check.Status)
	assert.Equal(t, 2, check.TotalWorkers)
	assert.True(t, monitor.IsHealthy())

	require.NoError(t, pool.Stop(context.Background()))
}

// --- Runner ---

type recordingHandler struct {
	mu      sync.Mutex
	seen    []string
	failFor string
}

func (h *recordingHandler) handle(_ context.Context, task queue.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, task.JobID)
	if task.JobID == h.failFor {
		return errors.New("cannot record outcome")
	}
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestRunner_ConsumesAndAcknowledges(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := queue.NewStreamsClientFromRedis(rdb, "test")
	producer := queue.NewProducer(client, queue.ProducerConfig{})
	consumer, err := queue.NewConsumer(client, queue.ConsumerConfig{
		Stages:        []queue.Stage{queue.StageScrape},
		ConsumerGroup: "listings-workers",
		ConsumerID:    "worker-1",
		BlockTimeout:  50 * time.Millisecond,
	})
	require.NoError(t, err)

	handler := &recordingHandler{failFor: "job-3"}
	pool, err := worker.NewPool(testPoolConfig(2), handler.handle, infralogger.NewNop())
	require.NoError(t, err)

	runner := worker.NewRunner(consumer, pool, producer, infralogger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Initialize(ctx))
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		_, enqueueErr := producer.Enqueue(ctx, queue.NewJobTask(queue.StageScrape, "run-1", id))
		require.NoError(t, enqueueErr)
	}

	require.Eventually(t, func() bool { return handler.count() == 3 }, 2*time.Second, 10*time.Millisecond)

	// The failed task stays pending for redelivery; the others are acknowledged.
	require.Eventually(t, func() bool {
		pending, pendErr := client.PendingCount(ctx, client.StreamName(queue.StageScrape), "listings-workers")
		return pendErr == nil && pending == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case runErr := <-errCh:
		require.NoError(t, runErr)
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, worker.PoolStateStopped, pool.State())
}
