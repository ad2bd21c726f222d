package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	// PoolStateStopped means the pool is not running.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is actively processing tasks.
	PoolStateRunning

	// PoolStateDraining means the pool is shutting down gracefully.
	PoolStateDraining

	// poolPercentageMultiplier converts ratio to percentage.
	poolPercentageMultiplier = 100
)

var (
	// ErrPoolNotRunning is returned when submitting to a pool that is not running.
	ErrPoolNotRunning = errors.New("pool is not running")

	// ErrPoolStopping is returned when a submit is interrupted by shutdown.
	ErrPoolStopping = errors.New("pool is stopping")
)

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Pool runs stage tasks on a bounded set of workers.
type Pool struct {
	config  Config
	workers []*Worker
	logger  infralogger.Logger
	state   atomic.Int32
	free    chan *Worker
	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex

	totalProcessed atomic.Int64
	totalSucceeded atomic.Int64
	totalFailed    atomic.Int64
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, handler TaskHandler, logger infralogger.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	p := &Pool{
		config:  cfg,
		logger:  logger,
		workers: make([]*Worker, cfg.PoolSize),
		free:    make(chan *Worker, cfg.PoolSize),
		stopCh:  make(chan struct{}),
	}

	for i := range cfg.PoolSize {
		p.workers[i] = NewWorker(i, handler, cfg.TaskTimeout, logger)
		p.free <- p.workers[i]
	}

	p.state.Store(int32(PoolStateStopped))

	return p, nil
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}

	p.logger.Info("worker pool started",
		infralogger.Int("pool_size", p.config.PoolSize),
	)

	return nil
}

// Stop waits for in-flight tasks to finish, bounded by ctx and the drain timeout.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		return ErrPoolNotRunning
	}

	p.logger.Info("worker pool draining", infralogger.Int("busy_workers", p.BusyCount()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out")
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warn("worker pool drain timeout exceeded")
	}

	p.mu.Lock()
	for _, w := range p.workers {
		if w.IsIdle() {
			w.Stop()
		}
	}
	p.mu.Unlock()

	p.state.Store(int32(PoolStateStopped))
	return nil
}

// Submit runs a task on the next free worker, blocking while all workers are busy. done is
// called with the handler's error once the task finishes.
func (p *Pool) Submit(ctx context.Context, task *queue.ConsumedTask, done func(error)) error {
	if p.State() != PoolStateRunning {
		return ErrPoolNotRunning
	}

	var worker *Worker
	select {
	case worker = <-p.free:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrPoolStopping
	}

	p.wg.Add(1)

	go func() {
		defer func() {
			p.free <- worker
			p.wg.Done()
		}()

		// Shutdown does not interrupt a running task; Stop waits for it up to the drain timeout.
		err := worker.Process(context.WithoutCancel(ctx), task)

		p.totalProcessed.Add(1)
		if err != nil {
			p.totalFailed.Add(1)
		} else {
			p.totalSucceeded.Add(1)
		}
		if done != nil {
			done(err)
		}
	}()

	return nil
}

// State returns the current pool state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// IsRunning returns true if the pool is running.
func (p *Pool) IsRunning() bool {
	return p.State() == PoolStateRunning
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.config.PoolSize
}

// BusyCount returns the number of busy workers.
func (p *Pool) BusyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, w := range p.workers {
		if w.IsBusy() {
			count++
		}
	}
	return count
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	workerStats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		workerStats[i] = w.Stats()
	}
	p.mu.RUnlock()

	busy := 0
	for _, ws := range workerStats {
		if ws.State == WorkerStateBusy {
			busy++
		}
	}

	return PoolStats{
		State:          p.State(),
		PoolSize:       p.config.PoolSize,
		BusyWorkers:    busy,
		IdleWorkers:    p.config.PoolSize - busy,
		TasksProcessed: p.totalProcessed.Load(),
		TasksSucceeded: p.totalSucceeded.Load(),
		TasksFailed:    p.totalFailed.Load(),
		Workers:        workerStats,
	}
}

// PoolStats holds statistics for the pool.
type PoolStats struct {
	State          PoolState
	PoolSize       int
	BusyWorkers    int
	IdleWorkers    int
	TasksProcessed int64
	TasksSucceeded int64
	TasksFailed    int64
	Workers        []WorkerStats
}

// SuccessRate returns the success rate as a percentage.
func (s PoolStats) SuccessRate() float64 {
	if s.TasksProcessed == 0 {
		return 0
	}
	return float64(s.TasksSucceeded) / float64(s.TasksProcessed) * poolPercentageMultiplier
}

// Utilization returns the pool utilization as a percentage.
func (s PoolStats) Utilization() float64 {
	if s.PoolSize == 0 {
		return 0
	}
	return float64(s.BusyWorkers) / float64(s.PoolSize) * poolPercentageMultiplier
}
