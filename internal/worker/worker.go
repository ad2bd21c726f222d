package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

// WorkerState represents the current state of a worker.
type WorkerState int32

const (
	// WorkerStateIdle means the worker is waiting for work.
	WorkerStateIdle WorkerState = iota

	// WorkerStateBusy means the worker is processing a task.
	WorkerStateBusy

	// WorkerStateStopped means the worker has stopped.
	WorkerStateStopped

	// stuckThresholdMultiplier is used to calculate stuck threshold from task timeout.
	stuckThresholdMultiplier = 2

	// percentageMultiplier converts ratio to percentage.
	percentageMultiplier = 100
)

// String returns the string representation of a worker state.
func (s WorkerState) String() string {
	switch s {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateBusy:
		return "busy"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TaskHandler processes one stage task. A returned error means the outcome could not be
// recorded; the message is then left unacknowledged for redelivery.
type TaskHandler func(ctx context.Context, task queue.Task) error

// Worker is one slot of the pool.
type Worker struct {
	id          int
	state       atomic.Int32
	handler     TaskHandler
	taskTimeout time.Duration
	logger      infralogger.Logger

	tasksProcessed atomic.Int64
	tasksSucceeded atomic.Int64
	tasksFailed    atomic.Int64
	lastTaskAt     atomic.Int64
	lastError      atomic.Value

	currentTask   atomic.Value
	taskStartedAt atomic.Int64
}

// NewWorker creates a new worker.
func NewWorker(id int, handler TaskHandler, taskTimeout time.Duration, logger infralogger.Logger) *Worker {
	w := &Worker{
		id:          id,
		handler:     handler,
		taskTimeout: taskTimeout,
		logger:      logger,
	}
	w.state.Store(int32(WorkerStateIdle))
	return w
}

// ID returns the worker ID.
func (w *Worker) ID() int {
	return w.id
}

// State returns the current worker state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// IsIdle returns true if the worker is idle.
func (w *Worker) IsIdle() bool {
	return w.State() == WorkerStateIdle
}

// IsBusy returns true if the worker is busy.
func (w *Worker) IsBusy() bool {
	return w.State() == WorkerStateBusy
}

// Process runs the handler for a consumed task under the task timeout.
func (w *Worker) Process(ctx context.Context, consumed *queue.ConsumedTask) error {
	if consumed == nil {
		return fmt.Errorf("worker %d: task cannot be nil", w.id)
	}

	if !w.state.CompareAndSwap(int32(WorkerStateIdle), int32(WorkerStateBusy)) {
		return fmt.Errorf("worker %d: not idle, current state: %s", w.id, w.State())
	}

	w.currentTask.Store(consumed.Task.Key())
	w.taskStartedAt.Store(time.Now().UnixNano())

	defer func() {
		w.currentTask.Store("")
		w.taskStartedAt.Store(0)
		w.state.Store(int32(WorkerStateIdle))
	}()

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	w.logger.Debug("worker processing task",
		infralogger.Int("worker_id", w.id),
		infralogger.String("stage", string(consumed.Stage)),
		infralogger.String("task", consumed.Task.Key()),
	)

	startTime := time.Now()
	err := w.handler(taskCtx, consumed.Task)
	duration := time.Since(startTime)

	w.tasksProcessed.Add(1)
	w.lastTaskAt.Store(time.Now().UnixNano())

	if err != nil {
		w.tasksFailed.Add(1)
		w.lastError.Store(err)
		w.logger.Error("worker task failed",
			infralogger.Int("worker_id", w.id),
			infralogger.String("stage", string(consumed.Stage)),
			infralogger.String("task", consumed.Task.Key()),
			infralogger.Duration("duration", duration),
			infralogger.Error(err),
		)
		return fmt.Errorf("worker %d: task %s failed: %w", w.id, consumed.Task.Key(), err)
	}

	w.tasksSucceeded.Add(1)
	w.logger.Debug("worker task completed",
		infralogger.Int("worker_id", w.id),
		infralogger.String("task", consumed.Task.Key()),
		infralogger.Duration("duration", duration),
	)

	return nil
}

// Stop marks the worker stopped.
func (w *Worker) Stop() {
	w.state.Store(int32(WorkerStateStopped))
}

// Stats returns the worker's statistics.
func (w *Worker) Stats() WorkerStats {
	var lastErr error
	if v := w.lastError.Load(); v != nil {
		lastErr, _ = v.(error)
	}

	var current string
	if v := w.currentTask.Load(); v != nil {
		current, _ = v.(string)
	}

	var lastTaskTime time.Time
	if ts := w.lastTaskAt.Load(); ts > 0 {
		lastTaskTime = time.Unix(0, ts)
	}

	var taskStartTime time.Time
	if ts := w.taskStartedAt.Load(); ts > 0 {
		taskStartTime = time.Unix(0, ts)
	}

	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TasksProcessed: w.tasksProcessed.Load(),
		TasksSucceeded: w.tasksSucceeded.Load(),
		TasksFailed:    w.tasksFailed.Load(),
		LastTaskAt:     lastTaskTime,
		LastError:      lastErr,
		CurrentTask:    current,
		TaskStartedAt:  taskStartTime,
		TaskTimeout:    w.taskTimeout,
	}
}

// WorkerStats holds statistics for a worker.
type WorkerStats struct {
	ID             int
	State          WorkerState
	TasksProcessed int64
	TasksSucceeded int64
	TasksFailed    int64
	LastTaskAt     time.Time
	LastError      error
	CurrentTask    string
	TaskStartedAt  time.Time
	TaskTimeout    time.Duration
}

// SuccessRate returns the success rate as a percentage.
func (s WorkerStats) SuccessRate() float64 {
	if s.TasksProcessed == 0 {
		return 0
	}
	return float64(s.TasksSucceeded) / float64(s.TasksProcessed) * percentageMultiplier
}

// IsHealthy reports whether the worker is running and not stuck on a task for more than
// twice the task timeout.
func (s WorkerStats) IsHealthy() bool {
	if s.State == WorkerStateStopped {
		return false
	}
	if s.State == WorkerStateBusy && !s.TaskStartedAt.IsZero() && s.TaskTimeout > 0 {
		if time.Since(s.TaskStartedAt) > stuckThresholdMultiplier*s.TaskTimeout {
			return false
		}
	}
	return true
}
