package worker

import (
	"context"
	"sync"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

// HealthStatus represents the health status of the pool.
type HealthStatus string

const (
	// HealthStatusHealthy means the pool is operating normally.
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusDegraded means the pool has some stuck workers.
	HealthStatusDegraded HealthStatus = "degraded"

	// HealthStatusUnhealthy means the pool is not functioning properly.
	HealthStatusUnhealthy HealthStatus = "unhealthy"

	// degradedThreshold is the minimum healthy ratio to be considered degraded (vs unhealthy).
	degradedThreshold = 0.5
)

// HealthCheck represents a health check result.
type HealthCheck struct {
	Status           HealthStatus         `json:"status"`
	Timestamp        time.Time            `json:"timestamp"`
	PoolState        string               `json:"pool_state"`
	TotalWorkers     int                  `json:"total_workers"`
	HealthyWorkers   int                  `json:"healthy_workers"`
	UnhealthyWorkers int                  `json:"unhealthy_workers"`
	BusyWorkers      int                  `json:"busy_workers"`
	TasksProcessed   int64                `json:"tasks_processed"`
	TasksFailed      int64                `json:"tasks_failed"`
	Details          []WorkerHealthDetail `json:"details,omitempty"`
}

// WorkerHealthDetail contains health details for a single worker.
type WorkerHealthDetail struct {
	WorkerID     int           `json:"worker_id"`
	State        string        `json:"state"`
	IsHealthy    bool          `json:"is_healthy"`
	CurrentTask  string        `json:"current_task,omitempty"`
	TaskDuration time.Duration `json:"task_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// HealthMonitor periodically checks the pool and keeps the latest result.
type HealthMonitor struct {
	pool      *Pool
	logger    infralogger.Logger
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	mu        sync.RWMutex
	lastCheck *HealthCheck
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger infralogger.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}

	return &HealthMonitor{
		pool:     pool,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the health monitor.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop stops the health monitor.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Check performs a health check and returns the result.
func (m *HealthMonitor) Check() HealthCheck {
	stats := m.pool.Stats()

	healthy := 0
	details := make([]WorkerHealthDetail, len(stats.Workers))

	for i, ws := range stats.Workers {
		isHealthy := ws.IsHealthy()
		if isHealthy {
			healthy++
		}

		var lastErr string
		if ws.LastError != nil {
			lastErr = ws.LastError.Error()
		}

		var taskDuration time.Duration
		if ws.State == WorkerStateBusy && !ws.TaskStartedAt.IsZero() {
			taskDuration = time.Since(ws.TaskStartedAt)
		}

		details[i] = WorkerHealthDetail{
			WorkerID:     ws.ID,
			State:        ws.State.String(),
			IsHealthy:    isHealthy,
			CurrentTask:  ws.CurrentTask,
			TaskDuration: taskDuration,
			LastError:    lastErr,
		}
	}

	check := HealthCheck{
		Status:           determineStatus(stats.State, stats.PoolSize, healthy),
		Timestamp:        time.Now(),
		PoolState:        stats.State.String(),
		TotalWorkers:     stats.PoolSize,
		HealthyWorkers:   healthy,
		UnhealthyWorkers: stats.PoolSize - healthy,
		BusyWorkers:      stats.BusyWorkers,
		TasksProcessed:   stats.TasksProcessed,
		TasksFailed:      stats.TasksFailed,
		Details:          details,
	}

	m.mu.Lock()
	m.lastCheck = &check
	m.mu.Unlock()

	return check
}

// LastCheck returns the most recent health check result.
func (m *HealthMonitor) LastCheck() *HealthCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck
}

func determineStatus(state PoolState, total, healthy int) HealthStatus {
	if total == 0 || state != PoolStateRunning {
		return HealthStatusUnhealthy
	}
	if healthy == total {
		return HealthStatusHealthy
	}
	if float64(healthy)/float64(total) >= degradedThreshold {
		return HealthStatusDegraded
	}
	return HealthStatusUnhealthy
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.performCheck()

	for {
		select {
		case <-ticker.C:
			m.performCheck()
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

func (m *HealthMonitor) performCheck() {
	check := m.Check()

	switch check.Status {
	case HealthStatusHealthy:
		m.logger.Debug("pool health check: healthy",
			infralogger.Int("total_workers", check.TotalWorkers),
			infralogger.Int("busy_workers", check.BusyWorkers),
		)
	case HealthStatusDegraded:
		m.logger.Warn("pool health check: degraded",
			infralogger.Int("healthy_workers", check.HealthyWorkers),
			infralogger.Int("unhealthy_workers", check.UnhealthyWorkers),
		)
	case HealthStatusUnhealthy:
		m.logger.Error("pool health check: unhealthy",
			infralogger.String("pool_state", check.PoolState),
			infralogger.Int("healthy_workers", check.HealthyWorkers),
			infralogger.Int("unhealthy_workers", check.UnhealthyWorkers),
		)
	}
}

// IsHealthy returns true if the pool is healthy or degraded.
func (m *HealthMonitor) IsHealthy() bool {
	check := m.LastCheck()
	if check == nil {
		return false
	}
	return check.Status == HealthStatusHealthy || check.Status == HealthStatusDegraded
}
