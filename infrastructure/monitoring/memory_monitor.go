// Package monitoring watches heap and goroutine growth of a long-running process against a
// baseline taken after warm-up.
package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	infragin "github.com/jonesrussell/north-cloud/listings/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

const (
	// DefaultThreshold flags growth beyond 3x the baseline.
	DefaultThreshold     = 3.0
	DefaultCheckInterval = 5 * time.Minute
	DefaultWarmup        = 2 * time.Minute

	bytesPerMB = 1024 * 1024
)

// MemoryMonitor compares heap and goroutine counts to a baseline.
type MemoryMonitor struct {
	mu                 sync.RWMutex
	baselineHeap       uint64
	baselineGoroutines int
	lastReport         string

	threshold     float64
	checkInterval time.Duration
	warmup        time.Duration
	log           infralogger.Logger
	snapshot      func() MemorySnapshot
}

// MemorySnapshot is a point-in-time memory state.
type MemorySnapshot struct {
	Timestamp    time.Time
	HeapAlloc    uint64
	HeapInuse    uint64
	StackInuse   uint64
	NumGC        uint32
	NumGoroutine int
}

// NewMemoryMonitor creates a monitor. Zero arguments take the defaults.
func NewMemoryMonitor(threshold float64, checkInterval, warmup time.Duration, log infralogger.Logger) *MemoryMonitor {
	if threshold <= 1 {
		threshold = DefaultThreshold
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if warmup < 0 {
		warmup = DefaultWarmup
	}
	return &MemoryMonitor{
		threshold:     threshold,
		checkInterval: checkInterval,
		warmup:        warmup,
		log:           log,
		snapshot:      TakeSnapshot,
	}
}

// TakeSnapshot captures the current memory state.
func TakeSnapshot() MemorySnapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return MemorySnapshot{
		Timestamp:    time.Now(),
		HeapAlloc:    stats.Alloc,
		HeapInuse:    stats.HeapInuse,
		StackInuse:   stats.StackInuse,
		NumGC:        stats.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
	}
}

// EstablishBaseline records the current state as the baseline.
func (m *MemoryMonitor) EstablishBaseline() {
	s := m.take()

	m.mu.Lock()
	m.baselineHeap = s.HeapAlloc
	m.baselineGoroutines = s.NumGoroutine
	m.mu.Unlock()

	m.log.Info("Memory baseline established",
		infralogger.Float64("heap_mb", float64(s.HeapAlloc)/bytesPerMB),
		infralogger.Int("goroutines", s.NumGoroutine),
	)
}

// CheckForLeaks reports whether heap or goroutines grew past the threshold. It never reports
// growth before a baseline exists.
func (m *MemoryMonitor) CheckForLeaks() (leaked bool, report string) {
	m.mu.RLock()
	baselineHeap := m.baselineHeap
	baselineGoroutines := m.baselineGoroutines
	m.mu.RUnlock()

	if baselineHeap == 0 || baselineGoroutines == 0 {
		return false, ""
	}

	s := m.take()

	if growth := float64(s.HeapAlloc) / float64(baselineHeap); growth > m.threshold {
		return true, fmt.Sprintf("heap grew %.2fx (%.2f MB to %.2f MB)",
			growth, float64(baselineHeap)/bytesPerMB, float64(s.HeapAlloc)/bytesPerMB)
	}
	if growth := float64(s.NumGoroutine) / float64(baselineGoroutines); growth > m.threshold {
		return true, fmt.Sprintf("goroutines grew %.2fx (%d to %d)",
			growth, baselineGoroutines, s.NumGoroutine)
	}
	return false, ""
}

// Run waits for warm-up, takes the baseline and checks periodically until ctx is cancelled.
func (m *MemoryMonitor) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.warmup):
	}
	m.EstablishBaseline()

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			leaked, report := m.CheckForLeaks()
			m.mu.Lock()
			m.lastReport = report
			m.mu.Unlock()
			if leaked {
				m.log.Warn("Memory growth above threshold", infralogger.String("report", report))
			}
		}
	}
}

// HealthCheck reports the last periodic result. Growth degrades the service but never makes it
// unhealthy.
func (m *MemoryMonitor) HealthCheck(context.Context) infragin.CheckResult {
	m.mu.RLock()
	report := m.lastReport
	m.mu.RUnlock()

	if report != "" {
		return infragin.CheckResult{Status: infragin.HealthStatusDegraded, Message: report}
	}
	s := m.take()
	return infragin.CheckResult{
		Status:  infragin.HealthStatusHealthy,
		Message: fmt.Sprintf("heap %.1f MB, %d goroutines", float64(s.HeapAlloc)/bytesPerMB, s.NumGoroutine),
	}
}

func (m *MemoryMonitor) take() MemorySnapshot {
	m.mu.RLock()
	snapshot := m.snapshot
	m.mu.RUnlock()
	return snapshot()
}
