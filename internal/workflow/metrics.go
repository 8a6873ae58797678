package workflow

import (
	"sync"
	"time"
)

// EngineMetrics is a point-in-time snapshot of the engine's cumulative step
// counters. It carries no lock and is safe to copy.
type EngineMetrics struct {
	WorkflowsExecuted int64
	StepsExecuted     int64
	StepsSucceeded    int64
	StepsFailed       int64
	StepsSkipped      int64
	TotalStepDuration time.Duration
	LongestStep       time.Duration
}

// metricsRecorder aggregates counters behind a lock; snapshots are handed
// out as plain EngineMetrics values.
type metricsRecorder struct {
	mu       sync.Mutex
	counters EngineMetrics
}

func (m *metricsRecorder) recordWorkflow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.WorkflowsExecuted++
}

func (m *metricsRecorder) recordStep(status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.StepsExecuted++
	switch status {
	case "succeeded":
		m.counters.StepsSucceeded++
	case "failed":
		m.counters.StepsFailed++
	case "skipped":
		m.counters.StepsSkipped++
	}
	m.counters.TotalStepDuration += d
	if d > m.counters.LongestStep {
		m.counters.LongestStep = d
	}
}

func (m *metricsRecorder) snapshot() EngineMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}
