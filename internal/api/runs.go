package api

import (
	"context"
	"sync"
)

// runManager enforces the one-loop-per-task rule: a task has at most
// one Execute or FollowUp goroutine at a time, and deleting a task
// cancels its run.
type runManager struct {
	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

func newRunManager() *runManager {
	return &runManager{runs: make(map[string]context.CancelFunc)}
}

// Start launches fn for a task unless a run is already in flight.
// Returns false without launching when the task is busy.
func (m *runManager) Start(task string, fn func(ctx context.Context)) bool {
	m.mu.Lock()
	if _, busy := m.runs[task]; busy {
		m.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.runs[task] = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.runs, task)
			m.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
	return true
}

// Active reports whether the task has a run in flight.
func (m *runManager) Active(task string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.runs[task]
	return busy
}

// Cancel stops the task's run, if any.
func (m *runManager) Cancel(task string) {
	m.mu.Lock()
	cancel := m.runs[task]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelAll stops every run; used at shutdown.
func (m *runManager) CancelAll() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.runs))
	for _, c := range m.runs {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}
