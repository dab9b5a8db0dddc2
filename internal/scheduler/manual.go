package scheduler

import (
	"context"
	"sort"
	"sync"
)

// Manual is a Scheduler driven by explicit Tick calls, for deterministic tests.
type Manual struct {
	mu    sync.Mutex
	tasks map[string]Task
	ticks int
}

// NewManual creates a manual scheduler.
func NewManual() *Manual {
	return &Manual{tasks: make(map[string]Task)}
}

func (m *Manual) Schedule(key string, task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[key]; !ok {
		m.tasks[key] = task
	}
}

func (m *Manual) Stop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, key)
}

func (m *Manual) Running(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	return ok
}

func (m *Manual) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make(map[string]Task)
}

// Tick runs every scheduled task once, in key order, and drops tasks that are done.
// It returns the number of tasks still scheduled.
func (m *Manual) Tick(ctx context.Context) int {
	m.mu.Lock()
	keys := make([]string, 0, len(m.tasks))
	for k := range m.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tasks := make([]Task, len(keys))
	for i, k := range keys {
		tasks[i] = m.tasks[k]
	}
	m.ticks++
	m.mu.Unlock()

	for i, task := range tasks {
		if !task(ctx) {
			m.mu.Lock()
			delete(m.tasks, keys[i])
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance runs up to n ticks, stopping early once nothing is scheduled.
// It returns the number of ticks run.
func (m *Manual) Advance(ctx context.Context, n int) int {
	for i := 0; i < n; i++ {
		if m.Len() == 0 {
			return i
		}
		m.Tick(ctx)
	}
	return n
}

// Len returns the number of scheduled tasks.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Ticks returns how many ticks have run.
func (m *Manual) Ticks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}
