package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTicker_RunsUntilDone(t *testing.T) {
	s := NewTicker(time.Millisecond)
	defer s.Close()

	var runs atomic.Int32
	s.Schedule("a", func(ctx context.Context) bool {
		return runs.Add(1) < 5
	})

	waitFor(t, func() bool { return !s.Running("a") })
	if got := runs.Load(); got != 5 {
		t.Errorf("task ran %d times, want 5", got)
	}
}

func TestTicker_FirstStepIsImmediate(t *testing.T) {
	s := NewTicker(time.Hour)
	defer s.Close()

	ran := make(chan struct{})
	s.Schedule("a", func(ctx context.Context) bool {
		close(ran)
		return false
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run immediately")
	}
}

func TestTicker_ScheduleWhileRunningIsSingleTask(t *testing.T) {
	s := NewTicker(time.Millisecond)
	defer s.Close()

	var concurrent, maxConcurrent atomic.Int32
	var runs atomic.Int32
	task := func(ctx context.Context) bool {
		n := concurrent.Add(1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		time.Sleep(100 * time.Microsecond)
		concurrent.Add(-1)
		return runs.Add(1) < 20
	}

	for i := 0; i < 10; i++ {
		s.Schedule("a", task)
	}

	waitFor(t, func() bool { return !s.Running("a") })
	if got := maxConcurrent.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
}

func TestTicker_KickKeepsTaskAlive(t *testing.T) {
	s := NewTicker(time.Millisecond)
	defer s.Close()

	var runs atomic.Int32
	var task Task
	task = func(ctx context.Context) bool {
		if runs.Add(1) == 1 {
			// Re-scheduled while this step is in flight.
			s.Schedule("a", task)
		}
		return false
	}
	s.Schedule("a", task)

	waitFor(t, func() bool { return !s.Running("a") })
	if got := runs.Load(); got != 2 {
		t.Errorf("task ran %d times, want 2", got)
	}
}

func TestTicker_StopAndClose(t *testing.T) {
	s := NewTicker(time.Millisecond)

	s.Schedule("a", func(ctx context.Context) bool { return true })
	s.Schedule("b", func(ctx context.Context) bool { return true })
	if !s.Running("a") || !s.Running("b") {
		t.Fatal("tasks should be running")
	}

	s.Stop("a")
	if s.Running("a") {
		t.Error("task a should be stopped")
	}

	s.Close()
	if s.Running("b") {
		t.Error("task b should be stopped after Close")
	}

	s.Schedule("c", func(ctx context.Context) bool { return true })
	if s.Running("c") {
		t.Error("Schedule after Close should be ignored")
	}
}

func TestManual(t *testing.T) {
	m := NewManual()
	ctx := context.Background()

	var a, b int
	m.Schedule("a", func(ctx context.Context) bool { a++; return a < 3 })
	m.Schedule("b", func(ctx context.Context) bool { b++; return false })

	if n := m.Tick(ctx); n != 1 {
		t.Errorf("Tick() = %d, want 1 remaining", n)
	}
	if ran := m.Advance(ctx, 10); ran != 2 {
		t.Errorf("Advance() ran %d ticks, want 2", ran)
	}
	if a != 3 || b != 1 {
		t.Errorf("runs a=%d b=%d, want a=3 b=1", a, b)
	}
	if m.Running("a") || m.Len() != 0 {
		t.Error("no tasks should remain")
	}
	if m.Ticks() != 3 {
		t.Errorf("Ticks() = %d, want 3", m.Ticks())
	}
}
