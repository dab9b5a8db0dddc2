// Package scheduler runs repeating per-key tasks, such as one animation loop per light.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the default frame interval (50Hz).
const DefaultInterval = 20 * time.Millisecond

// Task runs one step and reports whether it wants to run again.
type Task func(ctx context.Context) bool

// Scheduler runs at most one repeating task per key.
type Scheduler interface {
	// Schedule starts task under key unless a task is already running for key,
	// in which case the running task is kept alive for at least one more step.
	Schedule(key string, task Task)
	// Stop cancels the task running under key.
	Stop(key string)
	// Running reports whether a task is scheduled under key.
	Running(key string) bool
	// Close cancels all tasks and waits for them to exit.
	Close()
}

type job struct {
	cancel context.CancelFunc
	kicked bool
}

// Ticker runs each task on its own goroutine: once immediately, then every interval
// until the task returns false.
type Ticker struct {
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// NewTicker creates a ticker scheduler.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ticker{
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*job),
	}
}

// Interval returns the frame interval.
func (s *Ticker) Interval() time.Duration {
	return s.interval
}

func (s *Ticker) Schedule(key string, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if j, ok := s.jobs[key]; ok {
		j.kicked = true
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{cancel: cancel}
	s.jobs[key] = j

	s.wg.Add(1)
	go s.run(ctx, key, j, task)
}

func (s *Ticker) run(ctx context.Context, key string, j *job, task Task) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("key", key).Msg("Scheduled task panicked")
			s.remove(key, j)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		j.kicked = false
		s.mu.Unlock()

		if !task(ctx) && s.finish(key, j) {
			return
		}

		select {
		case <-ctx.Done():
			s.remove(key, j)
			return
		case <-ticker.C:
		}
	}
}

// finish removes the job unless it was kicked during its last step.
func (s *Ticker) finish(key string, j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.kicked {
		j.kicked = false
		return false
	}
	if s.jobs[key] == j {
		delete(s.jobs, key)
	}
	j.cancel()
	return true
}

func (s *Ticker) remove(key string, j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[key] == j {
		delete(s.jobs, key)
	}
	j.cancel()
}

func (s *Ticker) Stop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[key]; ok {
		j.cancel()
		delete(s.jobs, key)
	}
}

func (s *Ticker) Running(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

func (s *Ticker) Close() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.jobs = make(map[string]*job)
	s.mu.Unlock()
}
