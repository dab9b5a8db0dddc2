// Package eventbus fans fixture lifecycle and state events out to the ledger, MQTT and
// HomeKit adapters through a bounded worker pool.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/light"
)

// EventType represents the type of event
type EventType string

const (
	EventFixtureDiscovered    EventType = "fixture_discovered"
	EventFixtureConnecting    EventType = "fixture_connecting"
	EventFixtureConnected     EventType = "fixture_connected"
	EventFixtureConnectFailed EventType = "fixture_connect_failed"
	EventFixtureDisconnected  EventType = "fixture_disconnected"
	EventFixtureState         EventType = "fixture_state"
)

// Lifecycle lists the connection lifecycle event types.
var Lifecycle = []EventType{
	EventFixtureDiscovered,
	EventFixtureConnecting,
	EventFixtureConnected,
	EventFixtureConnectFailed,
	EventFixtureDisconnected,
}

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is one fixture event.
type Event struct {
	Type    EventType
	Time    time.Time
	Fixture string
	Address string
	Name    string
	Family  string
	// AttemptID correlates the connecting/connected/connect_failed events of one attempt.
	AttemptID string
	Err       error
	// State is set for EventFixtureState.
	State light.Snapshot
}

// Handler is a function that handles events
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	wg        sync.WaitGroup
	dropped   atomic.Int64

	// closing is closed before the work queue so publishers never send on a closed channel.
	closing   chan struct{}
	closeOnce sync.Once
	sendMu    sync.RWMutex
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Str("fixture", w.event.Fixture).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for the given event types
func (b *Bus) Subscribe(handler Handler, types ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], handler)
	}
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or the bus is closing, the event is dropped.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	for _, handler := range handlers {
		select {
		case <-b.closing:
			b.dropped.Add(1)
			log.Debug().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		default:
		}

		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			b.dropped.Add(1)
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("fixture", event.Fixture).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Dropped returns how many handler deliveries were dropped.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close signals publishers to stop, drains the queue and waits for workers until ctx expires.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)

		// Wait for in-flight publishers before closing the queue.
		b.sendMu.Lock()
		close(b.workQueue)
		b.sendMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
