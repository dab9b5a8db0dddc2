// Package bletest provides in-memory fakes of the ble transport for tests.
package bletest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dokzlo13/ledbridge/internal/ble"
)

// Write is one recorded characteristic write.
type Write struct {
	Data         []byte
	WithResponse bool
}

// Characteristic records writes and serves queued notification values.
type Characteristic struct {
	ID string

	mu       sync.Mutex
	writes   []Write
	failNext int
	notify   chan []byte

	// OnWrite, when set, is called after every successful write.
	OnWrite func(c *Characteristic, p []byte)
}

// NewCharacteristic creates a fake characteristic.
func NewCharacteristic(id string) *Characteristic {
	return &Characteristic{ID: id, notify: make(chan []byte, 8)}
}

func (c *Characteristic) UUID() string { return c.ID }

func (c *Characteristic) Write(ctx context.Context, p []byte, withResponse bool) error {
	c.mu.Lock()
	if c.failNext > 0 {
		c.failNext--
		c.mu.Unlock()
		return fmt.Errorf("%w: injected failure", ble.ErrWrite)
	}
	c.writes = append(c.writes, Write{Data: append([]byte(nil), p...), WithResponse: withResponse})
	hook := c.OnWrite
	c.mu.Unlock()

	if hook != nil {
		hook(c, p)
	}
	return nil
}

func (c *Characteristic) ReadOnce(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ble.ErrRead, ctx.Err())
	case v := <-c.notify:
		return v, nil
	}
}

func (c *Characteristic) Flush() {
	for {
		select {
		case <-c.notify:
		default:
			return
		}
	}
}

// Notify queues a notification value.
func (c *Characteristic) Notify(v []byte) {
	c.notify <- v
}

// FailWrites makes the next n writes fail.
func (c *Characteristic) FailWrites(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// Writes returns a copy of the recorded writes.
func (c *Characteristic) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// Reset clears recorded writes.
func (c *Characteristic) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}

// Peripheral is a fake connected peripheral exposing a fixed set of characteristics.
type Peripheral struct {
	Addr  string
	Chars []*Characteristic

	// DiscoverErr, when set, is returned by DiscoverCharacteristics.
	DiscoverErr error
	// OnDiscover, when set, runs at the start of DiscoverCharacteristics.
	OnDiscover func(p *Peripheral)

	mu           sync.Mutex
	onDisconnect []func()
	disconnected bool
}

// NewPeripheral creates a fake peripheral with the given characteristic ids.
func NewPeripheral(addr string, charIDs ...string) *Peripheral {
	p := &Peripheral{Addr: addr}
	for _, id := range charIDs {
		p.Chars = append(p.Chars, NewCharacteristic(id))
	}
	return p
}

// Char returns the fake characteristic with the given id, or nil.
func (p *Peripheral) Char(id string) *Characteristic {
	for _, c := range p.Chars {
		if strings.EqualFold(c.ID, id) {
			return c
		}
	}
	return nil
}

func (p *Peripheral) Address() string { return p.Addr }

func (p *Peripheral) DiscoverCharacteristics(ctx context.Context, services, characteristics []string) ([]ble.Characteristic, error) {
	if p.OnDiscover != nil {
		p.OnDiscover(p)
	}
	if p.DiscoverErr != nil {
		return nil, p.DiscoverErr
	}
	var out []ble.Characteristic
	for _, id := range characteristics {
		if c := p.Char(id); c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *Peripheral) OnDisconnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisconnect = append(p.onDisconnect, fn)
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()
	return nil
}

// Drop simulates the link going away and fires the disconnect handlers.
func (p *Peripheral) Drop() {
	p.mu.Lock()
	handlers := p.onDisconnect
	p.onDisconnect = nil
	p.disconnected = true
	p.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// Disconnected reports whether Disconnect or Drop was called.
func (p *Peripheral) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// Central is a fake central. Connect hands out peripherals produced by Dial.
type Central struct {
	// Dial produces the peripheral for a connect attempt; an error fails the attempt.
	Dial func(adv ble.Advertisement) (*Peripheral, error)

	// Gate, when set, blocks Connect until it is closed or receives a value.
	Gate chan struct{}

	mu       sync.Mutex
	connects map[string]int
	starts   int
	stops    int
}

// NewCentral creates a fake central.
func NewCentral(dial func(adv ble.Advertisement) (*Peripheral, error)) *Central {
	return &Central{Dial: dial, connects: make(map[string]int)}
}

func (c *Central) StartScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return nil
}

func (c *Central) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *Central) Connect(ctx context.Context, adv ble.Advertisement) (ble.Peripheral, error) {
	c.mu.Lock()
	c.connects[adv.Address]++
	gate := c.Gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ble.ErrConnect, ctx.Err())
		}
	}

	p, err := c.Dial(adv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ble.ErrConnect, err)
	}
	return p, nil
}

// Connects returns the number of connect attempts for an address.
func (c *Central) Connects(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects[addr]
}

// ScanStarts returns how many times StartScan was called.
func (c *Central) ScanStarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// ScanStops returns how many times StopScan was called.
func (c *Central) ScanStops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}
