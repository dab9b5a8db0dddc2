package ble

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

// TinyGoCentral implements Central on a tinygo bluetooth adapter (BlueZ on Linux).
type TinyGoCentral struct {
	adapter *bluetooth.Adapter

	// watch lists the short service identifiers reported in Advertisement.ServiceUUIDs
	watch []string

	onDiscover func(Advertisement)
	onScanStop func()

	mu          sync.Mutex
	scanning    bool
	addresses   map[string]bluetooth.Address
	disconnects map[string][]func()
}

// NewTinyGoCentral enables the adapter and wires the connect handler.
// watch lists the service identifiers that capability predicates look for.
func NewTinyGoCentral(adapter *bluetooth.Adapter, watch []string, onDiscover func(Advertisement), onScanStop func()) (*TinyGoCentral, error) {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	c := &TinyGoCentral{
		adapter:     adapter,
		watch:       watch,
		onDiscover:  onDiscover,
		onScanStop:  onScanStop,
		addresses:   make(map[string]bluetooth.Address),
		disconnects: make(map[string][]func()),
	}
	adapter.SetConnectHandler(c.handleConnect)
	return c, nil
}

func (c *TinyGoCentral) handleConnect(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := device.Address.String()

	c.mu.Lock()
	handlers := c.disconnects[addr]
	delete(c.disconnects, addr)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// StartScan starts a scan in the background. It is a no-op while a scan is running.
func (c *TinyGoCentral) StartScan() error {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return nil
	}
	c.scanning = true
	c.mu.Unlock()

	go func() {
		err := c.adapter.Scan(c.handleScanResult)
		if err != nil {
			log.Warn().Err(err).Msg("BLE scan ended with error")
		}

		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()

		if c.onScanStop != nil {
			c.onScanStop()
		}
	}()
	return nil
}

// StopScan stops a running scan.
func (c *TinyGoCentral) StopScan() error {
	return c.adapter.StopScan()
}

func (c *TinyGoCentral) handleScanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	adv := Advertisement{
		Address:   result.Address.String(),
		LocalName: result.LocalName(),
	}
	for _, id := range c.watch {
		uuid, err := shortUUID(id)
		if err != nil {
			continue
		}
		if result.HasServiceUUID(uuid) {
			adv.ServiceUUIDs = append(adv.ServiceUUIDs, strings.ToLower(id))
		}
	}

	c.mu.Lock()
	c.addresses[adv.Address] = result.Address
	c.mu.Unlock()

	if c.onDiscover != nil {
		c.onDiscover(adv)
	}
}

// Connect connects to a previously scanned address.
func (c *TinyGoCentral) Connect(ctx context.Context, adv Advertisement) (Peripheral, error) {
	c.mu.Lock()
	addr, ok := c.addresses[adv.Address]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: address %s was never scanned", ErrConnect, adv.Address)
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		device, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrConnect, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnect, r.err)
		}
		return &tinyGoPeripheral{central: c, device: r.device, address: adv.Address}, nil
	}
}

func (c *TinyGoCentral) addDisconnectHandler(addr string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects[addr] = append(c.disconnects[addr], fn)
}

type tinyGoPeripheral struct {
	central *TinyGoCentral
	device  bluetooth.Device
	address string
}

func (p *tinyGoPeripheral) Address() string {
	return p.address
}

func (p *tinyGoPeripheral) OnDisconnect(fn func()) {
	p.central.addDisconnectHandler(p.address, fn)
}

func (p *tinyGoPeripheral) Disconnect() error {
	return p.device.Disconnect()
}

func (p *tinyGoPeripheral) DiscoverCharacteristics(ctx context.Context, services, characteristics []string) ([]Characteristic, error) {
	serviceUUIDs := make([]bluetooth.UUID, 0, len(services))
	for _, id := range services {
		uuid, err := shortUUID(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
		}
		serviceUUIDs = append(serviceUUIDs, uuid)
	}

	wanted := make(map[bluetooth.UUID]string, len(characteristics))
	for _, id := range characteristics {
		uuid, err := shortUUID(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
		}
		wanted[uuid] = strings.ToLower(id)
	}

	svcs, err := p.device.DiscoverServices(serviceUUIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	var found []Characteristic
	for _, svc := range svcs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
		}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
		}
		for _, ch := range chars {
			id, ok := wanted[ch.UUID()]
			if !ok {
				continue
			}
			found = append(found, newTinyGoCharacteristic(p.address, id, ch))
		}
	}
	return found, nil
}

// gattChar is the part of bluetooth.DeviceCharacteristic used here.
type gattChar interface {
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
}

type tinyGoCharacteristic struct {
	id     string
	char   gattChar
	notify chan []byte
}

func newTinyGoCharacteristic(address, id string, ch gattChar) *tinyGoCharacteristic {
	c := &tinyGoCharacteristic{
		id:     id,
		char:   ch,
		notify: make(chan []byte, 1),
	}
	// Not every characteristic supports notifications; write-only ones simply refuse.
	if err := ch.EnableNotifications(c.handleNotification); err != nil {
		log.Debug().Err(err).Str("address", address).Str("characteristic", id).Msg("Notifications not enabled")
	}
	return c
}

func (c *tinyGoCharacteristic) handleNotification(buf []byte) {
	value := append([]byte(nil), buf...)
	for {
		select {
		case c.notify <- value:
			return
		default:
		}
		// Drop the stale value so the latest notification wins.
		select {
		case <-c.notify:
		default:
		}
	}
}

func (c *tinyGoCharacteristic) UUID() string {
	return c.id
}

func (c *tinyGoCharacteristic) Write(ctx context.Context, p []byte, withResponse bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	// The adapter has no separate acknowledged write. On BlueZ this is a blocking WriteValue
	// without a type option, sent as a write request when the characteristic allows it.
	if _, err := c.char.WriteWithoutResponse(p); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

func (c *tinyGoCharacteristic) Flush() {
	for {
		select {
		case <-c.notify:
		default:
			return
		}
	}
}

func (c *tinyGoCharacteristic) ReadOnce(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrRead, ctx.Err())
	case v := <-c.notify:
		return v, nil
	}
}

func shortUUID(id string) (bluetooth.UUID, error) {
	v, err := strconv.ParseUint(id, 16, 16)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("invalid short uuid %q: %w", id, err)
	}
	return bluetooth.New16BitUUID(uint16(v)), nil
}
