// Package ble defines the wireless transport capability consumed by the connection manager and the
// fixture drivers, plus a concrete implementation on top of tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"errors"
	"strings"
)

// Transport errors. Implementations wrap the underlying cause with these.
var (
	ErrConnect   = errors.New("ble: connect failed")
	ErrDiscovery = errors.New("ble: characteristic discovery failed")
	ErrWrite     = errors.New("ble: write failed")
	ErrRead      = errors.New("ble: read failed")
)

// Advertisement is a discovered advertisement record.
type Advertisement struct {
	Address      string
	LocalName    string
	ServiceUUIDs []string // short identifiers, lower case (e.g. "fff0")
}

// HasService reports whether the advertisement lists the given short service identifier.
func (a Advertisement) HasService(id string) bool {
	for _, s := range a.ServiceUUIDs {
		if strings.EqualFold(s, id) {
			return true
		}
	}
	return false
}

// Central scans for and connects to peripherals.
type Central interface {
	// StartScan starts (or restarts) scanning. Discovery and scan-stop events are delivered
	// to the handlers passed to the implementation's constructor.
	StartScan() error
	// StopScan stops scanning. The implementation reports a scan-stop event afterwards.
	StopScan() error
	// Connect establishes a connection to the advertised peripheral.
	Connect(ctx context.Context, adv Advertisement) (Peripheral, error)
}

// Peripheral is a live connection to a fixture.
type Peripheral interface {
	Address() string
	// DiscoverCharacteristics returns the requested characteristics found under the given services.
	DiscoverCharacteristics(ctx context.Context, services, characteristics []string) ([]Characteristic, error)
	// OnDisconnect registers fn to be called once when the connection drops.
	OnDisconnect(fn func())
	Disconnect() error
}

// Characteristic is a read/write/notify endpoint of a connected peripheral.
type Characteristic interface {
	UUID() string
	Write(ctx context.Context, p []byte, withResponse bool) error
	// ReadOnce waits for the next notification value.
	ReadOnce(ctx context.Context) ([]byte, error)
	// Flush discards notification values that arrived before the call.
	Flush()
}

// Find returns the characteristic with the given short identifier, or nil.
func Find(chars []Characteristic, id string) Characteristic {
	for _, c := range chars {
		if strings.EqualFold(c.UUID(), id) {
			return c
		}
	}
	return nil
}
