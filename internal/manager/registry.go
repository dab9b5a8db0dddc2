package manager

import (
	"fmt"

	"github.com/dokzlo13/ledbridge/internal/ble"
	"github.com/dokzlo13/ledbridge/internal/light"
)

// Status is the connection state of a fixture.
type Status int

const (
	StatusDiscovered Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IdentityMode selects how a fixture identity is derived from its advertisement.
type IdentityMode string

const (
	IdentityAddress IdentityMode = "address"
	IdentityName    IdentityMode = "name"
)

// ParseIdentityMode parses a config value; empty means address.
func ParseIdentityMode(s string) (IdentityMode, error) {
	switch IdentityMode(s) {
	case "", IdentityAddress:
		return IdentityAddress, nil
	case IdentityName:
		return IdentityName, nil
	}
	return "", fmt.Errorf("unknown identity mode %q (want address or name)", s)
}

// Identity returns the fixture identity for an advertisement. Name mode falls back to
// the address when the advertisement carries no name.
func (m IdentityMode) Identity(adv ble.Advertisement) string {
	if m == IdentityName && adv.LocalName != "" {
		return adv.LocalName
	}
	return adv.Address
}

// record is the registry entry for one identity. The light, once created, is kept for
// the lifetime of the manager.
type record struct {
	id         string
	status     Status
	address    string
	name       string
	family     string
	light      *light.Light
	peripheral ble.Peripheral
	attempt    string
}

// Fixture is a read-only view of a registry entry.
type Fixture struct {
	ID      string          `json:"id"`
	Status  Status          `json:"status"`
	Address string          `json:"address"`
	Name    string          `json:"name,omitempty"`
	Family  string          `json:"family"`
	State   *light.Snapshot `json:"state,omitempty"`
}

func (r *record) view() Fixture {
	f := Fixture{
		ID:      r.id,
		Status:  r.status,
		Address: r.address,
		Name:    r.name,
		Family:  r.family,
	}
	if r.light != nil {
		snap := r.light.Snapshot()
		f.State = &snap
	}
	return f
}

// live reports whether the record holds a usable connection or is about to.
func (r *record) live() bool {
	return r.status == StatusConnecting || r.status == StatusConnected
}
