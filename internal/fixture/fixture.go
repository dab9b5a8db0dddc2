// Package fixture binds fixture families to a live BLE transport.
//
// A Family recognizes advertisements and builds Drivers; a Driver owns the discovered
// characteristics of one connection and turns power/color requests into protocol frames.
package fixture

import (
	"context"
	"errors"

	"github.com/dokzlo13/ledbridge/internal/ble"
	"github.com/dokzlo13/ledbridge/internal/color"
	"github.com/dokzlo13/ledbridge/internal/protocol"
)

var (
	// ErrUnsupportedFixture is returned when no family matches an advertisement.
	ErrUnsupportedFixture = errors.New("fixture: unsupported fixture")

	// ErrNotLinked is returned by driver operations while no transport is bound.
	ErrNotLinked = errors.New("fixture: no transport linked")
)

// Family describes a fixture family.
type Family interface {
	Name() string
	Supports(adv ble.Advertisement) bool
	NewDriver() Driver
}

// Driver controls one fixture through its bound transport.
type Driver interface {
	// Bind discovers the family characteristics on p and replaces any previous binding.
	Bind(ctx context.Context, p ble.Peripheral) error
	// Unbind drops the current binding.
	Unbind()
	Bound() bool

	Power(ctx context.Context) (bool, error)
	SetPower(ctx context.Context, on bool) error
	SetColor(ctx context.Context, c color.HSV) error

	// Fade reports whether color changes should be animated for this family.
	Fade() bool
}

// Dispatch is an ordered list of families; the first match wins.
type Dispatch []Family

// Match returns the family supporting adv.
func (d Dispatch) Match(adv ble.Advertisement) (Family, error) {
	for _, f := range d {
		if f.Supports(adv) {
			return f, nil
		}
	}
	return nil, ErrUnsupportedFixture
}

// Supports reports whether any family matches adv.
func (d Dispatch) Supports(adv ble.Advertisement) bool {
	_, err := d.Match(adv)
	return err == nil
}

// Services returns the advertised service identifiers the families look for.
func (d Dispatch) Services() []string {
	var out []string
	for _, f := range d {
		if s, ok := f.(interface{ AdvertisedServices() []string }); ok {
			out = append(out, s.AdvertisedServices()...)
		}
	}
	return out
}

// Options configures the built-in families.
type Options struct {
	// WhiteThreshold defaults to protocol.DefaultWhiteThreshold when nil.
	WhiteThreshold *float64
}

// Default returns the built-in families in dispatch order.
func Default(opts Options) Dispatch {
	threshold := protocol.DefaultWhiteThreshold
	if opts.WhiteThreshold != nil {
		threshold = *opts.WhiteThreshold
	}
	return Dispatch{
		NewTrionesFamily(threshold),
		NewELKFamily(),
	}
}
