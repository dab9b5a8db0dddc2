package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/dokzlo13/ledbridge/internal/ble"
	"github.com/dokzlo13/ledbridge/internal/color"
	"github.com/dokzlo13/ledbridge/internal/protocol"
)

// ELKFamily matches fixtures advertising the fff0 service.
type ELKFamily struct{}

func NewELKFamily() *ELKFamily { return &ELKFamily{} }

func (f *ELKFamily) Name() string { return "elk" }

func (f *ELKFamily) Supports(adv ble.Advertisement) bool {
	return protocol.ELKSupports(adv)
}

func (f *ELKFamily) AdvertisedServices() []string {
	return []string{protocol.ELKService}
}

func (f *ELKFamily) NewDriver() Driver {
	return &ELKDriver{power: true}
}

// ELKDriver drives an ELK fixture. The fixture has no power query, so the last
// commanded state is reported instead.
type ELKDriver struct {
	mu    sync.Mutex
	write ble.Characteristic
	power bool
}

func (d *ELKDriver) Bind(ctx context.Context, p ble.Peripheral) error {
	chars, err := p.DiscoverCharacteristics(ctx,
		[]string{protocol.ELKService},
		[]string{protocol.ELKWriteChar},
	)
	if err != nil {
		return err
	}

	write := ble.Find(chars, protocol.ELKWriteChar)
	if write == nil {
		return fmt.Errorf("%w: elk characteristic %s not found", ble.ErrDiscovery, protocol.ELKWriteChar)
	}

	d.mu.Lock()
	d.write = write
	d.mu.Unlock()
	return nil
}

func (d *ELKDriver) Unbind() {
	d.mu.Lock()
	d.write = nil
	d.mu.Unlock()
}

func (d *ELKDriver) Bound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write != nil
}

func (d *ELKDriver) Fade() bool { return false }

func (d *ELKDriver) Power(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power, nil
}

func (d *ELKDriver) SetPower(ctx context.Context, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.write == nil {
		return ErrNotLinked
	}
	if err := d.write.Write(ctx, protocol.ELKPower(on), false); err != nil {
		return err
	}
	d.power = on
	return nil
}

func (d *ELKDriver) SetColor(ctx context.Context, c color.HSV) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.write == nil {
		return ErrNotLinked
	}
	if err := d.write.Write(ctx, protocol.ELKBrightness(c.V), true); err != nil {
		return err
	}
	return d.write.Write(ctx, protocol.ELKRGB(c.H, c.S), true)
}
