package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/dokzlo13/ledbridge/internal/ble"
	"github.com/dokzlo13/ledbridge/internal/color"
	"github.com/dokzlo13/ledbridge/internal/protocol"
)

// TrionesFamily matches "Triones-" fixtures.
type TrionesFamily struct {
	whiteThreshold float64
}

// NewTrionesFamily creates the family. Colors with saturation at or below
// whiteThreshold are sent as white frames.
func NewTrionesFamily(whiteThreshold float64) *TrionesFamily {
	return &TrionesFamily{whiteThreshold: whiteThreshold}
}

func (f *TrionesFamily) Name() string { return "triones" }

func (f *TrionesFamily) Supports(adv ble.Advertisement) bool {
	return protocol.TrionesSupports(adv)
}

func (f *TrionesFamily) NewDriver() Driver {
	return &TrionesDriver{whiteThreshold: f.whiteThreshold}
}

// TrionesDriver drives a Triones fixture.
type TrionesDriver struct {
	whiteThreshold float64

	mu     sync.Mutex
	write  ble.Characteristic
	notify ble.Characteristic
}

func (d *TrionesDriver) Bind(ctx context.Context, p ble.Peripheral) error {
	chars, err := p.DiscoverCharacteristics(ctx,
		[]string{protocol.TrionesNotifyService, protocol.TrionesWriteService},
		[]string{protocol.TrionesNotifyChar, protocol.TrionesWriteChar},
	)
	if err != nil {
		return err
	}

	write := ble.Find(chars, protocol.TrionesWriteChar)
	notify := ble.Find(chars, protocol.TrionesNotifyChar)
	if write == nil || notify == nil {
		return fmt.Errorf("%w: triones characteristics %s/%s not found",
			ble.ErrDiscovery, protocol.TrionesWriteChar, protocol.TrionesNotifyChar)
	}

	d.mu.Lock()
	d.write, d.notify = write, notify
	d.mu.Unlock()
	return nil
}

func (d *TrionesDriver) Unbind() {
	d.mu.Lock()
	d.write, d.notify = nil, nil
	d.mu.Unlock()
}

func (d *TrionesDriver) Bound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write != nil
}

func (d *TrionesDriver) Fade() bool { return true }

// Power sends a power query and waits for the reply on the notify characteristic.
// Query and reply share the driver lock so a late reply cannot answer the next query.
func (d *TrionesDriver) Power(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.write == nil {
		return false, ErrNotLinked
	}
	d.notify.Flush()
	if err := d.write.Write(ctx, protocol.TrionesPowerQuery(), false); err != nil {
		return false, err
	}

	reply, err := d.notify.ReadOnce(ctx)
	if err != nil {
		return false, err
	}
	return protocol.TrionesPowerState(reply), nil
}

func (d *TrionesDriver) SetPower(ctx context.Context, on bool) error {
	return d.send(ctx, protocol.TrionesPower(on), false)
}

func (d *TrionesDriver) SetColor(ctx context.Context, c color.HSV) error {
	return d.send(ctx, protocol.TrionesColor(c.H, c.S, c.V, d.whiteThreshold), true)
}

func (d *TrionesDriver) send(ctx context.Context, frame []byte, withResponse bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.write == nil {
		return ErrNotLinked
	}
	return d.write.Write(ctx, frame, withResponse)
}
