package light

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/dokzlo13/ledbridge/internal/ble/bletest"
	"github.com/dokzlo13/ledbridge/internal/color"
	"github.com/dokzlo13/ledbridge/internal/fixture"
	"github.com/dokzlo13/ledbridge/internal/protocol"
	"github.com/dokzlo13/ledbridge/internal/scheduler"
)

type testLight struct {
	light *Light
	sched *scheduler.Manual
	p     *bletest.Peripheral
	write *bletest.Characteristic
}

func newTrionesLight(t *testing.T, opts Options) *testLight {
	t.Helper()
	p := bletest.NewPeripheral("aa:bb", protocol.TrionesNotifyChar, protocol.TrionesWriteChar)
	sched := scheduler.NewManual()
	l := New("aa:bb", fixture.NewTrionesFamily(protocol.DefaultWhiteThreshold).NewDriver(), sched, opts)
	if err := l.SetPeripheralLink(context.Background(), p); err != nil {
		t.Fatalf("SetPeripheralLink() error = %v", err)
	}
	return &testLight{light: l, sched: sched, p: p, write: p.Char(protocol.TrionesWriteChar)}
}

func newELKLight(t *testing.T) *testLight {
	t.Helper()
	p := bletest.NewPeripheral("cc:dd", protocol.ELKWriteChar)
	sched := scheduler.NewManual()
	l := New("cc:dd", fixture.NewELKFamily().NewDriver(), sched, Options{})
	if err := l.SetPeripheralLink(context.Background(), p); err != nil {
		t.Fatalf("SetPeripheralLink() error = %v", err)
	}
	return &testLight{light: l, sched: sched, p: p, write: p.Char(protocol.ELKWriteChar)}
}

func indexOf(writes []bletest.Write, frame []byte) int {
	for i, w := range writes {
		if bytes.Equal(w.Data, frame) {
			return i
		}
	}
	return -1
}

func TestUpdate_ConvergedIsNoop(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if tl.light.Update(ctx) {
			t.Fatal("Update() = true on a converged light")
		}
	}
	if n := len(tl.write.Writes()); n != 0 {
		t.Errorf("converged light wrote %d frames, want 0", n)
	}
	if tl.sched.Running("aa:bb") {
		t.Error("converged light should not be animating")
	}
}

func TestUpdate_FadesToTarget(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()

	tl.light.SetHue(180)
	tl.light.SetSaturation(100)
	tl.light.SetBrightness(50)

	if !tl.sched.Running("aa:bb") {
		t.Fatal("setter should start the animation")
	}

	target := color.HSV{H: 180, S: 100, V: 50}
	start := color.HSV{H: 0, S: 0, V: 100}
	bound := int(math.Ceil(color.MaxComponent(start, target) / DefaultRate))

	ticks := 0
	prev := color.Distance(start, target)
	for tl.sched.Len() > 0 && ticks <= bound+1 {
		tl.sched.Tick(ctx)
		ticks++
		snap := tl.light.Snapshot()
		if d := color.Distance(snap.Current, target); d > 0 && d >= prev {
			t.Fatalf("tick %d: distance %v did not decrease from %v", ticks, d, prev)
		} else {
			prev = d
		}
	}

	snap := tl.light.Snapshot()
	if !snap.Current.Equal(target) {
		t.Fatalf("current = %+v, want %+v", snap.Current, target)
	}
	// bound ticks that write plus one tick that reports convergence
	if ticks != bound+1 {
		t.Errorf("took %d ticks, want %d", ticks, bound+1)
	}
	if tl.sched.Running("aa:bb") {
		t.Error("animation should stop after convergence")
	}
	if tl.light.Update(ctx) {
		t.Error("Update() after convergence should be a no-op")
	}

	last := tl.write.Writes()[len(tl.write.Writes())-1]
	if want := protocol.TrionesRGB(180, 100, 50); !bytes.Equal(last.Data, want) {
		t.Errorf("last frame = % X, want % X", last.Data, want)
	}
}

func TestUpdate_PowerOffWaitsForZero(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()
	powerOff := protocol.TrionesPower(false)

	tl.light.SetOn(false)
	if tl.light.Snapshot().On() {
		t.Error("Snapshot().On() should report the requested state")
	}

	for tl.sched.Len() > 0 {
		tl.sched.Tick(ctx)
		snap := tl.light.Snapshot()
		if snap.Current.V > 0 && indexOf(tl.write.Writes(), powerOff) >= 0 {
			t.Fatalf("power off sent while brightness is %v", snap.Current.V)
		}
	}

	writes := tl.write.Writes()
	if len(writes) != 26 {
		t.Fatalf("got %d writes, want 25 color frames and 1 power frame", len(writes))
	}
	if !bytes.Equal(writes[len(writes)-1].Data, powerOff) {
		t.Errorf("last frame = % X, want power off", writes[len(writes)-1].Data)
	}
	if !bytes.Equal(writes[len(writes)-2].Data, protocol.TrionesWhite(0)) {
		t.Errorf("frame before power off = % X, want white at zero", writes[len(writes)-2].Data)
	}

	snap := tl.light.Snapshot()
	if snap.Intent != IntentNone || snap.Power {
		t.Errorf("intent = %v power = %v, want none/off", snap.Intent, snap.Power)
	}
	if snap.User.V != 100 {
		t.Errorf("user brightness = %v, want 100 kept for power on", snap.User.V)
	}
}

func TestUpdate_BrightnessCancelsPowerOff(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()

	tl.light.SetOn(false)
	tl.sched.Advance(ctx, 5)
	tl.light.SetBrightness(50)

	if snap := tl.light.Snapshot(); !snap.On() || snap.Intent != IntentNone {
		t.Errorf("after brightness: intent = %v on = %v, want none/on", snap.Intent, snap.On())
	}

	ticks := tl.sched.Advance(ctx, 500)
	if ticks >= 500 || tl.sched.Running("aa:bb") {
		t.Fatalf("animation did not converge after %d ticks", ticks)
	}

	snap := tl.light.Snapshot()
	if snap.Current.V != 50 || snap.Intent != IntentNone || !snap.Power {
		t.Errorf("after converge: %+v", snap)
	}
	if indexOf(tl.write.Writes(), protocol.TrionesPower(false)) >= 0 {
		t.Error("power off sent after brightness was raised")
	}
}

func TestApply_BrightnessWhilePoweredOffTurnsOn(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()

	tl.light.SetOn(false)
	tl.sched.Advance(ctx, 100)
	// Off and converged; a second off request leaves a pending intent on a dark fixture.
	tl.light.SetOn(false)
	tl.light.SetBrightness(30)

	if snap := tl.light.Snapshot(); snap.Intent != IntentTurningOn {
		t.Fatalf("intent = %v, want turning_on", snap.Intent)
	}
	tl.write.Reset()
	tl.sched.Advance(ctx, 100)

	writes := tl.write.Writes()
	if len(writes) == 0 || !bytes.Equal(writes[0].Data, protocol.TrionesPower(true)) {
		t.Fatalf("first frame should be power on, got %d writes", len(writes))
	}
	if snap := tl.light.Snapshot(); snap.Current.V != 30 || !snap.Power || snap.Intent != IntentNone {
		t.Errorf("after converge: %+v", snap)
	}
}

func TestUpdate_PowerOnFirst(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()

	tl.light.SetOn(false)
	tl.sched.Advance(ctx, 100)
	tl.write.Reset()

	tl.light.SetOn(true)
	tl.sched.Tick(ctx)

	writes := tl.write.Writes()
	if len(writes) != 2 {
		t.Fatalf("got %d writes on first tick, want 2", len(writes))
	}
	if !bytes.Equal(writes[0].Data, protocol.TrionesPower(true)) {
		t.Errorf("first frame = % X, want power on", writes[0].Data)
	}
	if !bytes.Equal(writes[1].Data, protocol.TrionesWhite(4)) {
		t.Errorf("second frame = % X, want white at 4", writes[1].Data)
	}

	tl.sched.Advance(ctx, 100)
	snap := tl.light.Snapshot()
	if snap.Current.V != 100 || !snap.Power || snap.Intent != IntentNone {
		t.Errorf("after power on: %+v", snap)
	}
	if n := indexOf(tl.write.Writes()[1:], protocol.TrionesPower(true)); n >= 0 {
		t.Error("power on should be sent exactly once")
	}
}

func TestUpdate_NoFadePowerOffIsImmediate(t *testing.T) {
	tl := newELKLight(t)
	ctx := context.Background()

	tl.light.SetOn(false)
	tl.sched.Tick(ctx)

	writes := tl.write.Writes()
	if len(writes) != 3 {
		t.Fatalf("got %d writes, want brightness, color and power frames", len(writes))
	}
	if !bytes.Equal(writes[0].Data, protocol.ELKBrightness(0)) {
		t.Errorf("frame 0 = % X, want brightness 0", writes[0].Data)
	}
	if !bytes.Equal(writes[2].Data, protocol.ELKPower(false)) {
		t.Errorf("frame 2 = % X, want power off", writes[2].Data)
	}
	if tl.sched.Tick(ctx) != 0 {
		t.Error("animation should stop on the next tick")
	}
}

func TestUpdate_NoFadeSnapsToTarget(t *testing.T) {
	tl := newELKLight(t)
	ctx := context.Background()

	tl.light.Apply(Request{Hue: ptr(240.0), Saturation: ptr(100.0), Brightness: ptr(30)})
	if !tl.light.Update(ctx) {
		t.Fatal("Update() = false with a pending change")
	}
	if got := tl.light.Snapshot().Current; !got.Equal(color.HSV{H: 240, S: 100, V: 30}) {
		t.Errorf("current = %+v, want snapped to target", got)
	}
	if tl.light.Update(ctx) {
		t.Error("second Update() should report convergence")
	}
}

func TestUpdate_WriteErrorRetries(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()

	tl.light.SetBrightness(50)
	tl.write.FailWrites(1)

	if !tl.light.Update(ctx) {
		t.Fatal("Update() should keep ticking after a failed write")
	}
	if v := tl.light.Snapshot().Current.V; v != 100 {
		t.Errorf("current.V = %v after failed write, want unchanged 100", v)
	}

	tl.light.Update(ctx)
	if v := tl.light.Snapshot().Current.V; v != 96 {
		t.Errorf("current.V = %v after retry, want 96", v)
	}
}

func TestUpdate_FailedPowerOffIsRetried(t *testing.T) {
	tl := newTrionesLight(t, Options{Rate: 100})
	ctx := context.Background()

	tl.light.SetOn(false)

	// The color write succeeds, then the power frame fails.
	calls := 0
	tl.write.OnWrite = func(c *bletest.Characteristic, p []byte) {
		calls++
		if calls == 1 {
			c.FailWrites(1)
		}
	}
	if !tl.light.Update(ctx) {
		t.Fatal("Update() = false")
	}
	if snap := tl.light.Snapshot(); snap.Intent != IntentTurningOff || snap.Current.V != 0 {
		t.Fatalf("after failed power off: intent=%v current.V=%v", snap.Intent, snap.Current.V)
	}

	tl.light.Update(ctx)
	if snap := tl.light.Snapshot(); snap.Intent != IntentNone || snap.Power {
		t.Errorf("power off should succeed on retry: %+v", snap)
	}
}

func TestReconnectResumesAnimation(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()

	tl.light.Apply(Request{Hue: ptr(120.0), Saturation: ptr(100.0)})
	for i := 0; i < 5; i++ {
		tl.sched.Tick(ctx)
	}
	mid := tl.light.Snapshot()
	if mid.Current.S != 20 || mid.Current.H != 20 {
		t.Fatalf("mid-animation current = %+v", mid.Current)
	}

	tl.p.Drop()
	tl.light.Unlink()
	if tl.light.Linked() {
		t.Fatal("light should be unlinked")
	}
	for i := 0; i < 3; i++ {
		if !tl.light.Update(ctx) {
			t.Fatal("unlinked light with pending change should keep ticking")
		}
	}
	if got := tl.light.Snapshot().Current; !got.Equal(mid.Current) {
		t.Fatalf("current moved while unlinked: %+v", got)
	}

	p2 := bletest.NewPeripheral("aa:bb", protocol.TrionesNotifyChar, protocol.TrionesWriteChar)
	if err := tl.light.SetPeripheralLink(ctx, p2); err != nil {
		t.Fatalf("SetPeripheralLink() error = %v", err)
	}
	tl.sched.Tick(ctx)

	first := p2.Char(protocol.TrionesWriteChar).Writes()[0]
	if want := protocol.TrionesRGB(24, 24, 100); !bytes.Equal(first.Data, want) {
		t.Errorf("first frame after reconnect = % X, want % X", first.Data, want)
	}

	tl.sched.Advance(ctx, 100)
	snap := tl.light.Snapshot()
	if !snap.Current.Equal(color.HSV{H: 120, S: 100, V: 100}) {
		t.Errorf("current = %+v, want target", snap.Current)
	}
	if !snap.Target.Equal(mid.Target) || !snap.User.Equal(mid.User) {
		t.Errorf("target/user changed across reconnect: %+v", snap)
	}
}

func TestSetPeripheralLink_NoDriver(t *testing.T) {
	l := New("x", nil, nil, Options{})
	p := bletest.NewPeripheral("x")

	if err := l.SetPeripheralLink(context.Background(), p); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("SetPeripheralLink() error = %v, want ErrNotImplemented", err)
	}
	if err := l.SetPower(context.Background(), true); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("SetPower() error = %v, want ErrNotImplemented", err)
	}
}

func TestPower_QueryAndFallback(t *testing.T) {
	tl := newTrionesLight(t, Options{})
	ctx := context.Background()
	notify := tl.p.Char(protocol.TrionesNotifyChar)

	tl.write.OnWrite = func(_ *bletest.Characteristic, p []byte) {
		if bytes.Equal(p, protocol.TrionesPowerQuery()) {
			notify.Notify([]byte{0x66, 0x00, 0x24})
		}
	}
	if tl.light.On(ctx) {
		t.Error("On() should report the hardware state (off)")
	}

	tl.write.OnWrite = nil
	tl.light.Unlink()
	tl.light.SetOn(false)
	if tl.light.On(ctx) {
		t.Error("On() should fall back to the pending intent")
	}
}

func TestGetters(t *testing.T) {
	tl := newTrionesLight(t, Options{})

	tl.light.SetHue(400)
	tl.light.SetSaturation(150)
	tl.light.SetBrightness(42)
	tl.light.SetOn(false)

	if h := tl.light.Hue(); h != 40 {
		t.Errorf("Hue() = %v, want 40", h)
	}
	if s := tl.light.Saturation(); s != 100 {
		t.Errorf("Saturation() = %v, want 100", s)
	}
	if b := tl.light.Brightness(); b != 42 {
		t.Errorf("Brightness() = %v, want 42 kept while off", b)
	}
}

func TestOnChange(t *testing.T) {
	var snaps []Snapshot
	tl := newTrionesLight(t, Options{Rate: 50, OnChange: func(s Snapshot) { snaps = append(snaps, s) }})

	tl.light.SetBrightness(0)
	if len(snaps) != 1 || snaps[0].Target.V != 0 {
		t.Fatalf("setter should notify once, got %d", len(snaps))
	}

	tl.sched.Advance(context.Background(), 10)
	if len(snaps) != 2 || snaps[1].Current.V != 0 {
		t.Errorf("convergence should notify, got %d snapshots", len(snaps))
	}
}

func TestPlanTick(t *testing.T) {
	tests := []struct {
		name   string
		intent PowerIntent
		next   float64
		want   []Action
	}{
		{"none", IntentNone, 50, []Action{ActionSetColor}},
		{"turning_on", IntentTurningOn, 4, []Action{ActionPowerOn, ActionSetColor}},
		{"turning_off_mid_fade", IntentTurningOff, 4, []Action{ActionSetColor}},
		{"turning_off_at_zero", IntentTurningOff, 0, []Action{ActionSetColor, ActionPowerOff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planTick(tt.intent, tt.next)
			if len(got) != len(tt.want) {
				t.Fatalf("planTick() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("planTick() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}
