package homekit

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"

	"github.com/dokzlo13/ledbridge/internal/eventbus"
	"github.com/dokzlo13/ledbridge/internal/light"
)

type fakeTransport struct {
	mu      sync.Mutex
	started bool
	stop    chan struct{}
}

func (t *fakeTransport) Start() {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
}

func (t *fakeTransport) Stop() <-chan struct{} {
	close(t.stop)
	return t.stop
}

type fakeLights map[string]*light.Light

func (f fakeLights) Light(id string) (*light.Light, error) {
	if l, ok := f[id]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("unknown %s", id)
}

func newTestService(t *testing.T, lights fakeLights) (*Service, *[]hc.Config) {
	t.Helper()
	return newTestServiceAt(t.TempDir(), lights)
}

func newTestServiceAt(dir string, lights fakeLights) (*Service, *[]hc.Config) {
	var configs []hc.Config
	svc := NewService(lights, Options{
		Pin:         "00102003",
		StoragePath: dir,
		BasePort:    51000,
		NewTransport: func(cfg hc.Config, acc *accessory.Accessory) (Transport, error) {
			configs = append(configs, cfg)
			return &fakeTransport{stop: make(chan struct{})}, nil
		},
	})
	return svc, &configs
}

func TestService_PublishesOncePerFixture(t *testing.T) {
	lights := fakeLights{
		"aa:bb":   light.New("aa:bb", nil, nil, light.Options{}),
		"Triones": light.New("Triones", nil, nil, light.Options{}),
	}
	dir := t.TempDir()
	svc, configs := newTestServiceAt(dir, lights)

	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureConnected, Fixture: "aa:bb", Family: "triones"})
	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureDisconnected, Fixture: "aa:bb"})
	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureConnected, Fixture: "aa:bb", Family: "triones"})
	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureConnected, Fixture: "Triones", Family: "triones"})
	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureConnected, Fixture: "missing"})

	if len(*configs) != 2 {
		t.Fatalf("created %d transports, want 2", len(*configs))
	}
	first := (*configs)[0]
	if first.Port != "51000" || first.Pin != "00102003" || first.StoragePath != filepath.Join(dir, "aabb") {
		t.Errorf("first config = %+v", first)
	}
	if (*configs)[1].Port != "51001" {
		t.Errorf("second port = %s, want 51001", (*configs)[1].Port)
	}

	svc.Close()
	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureConnected, Fixture: "late"})
	if len(*configs) != 2 {
		t.Error("closed service should not publish")
	}
}

func TestService_PortsStableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	lights := fakeLights{
		"a": light.New("a", nil, nil, light.Options{}),
		"b": light.New("b", nil, nil, light.Options{}),
		"c": light.New("c", nil, nil, light.Options{}),
	}
	connect := func(svc *Service, ids ...string) {
		for _, id := range ids {
			svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureConnected, Fixture: id})
		}
	}

	first, configs := newTestServiceAt(dir, lights)
	connect(first, "b", "a")
	first.Close()
	if (*configs)[0].Port != "51000" || (*configs)[1].Port != "51001" {
		t.Fatalf("first run ports = %s, %s", (*configs)[0].Port, (*configs)[1].Port)
	}

	// Reconnecting in the opposite order keeps each fixture's port.
	second, configs := newTestServiceAt(dir, lights)
	defer second.Close()
	connect(second, "a", "c", "b")

	want := []string{"51001", "51002", "51000"}
	for i, cfg := range *configs {
		if cfg.Port != want[i] {
			t.Errorf("second run port %d = %s, want %s", i, cfg.Port, want[i])
		}
	}
}

func TestAccessory_Callbacks(t *testing.T) {
	l := light.New("desk", nil, nil, light.Options{})
	a := NewAccessory(l, "elk", "11:22")

	a.setHue(200)
	a.setSaturation(50)
	a.setBrightness(30)
	a.setOn(false)

	snap := l.Snapshot()
	if snap.Target.H != 200 || snap.Target.S != 50 || snap.User.V != 30 {
		t.Errorf("snapshot = %+v", snap)
	}
	if a.getOn() {
		t.Error("getOn() should report the pending power off")
	}
	if a.Info.Name.GetValue() != "desk" || a.Info.Model.GetValue() != "elk" {
		t.Error("accessory info not set from the fixture")
	}
}

func TestAccessory_Mirror(t *testing.T) {
	lights := fakeLights{"desk": light.New("desk", nil, nil, light.Options{})}
	svc, _ := newTestService(t, lights)
	defer svc.Close()

	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureConnected, Fixture: "desk"})
	acc, ok := svc.Accessory("desk")
	if !ok {
		t.Fatal("accessory not published")
	}

	l := lights["desk"]
	l.SetHue(90)
	l.SetBrightness(40)
	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureState, Fixture: "desk", State: l.Snapshot()})

	bulb := acc.Lightbulb
	if bulb.Hue.GetValue() != 90 || bulb.Brightness.GetValue() != 40 || !bulb.On.GetValue() {
		t.Errorf("mirrored on=%v brightness=%d hue=%v",
			bulb.On.GetValue(), bulb.Brightness.GetValue(), bulb.Hue.GetValue())
	}
}

func TestAccessory_StaleStateEvent(t *testing.T) {
	lights := fakeLights{"desk": light.New("desk", nil, nil, light.Options{})}
	svc, _ := newTestService(t, lights)
	defer svc.Close()

	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureConnected, Fixture: "desk"})
	acc, _ := svc.Accessory("desk")

	l := lights["desk"]
	l.SetBrightness(20)
	older := l.Snapshot()
	l.SetBrightness(70)
	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureState, Fixture: "desk", State: l.Snapshot()})
	svc.HandleEvent(eventbus.Event{Type: eventbus.EventFixtureState, Fixture: "desk", State: older})

	if v := acc.Lightbulb.Brightness.GetValue(); v != 70 {
		t.Errorf("brightness = %d after a late older event, want 70", v)
	}
}

func TestAccessoryID(t *testing.T) {
	a, b := accessoryID("aa:bb"), accessoryID("aa:bb")
	if a != b {
		t.Error("accessory id should be stable")
	}
	if a <= 1 {
		t.Errorf("accessory id %d collides with the bridge id", a)
	}
	if accessoryID("aa:bc") == a {
		t.Error("different fixtures should get different ids")
	}
}
