// Package homekit exposes every light as a HomeKit colored lightbulb.
package homekit

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/brutella/hc/accessory"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/light"
)

// getTimeout bounds the hardware power query behind an On read.
const getTimeout = 3 * time.Second

// Accessory binds one light to a colored lightbulb accessory.
type Accessory struct {
	*accessory.ColoredLightbulb
	light *light.Light

	mirrorMu sync.Mutex
}

// NewAccessory creates the accessory for a light and registers its callbacks.
func NewAccessory(l *light.Light, family, address string) *Accessory {
	info := accessory.Info{
		Name:         l.ID(),
		SerialNumber: address,
		Manufacturer: "ledbridge",
		Model:        family,
		ID:           accessoryID(l.ID()),
	}
	a := &Accessory{
		ColoredLightbulb: accessory.NewColoredLightbulb(info),
		light:            l,
	}

	bulb := a.Lightbulb
	bulb.On.OnValueRemoteGet(a.getOn)
	bulb.On.OnValueRemoteUpdate(a.setOn)
	bulb.Brightness.OnValueRemoteGet(a.light.Brightness)
	bulb.Brightness.OnValueRemoteUpdate(a.setBrightness)
	bulb.Hue.OnValueRemoteGet(a.light.Hue)
	bulb.Hue.OnValueRemoteUpdate(a.setHue)
	bulb.Saturation.OnValueRemoteGet(a.light.Saturation)
	bulb.Saturation.OnValueRemoteUpdate(a.setSaturation)

	a.Refresh()
	return a
}

// accessoryID derives a stable accessory id from the fixture identity.
func accessoryID(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	// 1 is reserved for the bridge accessory.
	return h.Sum64()>>1 | 2
}

func (a *Accessory) getOn() bool {
	ctx, cancel := context.WithTimeout(context.Background(), getTimeout)
	defer cancel()
	return a.light.On(ctx)
}

func (a *Accessory) setOn(on bool) {
	log.Debug().Str("fixture", a.light.ID()).Bool("on", on).Msg("HomeKit set on")
	a.light.SetOn(on)
}

func (a *Accessory) setBrightness(v int) {
	log.Debug().Str("fixture", a.light.ID()).Int("brightness", v).Msg("HomeKit set brightness")
	a.light.SetBrightness(v)
}

func (a *Accessory) setHue(h float64) {
	log.Debug().Str("fixture", a.light.ID()).Float64("hue", h).Msg("HomeKit set hue")
	a.light.SetHue(h)
}

func (a *Accessory) setSaturation(s float64) {
	log.Debug().Str("fixture", a.light.ID()).Float64("saturation", s).Msg("HomeKit set saturation")
	a.light.SetSaturation(s)
}

// Refresh pushes the light's current state into the characteristic values so that
// controllers see changes made through other surfaces.
func (a *Accessory) Refresh() {
	a.mirrorMu.Lock()
	defer a.mirrorMu.Unlock()
	a.mirror(a.light.Snapshot())
}

func (a *Accessory) mirror(s light.Snapshot) {
	bulb := a.Lightbulb
	if on := s.On(); bulb.On.GetValue() != on {
		bulb.On.SetValue(on)
	}
	if v := int(math.Round(s.User.V)); bulb.Brightness.GetValue() != v {
		bulb.Brightness.SetValue(v)
	}
	if bulb.Hue.GetValue() != s.Target.H {
		bulb.Hue.SetValue(s.Target.H)
	}
	if bulb.Saturation.GetValue() != s.Target.S {
		bulb.Saturation.SetValue(s.Target.S)
	}
}
