package light

import (
	"context"
	"math"

	"github.com/dokzlo13/ledbridge/internal/color"
)

// Request is a batch of accessory-facing changes. Nil fields are left untouched.
type Request struct {
	On         *bool    `json:"on,omitempty"`
	Brightness *int     `json:"brightness,omitempty"`
	Hue        *float64 `json:"hue,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"`
}

// Apply mutates target, user and power intent; it never writes to hardware.
// The animation tick is started when the light no longer matches its target.
// Brightness is applied before On so that turning on restores the new brightness.
func (l *Light) Apply(req Request) {
	l.mutate(func() {
		if req.Hue != nil {
			l.target.H = color.NormalizeHue(*req.Hue)
		}
		if req.Saturation != nil {
			l.target.S = clamp(*req.Saturation, 0, 100)
		}
		if req.Brightness != nil {
			v := clamp(float64(*req.Brightness), 0, 100)
			l.target.V = v
			l.user.V = v
		}
		if req.On != nil {
			if *req.On {
				l.target.V = l.user.V
				l.intent = IntentTurningOn
			} else {
				l.target.V = 0
				l.intent = IntentTurningOff
			}
		} else if l.intent == IntentTurningOff && l.target.V > 0 {
			// A new brightness during a fade to off cancels the power off.
			if l.power {
				l.intent = IntentNone
			} else {
				l.intent = IntentTurningOn
			}
		}
	})
}

// SetOn requests power on (restoring the user brightness) or a fade to off.
func (l *Light) SetOn(on bool) {
	l.Apply(Request{On: &on})
}

// SetBrightness sets both the target and the remembered user brightness (0-100).
func (l *Light) SetBrightness(v int) {
	l.Apply(Request{Brightness: &v})
}

// SetHue sets the target hue in degrees.
func (l *Light) SetHue(h float64) {
	l.Apply(Request{Hue: &h})
}

// SetSaturation sets the target saturation (0-100).
func (l *Light) SetSaturation(s float64) {
	l.Apply(Request{Saturation: &s})
}

// On returns the power state, querying the fixture when possible.
func (l *Light) On(ctx context.Context) bool {
	return l.Power(ctx)
}

// Brightness returns the user brightness, which survives a power off.
func (l *Light) Brightness() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(math.Round(l.user.V))
}

// Hue returns the target hue.
func (l *Light) Hue() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target.H
}

// Saturation returns the target saturation.
func (l *Light) Saturation() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target.S
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
