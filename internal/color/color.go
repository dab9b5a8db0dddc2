// Package color provides HSV helpers used by the animation engine and the frame encoders.
package color

import "math"

// HSV is a color in hue/saturation/value form.
// H is in degrees [0,360), S and V are percentages [0,100].
type HSV struct {
	H float64 `json:"hue"`
	S float64 `json:"saturation"`
	V float64 `json:"value"`
}

// Equal reports whether all three channels match exactly.
func (c HSV) Equal(o HSV) bool {
	return c.H == o.H && c.S == o.S && c.V == o.V
}

// HSVToRGB converts h in [0,360] and s,v in [0,1] to r,g,b in [0,1].
func HSVToRGB(h, s, v float64) (r, g, b float64) {
	f := func(n float64) float64 {
		k := math.Mod(n+h/60, 6)
		return v - v*s*math.Max(math.Min(math.Min(k, 4-k), 1), 0)
	}
	return f(5), f(3), f(1)
}

// NormalizeHue maps any hue into [0,360).
func NormalizeHue(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// HueDelta returns the shortest signed rotation from one hue to another, in (-180,180].
func HueDelta(from, to float64) float64 {
	d := NormalizeHue(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

// Diff returns target minus base per channel, with the hue channel taking the shorter way around.
func Diff(base, target HSV) HSV {
	return HSV{
		H: HueDelta(base.H, target.H),
		S: target.S - base.S,
		V: target.V - base.V,
	}
}

// Step moves current toward target by at most rate per channel.
// A channel within rate of its target lands on it exactly.
func Step(current, target HSV, rate float64) HSV {
	d := Diff(current, target)

	next := HSV{
		H: approach(current.H, target.H, d.H, rate),
		S: approach(current.S, target.S, d.S, rate),
		V: approach(current.V, target.V, d.V, rate),
	}
	if next.H != target.H {
		next.H = NormalizeHue(next.H)
	}
	return next
}

func approach(current, target, delta, rate float64) float64 {
	if math.Abs(delta) <= rate {
		return target
	}
	if delta > 0 {
		return current + rate
	}
	return current - rate
}

// Distance returns the Euclidean distance between two colors using the circular hue delta.
func Distance(a, b HSV) float64 {
	d := Diff(a, b)
	return math.Sqrt(d.H*d.H + d.S*d.S + d.V*d.V)
}

// MaxComponent returns the largest absolute channel delta between two colors.
func MaxComponent(a, b HSV) float64 {
	d := Diff(a, b)
	return math.Max(math.Abs(d.H), math.Max(math.Abs(d.S), math.Abs(d.V)))
}
