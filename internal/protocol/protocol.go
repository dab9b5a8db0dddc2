// Package protocol encodes power and color intents into the fixed-length command frames
// understood by each supported fixture family.
package protocol

import (
	"math"

	"github.com/dokzlo13/ledbridge/internal/color"
)

// DefaultWhiteThreshold is the saturation at or below which Triones fixtures are driven
// through their white channel instead of RGB mixing.
const DefaultWhiteThreshold = 5.0

// toByte scales a unit value to 0-255, truncating toward zero.
func toByte(unit float64) byte {
	v := math.Trunc(unit * 0xFF)
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 0xFF {
		return 0xFF
	}
	return byte(v)
}

// rgbBytes converts HSV (s,v as percentages) to scaled RGB bytes.
func rgbBytes(h, s, v float64) (r, g, b byte) {
	rf, gf, bf := color.HSVToRGB(h, s/100, v/100)
	return toByte(rf), toByte(gf), toByte(bf)
}
