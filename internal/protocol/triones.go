package protocol

import (
	"strings"

	"github.com/dokzlo13/ledbridge/internal/ble"
)

// Triones GATT layout.
const (
	TrionesNamePrefix = "Triones-"

	TrionesNotifyService = "ffd0"
	TrionesWriteService  = "ffd5"
	TrionesNotifyChar    = "ffd4"
	TrionesWriteChar     = "ffd9"
)

const (
	trionesPowerOn  = 0x23
	trionesPowerOff = 0x24
)

// TrionesSupports reports whether an advertisement belongs to a Triones fixture.
func TrionesSupports(adv ble.Advertisement) bool {
	return strings.HasPrefix(adv.LocalName, TrionesNamePrefix)
}

// TrionesPowerQuery asks the fixture to report its power state on the notify characteristic.
func TrionesPowerQuery() []byte {
	return []byte{0xEF, 0x01, 0x77}
}

// TrionesPower switches the fixture on or off.
func TrionesPower(on bool) []byte {
	state := byte(trionesPowerOff)
	if on {
		state = trionesPowerOn
	}
	return []byte{0xCC, state, 0x33}
}

// TrionesPowerState decodes a power query reply.
func TrionesPowerState(reply []byte) bool {
	return len(reply) > 2 && reply[2] == trionesPowerOn
}

// TrionesWhite sets the white channel brightness (v in 0-100).
func TrionesWhite(v float64) []byte {
	return []byte{0x56, 0xFF, 0xFF, 0xFF, toByte(v / 100), 0x0F, 0xAA}
}

// TrionesRGB sets an RGB color.
func TrionesRGB(h, s, v float64) []byte {
	r, g, b := rgbBytes(h, s, v)
	return []byte{0x56, r, g, b, 0x00, 0xF0, 0xAA}
}

// TrionesColor picks white or RGB mode depending on saturation.
func TrionesColor(h, s, v, whiteThreshold float64) []byte {
	if IsWhite(s, whiteThreshold) {
		return TrionesWhite(v)
	}
	return TrionesRGB(h, s, v)
}

// IsWhite reports whether a saturation routes to white mode.
func IsWhite(s, threshold float64) bool {
	return s <= threshold
}
