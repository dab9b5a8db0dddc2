package protocol

import "github.com/dokzlo13/ledbridge/internal/ble"

// ELK (BLEDOM) GATT layout.
const (
	ELKService   = "fff0"
	ELKWriteChar = "fff3"
)

// ELKSupports reports whether an advertisement belongs to an ELK fixture.
func ELKSupports(adv ble.Advertisement) bool {
	return adv.HasService(ELKService)
}

// ELKPower switches the fixture on or off.
func ELKPower(on bool) []byte {
	state := byte(0x00)
	if on {
		state = 0x01
	}
	return []byte{0x7E, 0x00, 0x04, state, 0x00, 0x00, 0x00, 0x00, 0xEF}
}

// ELKBrightness sets the brightness; v is the 0-100 value sent as-is.
func ELKBrightness(v float64) []byte {
	b := byte(0)
	switch {
	case v >= 0xFF:
		b = 0xFF
	case v > 0:
		b = byte(v)
	}
	return []byte{0x7E, 0x00, 0x01, b, 0x00, 0x00, 0x00, 0x00, 0xEF}
}

// ELKRGB sets the color at full value; brightness is controlled separately.
func ELKRGB(h, s float64) []byte {
	r, g, b := rgbBytes(h, s, 100)
	return []byte{0x7E, 0x00, 0x05, 0x03, r, g, b, 0x00, 0xEF}
}
