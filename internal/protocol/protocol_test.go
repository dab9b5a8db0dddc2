package protocol

import (
	"bytes"
	"testing"

	"github.com/dokzlo13/ledbridge/internal/ble"
)

func TestTrionesFrames(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"power_query", TrionesPowerQuery(), []byte{0xEF, 0x01, 0x77}},
		{"power_on", TrionesPower(true), []byte{0xCC, 0x23, 0x33}},
		{"power_off", TrionesPower(false), []byte{0xCC, 0x24, 0x33}},
		{"white_full", TrionesWhite(100), []byte{0x56, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F, 0xAA}},
		{"white_half", TrionesWhite(50), []byte{0x56, 0xFF, 0xFF, 0xFF, 0x7F, 0x0F, 0xAA}},
		{"white_off", TrionesWhite(0), []byte{0x56, 0xFF, 0xFF, 0xFF, 0x00, 0x0F, 0xAA}},
		{"rgb_red", TrionesRGB(0, 100, 100), []byte{0x56, 0xFF, 0x00, 0x00, 0x00, 0xF0, 0xAA}},
		{"rgb_half_green", TrionesRGB(120, 100, 50), []byte{0x56, 0x00, 0x7F, 0x00, 0x00, 0xF0, 0xAA}},
		{"rgb_cyan", TrionesRGB(180, 100, 100), []byte{0x56, 0x00, 0xFF, 0xFF, 0x00, 0xF0, 0xAA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("frame = % X, want % X", tt.got, tt.want)
			}
		})
	}
}

func TestTrionesColor_WhiteRouting(t *testing.T) {
	tests := []struct {
		name      string
		h, s, v   float64
		wantWhite bool
	}{
		{"zero_saturation", 0, 0, 100, true},
		{"threshold", 200, 5, 80, true},
		{"just_above", 200, 5.01, 80, false},
		{"full_saturation", 40, 100, 10, false},
		{"hue_ignored_in_white", 359, 3, 20, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := TrionesColor(tt.h, tt.s, tt.v, DefaultWhiteThreshold)
			isWhite := frame[5] == 0x0F
			if isWhite != tt.wantWhite {
				t.Errorf("white mode = %v, want %v (frame % X)", isWhite, tt.wantWhite, frame)
			}
			if tt.wantWhite && !bytes.Equal(frame, TrionesWhite(tt.v)) {
				t.Errorf("frame = % X, want white frame % X", frame, TrionesWhite(tt.v))
			}
		})
	}
}

func TestTrionesPowerState(t *testing.T) {
	if !TrionesPowerState([]byte{0x66, 0x15, 0x23, 0x41}) {
		t.Error("reply with 0x23 at index 2 should be on")
	}
	if TrionesPowerState([]byte{0x66, 0x15, 0x24, 0x41}) {
		t.Error("reply with 0x24 at index 2 should be off")
	}
	if TrionesPowerState([]byte{0x66}) {
		t.Error("short reply should be off")
	}
}

func TestELKFrames(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"power_on", ELKPower(true), []byte{0x7E, 0x00, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0xEF}},
		{"power_off", ELKPower(false), []byte{0x7E, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xEF}},
		{"brightness_full", ELKBrightness(100), []byte{0x7E, 0x00, 0x01, 0x64, 0x00, 0x00, 0x00, 0x00, 0xEF}},
		{"brightness_zero", ELKBrightness(0), []byte{0x7E, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0xEF}},
		{"rgb_blue", ELKRGB(240, 100), []byte{0x7E, 0x00, 0x05, 0x03, 0x00, 0x00, 0xFF, 0x00, 0xEF}},
		{"rgb_white", ELKRGB(0, 0), []byte{0x7E, 0x00, 0x05, 0x03, 0xFF, 0xFF, 0xFF, 0x00, 0xEF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("frame = % X, want % X", tt.got, tt.want)
			}
		})
	}
}

func TestSupports(t *testing.T) {
	triones := ble.Advertisement{Address: "aa", LocalName: "Triones-ABCDEF"}
	elk := ble.Advertisement{Address: "bb", LocalName: "ELK-BLEDOM", ServiceUUIDs: []string{"fff0"}}
	other := ble.Advertisement{Address: "cc", LocalName: "Speaker"}

	if !TrionesSupports(triones) || TrionesSupports(elk) || TrionesSupports(other) {
		t.Error("TrionesSupports should only match the Triones- name prefix")
	}
	if !ELKSupports(elk) || ELKSupports(triones) || ELKSupports(other) {
		t.Error("ELKSupports should only match the fff0 service")
	}
}
