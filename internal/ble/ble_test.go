package ble

import (
	"context"
	"testing"
)

type stubChar string

func (s stubChar) UUID() string { return string(s) }
func (s stubChar) Write(context.Context, []byte, bool) error { return nil }
func (s stubChar) ReadOnce(context.Context) ([]byte, error) { return nil, nil }
func (s stubChar) Flush()                                   {}

func TestAdvertisement_HasService(t *testing.T) {
	adv := Advertisement{ServiceUUIDs: []string{"fff0", "180A"}}

	if !adv.HasService("fff0") {
		t.Error("HasService(fff0) = false, want true")
	}
	if !adv.HasService("180a") {
		t.Error("HasService should ignore case")
	}
	if adv.HasService("ffd0") {
		t.Error("HasService(ffd0) = true, want false")
	}
	if (Advertisement{}).HasService("fff0") {
		t.Error("empty advertisement should not list services")
	}
}

func TestFind(t *testing.T) {
	chars := []Characteristic{stubChar("ffd4"), stubChar("FFD9")}

	if c := Find(chars, "ffd9"); c == nil || c.UUID() != "FFD9" {
		t.Errorf("Find(ffd9) = %v, want FFD9", c)
	}
	if c := Find(chars, "fff3"); c != nil {
		t.Errorf("Find(fff3) = %v, want nil", c)
	}
}
