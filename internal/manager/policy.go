package manager

import (
	"fmt"
	"time"
)

// Trigger decides whether scanning restarts after the settle window has closed.
type Trigger string

const (
	// TriggerAlways restarts scanning on every scan stop.
	TriggerAlways Trigger = "always"
	// TriggerMissing restarts scanning only while a known fixture has no live connection.
	TriggerMissing Trigger = "missing"
	// TriggerNever lets scanning stop for good once the window closes.
	TriggerNever Trigger = "never"
)

// DefaultSettleWindow is how long after start scanning always restarts.
const DefaultSettleWindow = 60 * time.Second

// ParseTrigger parses a config value; empty means missing.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case "", TriggerMissing:
		return TriggerMissing, nil
	case TriggerAlways, TriggerNever:
		return Trigger(s), nil
	}
	return "", fmt.Errorf("unknown scan restart trigger %q (want always, missing or never)", s)
}

// ScanPolicy controls when the manager restarts a stopped scan.
type ScanPolicy struct {
	SettleWindow time.Duration
	Trigger      Trigger
}

// shouldScan decides the policy. missing reports whether a known fixture lacks a live connection.
func (p ScanPolicy) shouldScan(windowOpen, missing bool) bool {
	if windowOpen {
		return true
	}
	switch p.Trigger {
	case TriggerAlways:
		return true
	case TriggerNever:
		return false
	}
	return missing
}
