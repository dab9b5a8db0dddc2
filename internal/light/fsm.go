package light

// PowerIntent is a pending power transition carried across animation ticks.
type PowerIntent int

const (
	IntentNone PowerIntent = iota
	IntentTurningOn
	IntentTurningOff
)

// String returns a human-readable name for the intent.
func (p PowerIntent) String() string {
	switch p {
	case IntentNone:
		return "none"
	case IntentTurningOn:
		return "turning_on"
	case IntentTurningOff:
		return "turning_off"
	default:
		return "unknown"
	}
}

// Action is a hardware write issued during a tick.
type Action int

const (
	ActionPowerOn Action = iota
	ActionSetColor
	ActionPowerOff
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionPowerOn:
		return "power_on"
	case ActionSetColor:
		return "set_color"
	case ActionPowerOff:
		return "power_off"
	default:
		return "unknown"
	}
}

// planTick determines the hardware writes of one tick, in order, given the pending
// intent and the brightness the tick will reach.
// Power-on goes first so the fixture is live when the color lands; power-off goes
// last and only once brightness has reached zero.
func planTick(intent PowerIntent, nextValue float64) []Action {
	switch intent {
	case IntentTurningOn:
		return []Action{ActionPowerOn, ActionSetColor}
	case IntentTurningOff:
		if nextValue == 0 {
			return []Action{ActionSetColor, ActionPowerOff}
		}
	}
	return []Action{ActionSetColor}
}
