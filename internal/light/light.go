// Package light implements the per-fixture light state machine: the current, target and
// user colors, the pending power transition, and the animation tick that moves the
// fixture toward its target.
package light

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/ble"
	"github.com/dokzlo13/ledbridge/internal/color"
	"github.com/dokzlo13/ledbridge/internal/fixture"
	"github.com/dokzlo13/ledbridge/internal/scheduler"
)

// ErrNotImplemented is returned when a light has no fixture driver to bind.
var ErrNotImplemented = errors.New("light: not implemented")

// Defaults.
const (
	DefaultRate              = 4.0
	DefaultPowerQueryTimeout = 2 * time.Second
)

// Snapshot is a copy of a light's state.
type Snapshot struct {
	ID      string      `json:"id"`
	Current color.HSV   `json:"current"`
	Target  color.HSV   `json:"target"`
	User    color.HSV   `json:"user"`
	Intent  PowerIntent `json:"-"`
	Power   bool        `json:"power"`
	Linked  bool        `json:"linked"`
}

// On reports the power state the user asked for.
func (s Snapshot) On() bool {
	switch s.Intent {
	case IntentTurningOn:
		return true
	case IntentTurningOff:
		return false
	}
	return s.Power
}

// Options configures a Light.
type Options struct {
	// Rate is the maximum change per channel per tick.
	Rate float64
	// PowerQueryTimeout bounds a hardware power query.
	PowerQueryTimeout time.Duration
	// OnChange is called with a fresh snapshot after every setter and when an animation converges.
	OnChange func(Snapshot)
}

// Light is the logical light for one fixture. It lives for the whole process and survives
// any number of transport rebinds.
type Light struct {
	id     string
	driver fixture.Driver
	sched  scheduler.Scheduler
	opts   Options

	mu      sync.Mutex
	current color.HSV
	target  color.HSV
	user    color.HSV
	intent  PowerIntent
	power   bool

	// unlinkedLogged suppresses repeated "not linked" lines while disconnected.
	unlinkedLogged bool
}

// New creates a light in its default state: white at full brightness, powered on.
func New(id string, driver fixture.Driver, sched scheduler.Scheduler, opts Options) *Light {
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.PowerQueryTimeout <= 0 {
		opts.PowerQueryTimeout = DefaultPowerQueryTimeout
	}

	def := color.HSV{H: 0, S: 0, V: 100}
	return &Light{
		id:      id,
		driver:  driver,
		sched:   sched,
		opts:    opts,
		current: def,
		target:  def,
		user:    def,
		power:   true,
	}
}

// ID returns the fixture identity.
func (l *Light) ID() string {
	return l.id
}

// SetPeripheralLink binds the light to a new transport. Safe to call on every reconnect.
func (l *Light) SetPeripheralLink(ctx context.Context, p ble.Peripheral) error {
	if l.driver == nil {
		return ErrNotImplemented
	}
	if err := l.driver.Bind(ctx, p); err != nil {
		return err
	}

	l.mu.Lock()
	l.unlinkedLogged = false
	pending := l.pendingLocked()
	l.mu.Unlock()

	if pending {
		l.kick()
	}
	return nil
}

// Unlink drops the transport. Accumulated state is kept.
func (l *Light) Unlink() {
	if l.driver != nil {
		l.driver.Unbind()
	}
}

// Linked reports whether a transport is bound.
func (l *Light) Linked() bool {
	return l.driver != nil && l.driver.Bound()
}

// Power queries the fixture's power state, falling back to the last known state.
func (l *Light) Power(ctx context.Context) bool {
	if l.Linked() {
		qctx, cancel := context.WithTimeout(ctx, l.opts.PowerQueryTimeout)
		defer cancel()

		on, err := l.driver.Power(qctx)
		if err == nil {
			return on
		}
		log.Debug().Err(err).Str("fixture", l.id).Msg("Power query failed, using last known state")
	}
	return l.Snapshot().On()
}

// SetPower issues the family power frame immediately.
func (l *Light) SetPower(ctx context.Context, on bool) error {
	if l.driver == nil {
		return ErrNotImplemented
	}
	if err := l.driver.SetPower(ctx, on); err != nil {
		return err
	}
	l.mu.Lock()
	l.power = on
	l.mu.Unlock()
	return nil
}

// SetColor issues the family color frame immediately.
func (l *Light) SetColor(ctx context.Context, c color.HSV) error {
	if l.driver == nil {
		return ErrNotImplemented
	}
	return l.driver.SetColor(ctx, c)
}

// Update advances the animation by one tick and reports whether more ticks are needed.
func (l *Light) Update(ctx context.Context) bool {
	l.mu.Lock()
	if !l.pendingLocked() {
		l.mu.Unlock()
		return false
	}

	var next color.HSV
	if l.fade() {
		next = color.Step(l.current, l.target, l.opts.Rate)
	} else {
		next = l.target
	}
	intent := l.intent
	l.mu.Unlock()

	for _, action := range planTick(intent, next.V) {
		var err error
		switch action {
		case ActionPowerOn:
			err = l.SetPower(ctx, true)
		case ActionSetColor:
			err = l.SetColor(ctx, next)
			if err == nil {
				l.commit(next)
			}
		case ActionPowerOff:
			err = l.SetPower(ctx, false)
		}
		if err != nil {
			l.logWriteError(action, err)
			return true
		}
		if action == ActionPowerOn || action == ActionPowerOff {
			l.clearIntent(intent)
		}
	}

	l.mu.Lock()
	l.unlinkedLogged = false
	done := !l.pendingLocked()
	l.mu.Unlock()

	if done {
		l.notify()
	}
	return true
}

// commit stores the color that was just written.
func (l *Light) commit(next color.HSV) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = next
}

// clearIntent drops the pending intent unless a setter replaced it mid-tick.
func (l *Light) clearIntent(intent PowerIntent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.intent == intent {
		l.intent = IntentNone
	}
}

func (l *Light) logWriteError(action Action, err error) {
	if errors.Is(err, fixture.ErrNotLinked) {
		l.mu.Lock()
		logged := l.unlinkedLogged
		l.unlinkedLogged = true
		l.mu.Unlock()
		if !logged {
			log.Debug().Str("fixture", l.id).Str("action", action.String()).Msg("No transport linked, holding animation")
		}
		return
	}
	log.Warn().Err(err).Str("fixture", l.id).Str("action", action.String()).Msg("Write failed, retrying next tick")
}

func (l *Light) pendingLocked() bool {
	return l.intent != IntentNone || !l.current.Equal(l.target)
}

func (l *Light) fade() bool {
	return l.driver == nil || l.driver.Fade()
}

// kick starts the animation task if it is not already running.
func (l *Light) kick() {
	if l.sched == nil {
		return
	}
	l.sched.Schedule(l.id, l.Update)
}

// mutate applies fn under the lock, then notifies observers and starts animating if needed.
func (l *Light) mutate(fn func()) {
	l.mu.Lock()
	fn()
	pending := l.pendingLocked()
	l.mu.Unlock()

	l.notify()
	if pending {
		l.kick()
	}
}

func (l *Light) notify() {
	if l.opts.OnChange != nil {
		l.opts.OnChange(l.Snapshot())
	}
}

// Snapshot returns a copy of the light's state.
func (l *Light) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		ID:      l.id,
		Current: l.current,
		Target:  l.target,
		User:    l.user,
		Intent:  l.intent,
		Power:   l.power,
		Linked:  l.driver != nil && l.driver.Bound(),
	}
}
