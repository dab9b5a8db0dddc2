// Package manager owns the fixture registry: it deduplicates discoveries, paces connect
// attempts, binds each connection to the fixture's long-lived Light and applies the
// scan restart policy.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/ledbridge/internal/ble"
	"github.com/dokzlo13/ledbridge/internal/eventbus"
	"github.com/dokzlo13/ledbridge/internal/fixture"
	"github.com/dokzlo13/ledbridge/internal/light"
	"github.com/dokzlo13/ledbridge/internal/scheduler"
)

// ErrUnknownFixture is returned when looking up an identity that was never connected.
var ErrUnknownFixture = errors.New("unknown fixture")

// DefaultConnectRate is the default number of connect attempts per second.
const DefaultConnectRate = 1.0

// Options configures a Manager.
type Options struct {
	Identity IdentityMode
	// ConnectRate limits connect attempts per second. Zero means DefaultConnectRate,
	// a negative value disables pacing.
	ConnectRate float64
	Scan        ScanPolicy
	Light       light.Options
	// Bus receives lifecycle and state events. Optional.
	Bus *eventbus.Bus
}

// Manager tracks fixtures by identity.
type Manager struct {
	central  ble.Central
	dispatch fixture.Dispatch
	sched    scheduler.Scheduler
	opts     Options
	limiter  *rate.Limiter

	mu         sync.Mutex
	records    map[string]*record
	windowOpen bool
	scanning   bool
	window     *time.Timer
	closed     bool

	wg sync.WaitGroup
}

// New creates a manager. Scanning starts with Start.
func New(central ble.Central, dispatch fixture.Dispatch, sched scheduler.Scheduler, opts Options) *Manager {
	if opts.Identity == "" {
		opts.Identity = IdentityAddress
	}
	if opts.Scan.Trigger == "" {
		opts.Scan.Trigger = TriggerMissing
	}
	if opts.ConnectRate == 0 {
		opts.ConnectRate = DefaultConnectRate
	}

	limit, burst := rate.Inf, 1
	if opts.ConnectRate > 0 {
		limit = rate.Limit(opts.ConnectRate)
		burst = max(1, int(opts.ConnectRate))
	}

	return &Manager{
		central:  central,
		dispatch: dispatch,
		sched:    sched,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		records:  make(map[string]*record),
	}
}

// Start opens the settle window and starts scanning.
func (m *Manager) Start() error {
	m.mu.Lock()
	m.windowOpen = true
	if m.opts.Scan.SettleWindow > 0 {
		m.window = time.AfterFunc(m.opts.Scan.SettleWindow, m.CloseSettleWindow)
	}
	m.mu.Unlock()

	log.Info().
		Str("identity", string(m.opts.Identity)).
		Dur("settle_window", m.opts.Scan.SettleWindow).
		Str("trigger", string(m.opts.Scan.Trigger)).
		Msg("Starting fixture discovery")

	if err := m.startScan("start"); err != nil {
		return err
	}
	if m.opts.Scan.SettleWindow <= 0 {
		m.CloseSettleWindow()
	}
	return nil
}

// HandleDiscover processes one advertisement. Supported fixtures that are neither
// connecting nor connected get an asynchronous connect attempt bounded by ctx.
func (m *Manager) HandleDiscover(ctx context.Context, adv ble.Advertisement) {
	family, err := m.dispatch.Match(adv)
	if err != nil {
		return
	}
	id := m.opts.Identity.Identity(adv)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	rec, ok := m.records[id]
	if ok && rec.live() {
		m.mu.Unlock()
		return
	}
	if !ok {
		rec = &record{id: id, family: family.Name()}
		m.records[id] = rec
	}
	rec.status = StatusConnecting
	rec.address = adv.Address
	if adv.LocalName != "" {
		rec.name = adv.LocalName
	}
	rec.attempt = uuid.NewString()
	attempt := rec.attempt
	m.wg.Add(1)
	m.mu.Unlock()

	log.Info().
		Str("fixture", id).
		Str("address", adv.Address).
		Str("family", family.Name()).
		Msg("Fixture discovered")
	m.publish(eventbus.Event{
		Type:      eventbus.EventFixtureDiscovered,
		Fixture:   id,
		Address:   adv.Address,
		Name:      adv.LocalName,
		Family:    family.Name(),
		AttemptID: attempt,
	})

	go func() {
		defer m.wg.Done()
		m.connect(ctx, id, attempt, adv, family)
	}()
}

func (m *Manager) connect(ctx context.Context, id, attempt string, adv ble.Advertisement, family fixture.Family) {
	logger := log.With().Str("fixture", id).Str("address", adv.Address).Str("attempt", attempt).Logger()

	if err := m.limiter.Wait(ctx); err != nil {
		m.fail(id, attempt, adv, fmt.Errorf("%w: %w", ble.ErrConnect, err))
		return
	}

	m.publish(eventbus.Event{
		Type:      eventbus.EventFixtureConnecting,
		Fixture:   id,
		Address:   adv.Address,
		Family:    family.Name(),
		AttemptID: attempt,
	})
	logger.Debug().Msg("Connecting to fixture")

	p, err := m.central.Connect(ctx, adv)
	if err != nil {
		m.fail(id, attempt, adv, err)
		return
	}

	// The link can drop while characteristics are still being discovered, so the
	// handler is registered before binding.
	m.mu.Lock()
	rec := m.records[id]
	rec.peripheral = p
	l := rec.light
	m.mu.Unlock()
	p.OnDisconnect(func() { m.handleDisconnect(id, p) })

	created := false
	if l == nil {
		l = light.New(id, family.NewDriver(), m.sched, m.lightOptions(id))
		created = true
	}
	if err := l.SetPeripheralLink(ctx, p); err != nil {
		dropped := !m.release(id, p)
		if derr := p.Disconnect(); derr != nil {
			logger.Debug().Err(derr).Msg("Disconnect after failed bind")
		}
		if dropped {
			err = fmt.Errorf("%w: link dropped while binding: %w", ble.ErrConnect, err)
		}
		m.fail(id, attempt, adv, err)
		if dropped {
			m.restartScanAfterDisconnect()
		}
		return
	}

	m.mu.Lock()
	if rec.peripheral != p {
		m.mu.Unlock()
		l.Unlink()
		m.fail(id, attempt, adv, fmt.Errorf("%w: link dropped while binding", ble.ErrConnect))
		m.restartScanAfterDisconnect()
		return
	}
	rec.status = StatusConnected
	rec.light = l
	rec.address = adv.Address
	m.mu.Unlock()

	logger.Info().Bool("new_light", created).Msg("Fixture connected")
	m.publish(eventbus.Event{
		Type:      eventbus.EventFixtureConnected,
		Fixture:   id,
		Address:   adv.Address,
		Name:      adv.LocalName,
		Family:    family.Name(),
		AttemptID: attempt,
	})
}

// fail releases the in-flight slot so the next discovery retries.
func (m *Manager) fail(id, attempt string, adv ble.Advertisement, err error) {
	m.mu.Lock()
	rec := m.records[id]
	if rec.light != nil {
		rec.status = StatusDisconnected
	} else {
		rec.status = StatusDiscovered
	}
	family := rec.family
	m.mu.Unlock()

	log.Warn().
		Err(err).
		Str("fixture", id).
		Str("address", adv.Address).
		Str("attempt", attempt).
		Msg("Fixture connect failed")
	m.publish(eventbus.Event{
		Type:      eventbus.EventFixtureConnectFailed,
		Fixture:   id,
		Address:   adv.Address,
		Family:    family,
		AttemptID: attempt,
		Err:       err,
	})
}

// release detaches p from its record unless another connection already owns it.
func (m *Manager) release(id string, p ble.Peripheral) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[id]
	if rec.peripheral != p {
		return false
	}
	rec.peripheral = nil
	return true
}

func (m *Manager) handleDisconnect(id string, p ble.Peripheral) {
	m.mu.Lock()
	rec := m.records[id]
	if rec.peripheral != p {
		// A newer connection already replaced this one.
		m.mu.Unlock()
		return
	}
	if rec.status == StatusConnecting {
		// The connect attempt still owns the slot and reports the failure once binding returns.
		rec.peripheral = nil
		m.mu.Unlock()
		log.Debug().Str("fixture", id).Msg("Link dropped while binding")
		return
	}
	rec.status = StatusDisconnected
	rec.peripheral = nil
	l := rec.light
	address := rec.address
	family := rec.family
	m.mu.Unlock()

	l.Unlink()

	log.Info().Str("fixture", id).Str("address", address).Msg("Fixture disconnected")
	m.publish(eventbus.Event{
		Type:    eventbus.EventFixtureDisconnected,
		Fixture: id,
		Address: address,
		Family:  family,
	})

	m.restartScanAfterDisconnect()
}

func (m *Manager) restartScanAfterDisconnect() {
	m.mu.Lock()
	restart := !m.closed && !m.scanning && m.shouldScanLocked()
	m.mu.Unlock()
	if restart {
		if err := m.startScan("disconnect"); err != nil {
			log.Warn().Err(err).Msg("Failed to restart scan after disconnect")
		}
	}
}

// HandleScanStop applies the restart policy when the platform ends a scan.
func (m *Manager) HandleScanStop() {
	m.mu.Lock()
	m.scanning = false
	restart := !m.closed && m.shouldScanLocked()
	m.mu.Unlock()

	if !restart {
		log.Debug().Msg("Scan stopped, not restarting")
		return
	}
	if err := m.startScan("scan_stop"); err != nil {
		log.Warn().Err(err).Msg("Failed to restart scan")
	}
}

// CloseSettleWindow ends the startup window. When the policy no longer wants a scan,
// scanning is stopped.
func (m *Manager) CloseSettleWindow() {
	m.mu.Lock()
	if !m.windowOpen {
		m.mu.Unlock()
		return
	}
	m.windowOpen = false
	stop := m.scanning && !m.shouldScanLocked()
	if stop {
		m.scanning = false
	}
	m.mu.Unlock()

	log.Info().Bool("stop_scan", stop).Msg("Settle window closed")
	if stop {
		if err := m.central.StopScan(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop scan")
		}
	}
}

func (m *Manager) startScan(reason string) error {
	if err := m.central.StartScan(); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	m.mu.Lock()
	m.scanning = true
	m.mu.Unlock()
	log.Debug().Str("reason", reason).Msg("Scanning")
	return nil
}

func (m *Manager) shouldScanLocked() bool {
	return m.opts.Scan.shouldScan(m.windowOpen, m.missingLocked())
}

// missingLocked reports whether a fixture that connected before has no live connection.
func (m *Manager) missingLocked() bool {
	for _, rec := range m.records {
		if rec.light != nil && !rec.live() {
			return true
		}
	}
	return false
}

// Scanning reports whether the manager believes a scan is running.
func (m *Manager) Scanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanning
}

// Light returns the light for an identity.
func (m *Manager) Light(id string) (*light.Light, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.light == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFixture, id)
	}
	return rec.light, nil
}

// Fixture returns one registry entry.
func (m *Manager) Fixture(id string) (Fixture, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return Fixture{}, fmt.Errorf("%w: %s", ErrUnknownFixture, id)
	}
	// view takes the light lock; never hold m.mu across it.
	return m.viewOf(rec), nil
}

// Fixtures lists all registry entries ordered by identity.
func (m *Manager) Fixtures() []Fixture {
	m.mu.Lock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.Unlock()

	out := make([]Fixture, 0, len(recs))
	for _, rec := range recs {
		out = append(out, m.viewOf(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) viewOf(rec *record) Fixture {
	m.mu.Lock()
	cp := *rec
	m.mu.Unlock()
	return cp.view()
}

// Ready reports whether every known light has a live connection.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.missingLocked()
}

// Close stops scanning, waits for pending connect attempts and drops every connection.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.window != nil {
		m.window.Stop()
	}
	scanning := m.scanning
	m.scanning = false
	m.mu.Unlock()

	if scanning {
		if err := m.central.StopScan(); err != nil {
			log.Debug().Err(err).Msg("Stop scan on close")
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Timed out waiting for connect attempts")
	}

	m.mu.Lock()
	var peripherals []ble.Peripheral
	for _, rec := range m.records {
		if rec.peripheral != nil {
			peripherals = append(peripherals, rec.peripheral)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, p := range peripherals {
		if err := p.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", p.Address(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) lightOptions(id string) light.Options {
	opts := m.opts.Light
	user := opts.OnChange
	opts.OnChange = func(s light.Snapshot) {
		if user != nil {
			user(s)
		}
		m.publish(eventbus.Event{Type: eventbus.EventFixtureState, Fixture: id, State: s})
	}
	return opts
}

func (m *Manager) publish(e eventbus.Event) {
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(e)
	}
}
