package homekit

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/eventbus"
	"github.com/dokzlo13/ledbridge/internal/light"
)

// Lights looks up a light by fixture identity.
type Lights interface {
	Light(id string) (*light.Light, error)
}

// Transport is a running HAP server.
type Transport interface {
	Start()
	Stop() <-chan struct{}
}

// TransportFactory creates the HAP server for one accessory.
type TransportFactory func(cfg hc.Config, acc *accessory.Accessory) (Transport, error)

// IPTransport is the default factory.
func IPTransport(cfg hc.Config, acc *accessory.Accessory) (Transport, error) {
	return hc.NewIPTransport(cfg, acc)
}

// Options configures the service.
type Options struct {
	Pin         string
	StoragePath string
	// BasePort is the lowest accessory port; zero picks a free port. Assigned ports are
	// recorded under StoragePath.
	BasePort int
	// NewTransport defaults to IPTransport.
	NewTransport TransportFactory
}

type published struct {
	acc       *Accessory
	transport Transport
}

// Service publishes one accessory per light, created the first time its fixture connects.
type Service struct {
	lights Lights
	opts   Options

	mu          sync.Mutex
	accessories map[string]*published
	ports       *portMap
	closed      bool
	wg          sync.WaitGroup
}

// NewService creates the HomeKit service.
func NewService(lights Lights, opts Options) *Service {
	if opts.NewTransport == nil {
		opts.NewTransport = IPTransport
	}
	s := &Service{
		lights:      lights,
		opts:        opts,
		accessories: make(map[string]*published),
	}
	if opts.BasePort > 0 {
		s.ports = loadPorts(opts.StoragePath, opts.BasePort)
	}
	return s
}

// HandleEvent publishes new fixtures and mirrors state changes.
func (s *Service) HandleEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.EventFixtureConnected:
		s.publish(e)
	case eventbus.EventFixtureState:
		s.mu.Lock()
		p := s.accessories[e.Fixture]
		s.mu.Unlock()
		if p != nil {
			p.acc.Refresh()
		}
	}
}

func (s *Service) publish(e eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.accessories[e.Fixture] != nil {
		return
	}

	l, err := s.lights.Light(e.Fixture)
	if err != nil {
		log.Warn().Err(err).Str("fixture", e.Fixture).Msg("Connected fixture has no light")
		return
	}

	acc := NewAccessory(l, e.Family, e.Address)
	cfg := hc.Config{
		Pin:         s.opts.Pin,
		StoragePath: filepath.Join(s.opts.StoragePath, storageDir(e.Fixture)),
	}
	if s.ports != nil {
		port, err := s.ports.assign(e.Fixture)
		if err != nil {
			log.Warn().Err(err).Str("fixture", e.Fixture).Msg("Failed to record HomeKit port")
		}
		cfg.Port = strconv.Itoa(port)
	}

	t, err := s.opts.NewTransport(cfg, acc.Accessory)
	if err != nil {
		log.Error().Err(err).Str("fixture", e.Fixture).Msg("Failed to create HomeKit transport")
		return
	}
	s.accessories[e.Fixture] = &published{acc: acc, transport: t}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.Start()
	}()

	log.Info().Str("fixture", e.Fixture).Str("port", cfg.Port).Msg("Published HomeKit accessory")
}

// Accessory returns the published accessory of a fixture.
func (s *Service) Accessory(id string) (*Accessory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.accessories[id]
	if !ok {
		return nil, false
	}
	return p.acc, true
}

// Close stops every transport.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	all := make([]*published, 0, len(s.accessories))
	for _, p := range s.accessories {
		all = append(all, p)
	}
	s.mu.Unlock()

	for _, p := range all {
		<-p.transport.Stop()
	}
	s.wg.Wait()
}

var dirEscaper = strings.NewReplacer("/", "_", "\\", "_", ":", "")

// storageDir keeps the pairing data of each accessory apart.
func storageDir(id string) string {
	return dirEscaper.Replace(id)
}
