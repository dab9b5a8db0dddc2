package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/config"
	"github.com/dokzlo13/ledbridge/internal/eventbus"
	"github.com/dokzlo13/ledbridge/internal/manager"
	"github.com/dokzlo13/ledbridge/internal/mqtt"
)

// MQTTService mirrors fixture state to MQTT and applies commands from it.
type MQTTService struct {
	cfg     *config.Config
	manager *manager.Manager
	bus     *eventbus.Bus
	client  *mqtt.Client
}

// NewMQTTService creates a new MQTTService. Nothing is dialed until Start.
func NewMQTTService(cfg *config.Config, m *manager.Manager, bus *eventbus.Bus) *MQTTService {
	return &MQTTService{cfg: cfg, manager: m, bus: bus}
}

// Start connects to the broker, subscribes to commands and starts mirroring.
func (s *MQTTService) Start() error {
	client, err := mqtt.Connect(s.cfg.MQTT)
	if err != nil {
		return err
	}
	s.client = client

	bridge := mqtt.NewBridge(client, s.manager, client.Topics(), s.cfg.MQTT.QoS)
	if err := client.Subscribe(client.Topics().SetWildcard(), bridge.HandleCommand); err != nil {
		client.Close()
		return err
	}
	s.bus.Subscribe(bridge.HandleEvent,
		eventbus.EventFixtureState,
		eventbus.EventFixtureConnected,
		eventbus.EventFixtureDisconnected,
	)

	log.Info().Str("commands", client.Topics().SetWildcard()).Msg("MQTT bridge started")
	return nil
}

// Close publishes offline and disconnects.
func (s *MQTTService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
