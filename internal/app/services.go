package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/ble"
	"github.com/dokzlo13/ledbridge/internal/config"
	"github.com/dokzlo13/ledbridge/internal/db"
	"github.com/dokzlo13/ledbridge/internal/eventbus"
	"github.com/dokzlo13/ledbridge/internal/fixture"
	"github.com/dokzlo13/ledbridge/internal/homekit"
	"github.com/dokzlo13/ledbridge/internal/ledger"
	"github.com/dokzlo13/ledbridge/internal/light"
	"github.com/dokzlo13/ledbridge/internal/manager"
	"github.com/dokzlo13/ledbridge/internal/scheduler"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Fixtures
	Animator *scheduler.Ticker
	Central  *ble.TinyGoCentral
	Manager  *manager.Manager

	// Surfaces
	HomeKit       *homekit.Service
	MQTT          *MQTTService
	API           *APIService
	LedgerService *LedgerService

	ctxMu sync.RWMutex
	ctx   context.Context
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg, ctx: context.Background()}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)
	s.Animator = scheduler.NewTicker(cfg.Animation.FrameInterval.Duration())

	identity, err := manager.ParseIdentityMode(cfg.Bluetooth.Identity)
	if err != nil {
		s.Close()
		return nil, err
	}
	trigger, err := manager.ParseTrigger(cfg.Bluetooth.Scan.Restart)
	if err != nil {
		s.Close()
		return nil, err
	}

	dispatch := fixture.Default(fixture.Options{WhiteThreshold: cfg.Protocol.WhiteThreshold})

	// Scanning starts in Start, after the manager exists.
	s.Central, err = ble.NewTinyGoCentral(nil, dispatch.Services(),
		func(adv ble.Advertisement) { s.Manager.HandleDiscover(s.runContext(), adv) },
		func() { s.Manager.HandleScanStop() },
	)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Manager = manager.New(s.Central, dispatch, s.Animator, manager.Options{
		Identity:    identity,
		ConnectRate: cfg.Bluetooth.ConnectRate,
		Scan: manager.ScanPolicy{
			SettleWindow: cfg.Bluetooth.Scan.SettleWindow.Duration(),
			Trigger:      trigger,
		},
		Light: light.Options{
			Rate:              cfg.Animation.Rate,
			PowerQueryTimeout: cfg.Bluetooth.PowerQueryTimeout.Duration(),
		},
		Bus: s.Bus,
	})

	s.LedgerService = NewLedgerService(cfg, s.Ledger)
	s.Bus.Subscribe(s.LedgerService.Record, eventbus.Lifecycle...)

	if cfg.HomeKit.Enabled {
		s.HomeKit = homekit.NewService(s.Manager, homekit.Options{
			Pin:         cfg.HomeKit.Pin,
			StoragePath: cfg.HomeKit.StoragePath,
			BasePort:    cfg.HomeKit.BasePort,
		})
		s.Bus.Subscribe(s.HomeKit.HandleEvent, eventbus.EventFixtureConnected, eventbus.EventFixtureState)
	}

	if cfg.MQTT.Enabled {
		s.MQTT = NewMQTTService(cfg, s.Manager, s.Bus)
	}

	s.API = NewAPIService(cfg, s.Manager, s.Ledger)

	return s, nil
}

func (s *Services) runContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.ctx
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.ctxMu.Lock()
	s.ctx = ctx
	s.ctxMu.Unlock()

	s.LedgerService.Start(ctx)

	if s.MQTT != nil {
		// MQTT is a mirror; the bridge keeps working without it.
		if err := s.MQTT.Start(); err != nil {
			log.Error().Err(err).Msg("MQTT unavailable, continuing without it")
			s.MQTT = nil
		}
	}

	s.API.Start(ctx, onFatalError)

	if err := s.Manager.Start(); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()

	var errs []error
	if s.Manager != nil {
		if err := s.Manager.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Animator != nil {
		s.Animator.Close()
	}
	if s.HomeKit != nil {
		s.HomeKit.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.API != nil {
		if err := s.API.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Bus != nil {
		s.Bus.Close(ctx)
	}
	s.Close()
	return errors.Join(errs...)
}

// Close releases resources held since NewServices.
func (s *Services) Close() {
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
		s.DB = nil
	}
}
