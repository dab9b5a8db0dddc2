package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/config"
)

// App runs the bridge: discovery, the fixture lights and the surfaces exposing them.
type App struct {
	cfg      *config.Config
	services *Services

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

// New wires every service without starting any of them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start brings the services up. Cancelling ctx, or a fatal service error, ends Wait.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}
	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		return err
	}

	log.Info().
		Bool("homekit", a.cfg.HomeKit.Enabled).
		Bool("mqtt", a.cfg.MQTT.Enabled).
		Bool("api", a.cfg.API.Enabled).
		Msg("ledbridge started")
	return nil
}

// Stop disconnects fixtures and closes every service. Later calls return the first result.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		log.Info().Msg("Shutting down...")
		if a.cancel != nil {
			a.cancel()
		}
		if a.services != nil {
			a.stopErr = a.services.Stop()
		}
	})
	return a.stopErr
}

// Wait blocks until the app context ends.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()
	return ctx
}
