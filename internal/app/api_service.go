package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/api"
	"github.com/dokzlo13/ledbridge/internal/config"
	"github.com/dokzlo13/ledbridge/internal/ledger"
	"github.com/dokzlo13/ledbridge/internal/manager"
)

// APIService serves the status HTTP API.
type APIService struct {
	cfg    *config.Config
	server *http.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, m *manager.Manager, l *ledger.Ledger) *APIService {
	return &APIService{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.API.Addr(),
			Handler:           api.NewRouter(m, l),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start begins serving if enabled. A listen failure is fatal.
func (s *APIService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.API.Enabled {
		return
	}

	log.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			onFatalError(fmt.Errorf("api server: %w", err))
		}
	}()
}

// Shutdown stops the server.
func (s *APIService) Shutdown(ctx context.Context) error {
	if !s.cfg.API.Enabled {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
