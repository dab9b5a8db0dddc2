package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/config"
	"github.com/dokzlo13/ledbridge/internal/eventbus"
	"github.com/dokzlo13/ledbridge/internal/ledger"
)

// LedgerService records lifecycle events and enforces retention.
type LedgerService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(cfg *config.Config, l *ledger.Ledger) *LedgerService {
	return &LedgerService{cfg: cfg, ledger: l}
}

var ledgerTypes = map[eventbus.EventType]ledger.EventType{
	eventbus.EventFixtureDiscovered:    ledger.EventDiscovered,
	eventbus.EventFixtureConnecting:    ledger.EventConnecting,
	eventbus.EventFixtureConnected:     ledger.EventConnected,
	eventbus.EventFixtureConnectFailed: ledger.EventConnectFailed,
	eventbus.EventFixtureDisconnected:  ledger.EventDisconnected,
}

// Record appends a lifecycle event to the ledger.
func (s *LedgerService) Record(e eventbus.Event) {
	et, ok := ledgerTypes[e.Type]
	if !ok {
		return
	}

	entry := ledger.Entry{
		EventType: et,
		Timestamp: e.Time,
		Fixture:   e.Fixture,
		Address:   e.Address,
		Family:    e.Family,
		AttemptID: e.AttemptID,
	}
	if e.Err != nil || e.Name != "" {
		entry.Payload = map[string]any{}
		if e.Err != nil {
			entry.Payload["error"] = e.Err.Error()
		}
		if e.Name != "" {
			entry.Payload["name"] = e.Name
		}
	}

	if err := s.ledger.Append(entry); err != nil {
		log.Error().Err(err).Str("fixture", e.Fixture).Str("event_type", string(et)).Msg("Failed to append ledger entry")
	}
}

// Start launches the retention loop.
func (s *LedgerService) Start(ctx context.Context) {
	go s.runCleanup(ctx)
}

func (s *LedgerService) runCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.Retention()
	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
