package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// SystemUser attributes matches made by the background processor.
const SystemUser = "system"

// Processor periodically runs auto-reconciliation in the background so
// imported records get paired without waiting for a manual trigger.
type Processor struct {
	engine   *Engine
	interval time.Duration
}

func NewProcessor(engine *Engine, interval time.Duration) *Processor {
	return &Processor{
		engine:   engine,
		interval: interval,
	}
}

// Start begins the reconciliation loop and blocks until ctx is done.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "reconciliation_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting reconciliation processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down reconciliation processor")
			return
		case <-ticker.C:
			result, err := p.engine.AutoReconcile(ctx, SystemUser)
			if err != nil {
				if errors.Is(err, ErrReconcileInProgress) {
					logger.Debug().Msg("skipping pass, reconciliation already running")
					continue
				}
				logger.Error().Err(err).Msg("background reconciliation pass failed")
				continue
			}
			logger.Info().
				Int("processed", result.Processed).
				Int("matched", result.Matched).
				Int("failed", result.Failed).
				Msg("background reconciliation pass completed")
		}
	}
}
