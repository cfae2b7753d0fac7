package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/tradewarden/internal/types"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically finds claims stuck in SUBMITTING past the stale age
// and drives each through the reconciler. One claim failing never aborts
// the batch.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	staleAge time.Duration
}

func NewSweeper(engine *Engine, interval, staleAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if staleAge <= 0 {
		staleAge = engine.cfg.SubmitTTL
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		staleAge: staleAge,
	}
}

// Start begins the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "stale_submission_sweeper").Logger()
	logger.Info().
		Dur("interval", s.interval).
		Dur("stale_age", s.staleAge).
		Msg("starting sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down sweeper")
			return
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("sweep pass failed")
				continue
			}
			if report.Checked > 0 {
				logger.Info().
					Int("checked", report.Checked).
					Int("reconciled", report.Reconciled).
					Int("failed", report.Failed).
					Msg("sweep pass complete")
			}
		}
	}
}

// Sweep runs one pass over stale submissions.
func (s *Sweeper) Sweep(ctx context.Context) (*types.SweepReport, error) {
	report := &types.SweepReport{StartedAt: time.Now()}

	cutoff := time.Now().Add(-s.staleAge)
	claims, err := s.engine.DB().ListStaleSubmitting(cutoff)
	if err != nil {
		return nil, err
	}

	for i := range claims {
		claim := &claims[i]
		report.Checked++

		result, err := s.engine.ReconcileByClientOrderID(ctx, claim.ExecutionID, claim.UserID)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", claim.ExecutionID, err))
			continue
		}

		switch result.Code {
		case types.ResultFoundOnExchange, types.ResultAlreadyHasOrderID:
			report.Reconciled++
		case types.ResultNotFoundOnExchange, types.ResultEscalated, types.ResultError:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", claim.ExecutionID, result.Code))
		}
	}

	return report, nil
}
