// Package jobs contains the scheduled jobs registered with the scheduler.
package jobs

import (
	"context"
	"log/slog"

	"github.com/cardforge/cardforge/internal/application/generation"
)

// SweepStaleCardsJob resolves generations left in flight by a crash or a
// studio outage: stale cards get failed and refunded, recoverable ones get
// their polling resumed, orphaned reservations get released.
type SweepStaleCardsJob struct {
	orchestrator *generation.Orchestrator
	logger       *slog.Logger
}

// NewSweepStaleCardsJob creates the sweep job.
func NewSweepStaleCardsJob(orchestrator *generation.Orchestrator, logger *slog.Logger) *SweepStaleCardsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepStaleCardsJob{orchestrator: orchestrator, logger: logger}
}

// Name returns the unique job name.
func (j *SweepStaleCardsJob) Name() string {
	return "sweep_stale_cards"
}

// Description returns a human-readable description.
func (j *SweepStaleCardsJob) Description() string {
	return "Fails and refunds stale card generations, resumes recoverable ones"
}

// Run executes one sweep pass.
func (j *SweepStaleCardsJob) Run(ctx context.Context) error {
	stats, err := j.orchestrator.SweepStale(ctx)
	j.logger.Info("sweep pass finished",
		"scanned", stats.Scanned,
		"resumed", stats.Resumed,
		"timed_out", stats.TimedOut,
		"orphan_refunds", stats.OrphanRefunds,
		"errors", stats.Errors,
	)
	return err
}
