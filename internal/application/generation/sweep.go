package generation

import (
	"context"
	"errors"

	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/pkg/logger"
)

// SweepStats summarizes one watchdog pass.
type SweepStats struct {
	Scanned       int
	Resumed       int
	TimedOut      int
	OrphanCommits int
	OrphanRefunds int
	Errors        int
}

// SweepStale is the crash watchdog. It re-discovers in-flight cards whose
// last transition is older than the stale cutoff and drives each to a
// terminal state, then settles any open reservation whose card already
// reached one. After a pass, every stale card is terminal and every stale
// reservation is settled.
func (o *Orchestrator) SweepStale(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	cutoff := o.now().Add(-o.cfg.StaleAfter)

	stale, err := o.cards.ListInFlight(ctx, cutoff)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(stale)

	for _, c := range stale {
		if err := o.resumeStale(ctx, c, &stats); err != nil {
			stats.Errors++
			o.log.Error("sweep could not resolve card",
				logger.CardID(c.ID), logger.CardState(string(c.State)), logger.Err(err))
		}
	}

	orphans, err := o.tokens.OpenReservationsBefore(ctx, cutoff)
	if err != nil {
		return stats, err
	}
	for _, res := range orphans {
		c, err := o.cards.GetByID(ctx, res.CardID)
		if err != nil {
			stats.Errors++
			o.log.Error("sweep found reservation with unknown card",
				logger.ReservationID(res.ID), logger.Err(err))
			continue
		}
		if !c.State.Terminal() {
			// Still owned by a live (or just-resumed) lifecycle.
			continue
		}
		// A crash between the card's terminal write and the settlement left
		// this reservation open. The card already records the verdict, so
		// the settlement follows it: a completed card keeps the spend, a
		// failed card gets it back. Both paths are first-writer-wins.
		if c.State == card.StateCompleted {
			if err := o.tokens.Commit(ctx, res.ID); err != nil {
				if errors.Is(err, shared.ErrAlreadyProcessed) {
					continue
				}
				stats.Errors++
				o.log.Error("sweep commit failed", logger.ReservationID(res.ID), logger.Err(err))
				continue
			}
			stats.OrphanCommits++
			o.log.Info("sweep committed orphaned reservation",
				logger.ReservationID(res.ID), logger.CardID(c.ID))
			continue
		}
		if err := o.tokens.Release(ctx, res.ID); err != nil {
			if errors.Is(err, shared.ErrAlreadyProcessed) {
				continue
			}
			stats.Errors++
			o.log.Error("sweep release failed", logger.ReservationID(res.ID), logger.Err(err))
			continue
		}
		stats.OrphanRefunds++
		o.log.Info("sweep released orphaned reservation",
			logger.ReservationID(res.ID), logger.CardID(c.ID))
	}

	event := shared.NewGenericEvent(shared.EventSweepCompleted, "sweep", map[string]interface{}{
		"scanned":        stats.Scanned,
		"resumed":        stats.Resumed,
		"timed_out":      stats.TimedOut,
		"orphan_commits": stats.OrphanCommits,
		"orphan_refunds": stats.OrphanRefunds,
		"errors":         stats.Errors,
	})
	if err := o.events.Publish(event); err != nil {
		o.log.Debug("event publish failed", logger.Err(err))
	}
	return stats, nil
}

// resumeStale decides between resuming a pollable card and forcing a timeout
// failure. Anything past the wait budget, or without a job handle to poll,
// fails with a refund; the rest rejoin the normal Drive path.
func (o *Orchestrator) resumeStale(ctx context.Context, c *card.Card, stats *SweepStats) error {
	expired := c.SubmittedAt != nil && o.now().After(c.SubmittedAt.Add(o.cfg.MaxWait))

	switch {
	case c.State == card.StateReserved, c.JobHandle.IsZero(), expired:
		stats.TimedOut++
		return o.failCard(ctx, c, c.State, card.FailureTimeout)
	default:
		stats.Resumed++
		return o.Drive(ctx, c)
	}
}
