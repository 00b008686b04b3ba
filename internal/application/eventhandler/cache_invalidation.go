// Package eventhandler wires domain events to read-side maintenance. The
// handlers only ever invalidate caches; they never touch the ledger or the
// card state machine, so a dropped event costs freshness, not correctness.
package eventhandler

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/pkg/logger"
)

// BalanceInvalidator drops a student's cached balance. Satisfied by
// redis.BalanceCache.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, studentID shared.StudentID) error
}

// HallInvalidator drops the hall-of-heroes gallery cache. Satisfied by
// redis.HallCache.
type HallInvalidator interface {
	Invalidate(ctx context.Context) error
}

// CacheInvalidation invalidates Redis read caches on ledger and card events.
type CacheInvalidation struct {
	balances BalanceInvalidator
	hall     HallInvalidator
	log      *logger.Logger
}

// NewCacheInvalidation creates the handler. Either cache may be nil.
func NewCacheInvalidation(balances BalanceInvalidator, hall HallInvalidator, log *logger.Logger) *CacheInvalidation {
	if log == nil {
		log = logger.Default()
	}
	return &CacheInvalidation{
		balances: balances,
		hall:     hall,
		log:      log.With(logger.Component("eventhandler")),
	}
}

// EventTypes lists the events this handler subscribes to.
func (h *CacheInvalidation) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventTokensGranted,
		shared.EventTokensReserved,
		shared.EventTokensRefunded,
		shared.EventCardCompleted,
	}
}

// Handle processes one event.
func (h *CacheInvalidation) Handle(ctx context.Context, event shared.Event) error {
	switch event.EventType() {
	case shared.EventTokensGranted, shared.EventTokensReserved, shared.EventTokensRefunded:
		return h.invalidateBalance(ctx, event)
	case shared.EventCardCompleted:
		// A completed card both changes the hall and finalizes a commit
		// marker on the ledger; drop both views.
		if err := h.invalidateBalance(ctx, event); err != nil {
			return err
		}
		if h.hall != nil {
			if err := h.hall.Invalidate(ctx); err != nil {
				h.log.Warn("hall cache invalidation failed", logger.Err(err))
				return err
			}
		}
	}
	return nil
}

func (h *CacheInvalidation) invalidateBalance(ctx context.Context, event shared.Event) error {
	if h.balances == nil {
		return nil
	}
	raw, ok := event.Payload()["student_id"].(string)
	if !ok || raw == "" {
		return nil
	}
	studentID, err := shared.NewStudentID(raw)
	if err != nil {
		return nil
	}
	if err := h.balances.Invalidate(ctx, studentID); err != nil {
		h.log.Warn("balance cache invalidation failed",
			logger.StudentID(studentID.String()), logger.Err(err))
		return err
	}
	return nil
}
