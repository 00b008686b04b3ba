package card

import (
	"context"
	"time"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// Repository persists cards. Implementations must make UpdateState a
// conditional write on the expected current state so concurrent transitions
// (orchestrator vs. sweep, late poll results) cannot both win.
type Repository interface {
	// Create stores a new card in the requested state. When the one-card-in-
	// flight policy is enabled, fails with shared.ErrCardInFlight if the
	// student already has a non-terminal card.
	Create(ctx context.Context, c *Card) error

	// GetByID returns a card, or shared.ErrCardNotFound.
	GetByID(ctx context.Context, id string) (*Card, error)

	// UpdateState persists the card's current mutable fields, guarded by the
	// expected previous state. Returns shared.ErrCardStateConflict when the
	// stored state no longer matches.
	UpdateState(ctx context.Context, c *Card, expected State) error

	// ListByStudent returns a student's cards, newest first.
	ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*Card, error)

	// ListInFlight returns all non-terminal cards last touched before the
	// cutoff. The sweep re-discovers crashed work through this alone; no
	// orchestrator state lives only in memory.
	ListInFlight(ctx context.Context, cutoff time.Time) ([]*Card, error)

	// LatestCompletedPerStudent returns each student's latest completed card
	// (the hall of heroes read).
	LatestCompletedPerStudent(ctx context.Context) ([]*Card, error)

	// ClearLatest unsets the is_latest flag on the student's earlier cards.
	ClearLatest(ctx context.Context, studentID shared.StudentID, exceptCardID string) error
}
