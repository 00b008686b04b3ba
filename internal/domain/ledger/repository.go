package ledger

import (
	"context"
	"time"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// Repository is the token ledger. Implementations must serialize Reserve
// against all other balance-affecting writes for the same student (the
// read-check-append must be one transactional unit), and must guarantee that
// Commit and Release each win at most once per reservation.
type Repository interface {
	// Grant appends an administrative credit. Amount must be positive.
	Grant(ctx context.Context, studentID shared.StudentID, amount shared.Tokens, note string) error

	// Reserve atomically checks balance >= cost and appends a reserve debit.
	// Fails with shared.ErrInsufficientBalance when the balance is short.
	// cardID links the reservation to the card it pays for.
	Reserve(ctx context.Context, studentID shared.StudentID, cost shared.Tokens, cardID string) (*Reservation, error)

	// Commit marks the reservation consumed. No balance change. Fails with
	// shared.ErrReservationTerminal if already settled.
	Commit(ctx context.Context, reservationID string) error

	// Release refunds the reservation's cost and marks it settled. Fails with
	// shared.ErrReservationTerminal if already settled.
	Release(ctx context.Context, reservationID string) error

	// BalanceOf derives the student's balance from the log.
	BalanceOf(ctx context.Context, studentID shared.StudentID) (shared.Tokens, error)

	// History returns the student's entries, newest first.
	History(ctx context.Context, studentID shared.StudentID, limit int) ([]Transaction, error)

	// OpenReservationsBefore returns reservations still open past the cutoff.
	// The sweep resolves these when the orchestrator could not.
	OpenReservationsBefore(ctx context.Context, cutoff time.Time) ([]Reservation, error)
}
