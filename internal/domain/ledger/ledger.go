// Package ledger contains the token ledger: an append-only transaction log
// per student with a reserve/commit/release discipline for generation
// attempts. The log is the sole source of truth for balances; no cached
// balance may back a reserve decision.
package ledger

import (
	"time"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Reason classifies a ledger entry.
type Reason string

const (
	// ReasonGrant - administrative credit (initial allocation, weekly grant).
	ReasonGrant Reason = "grant"
	// ReasonReserve - provisional debit for a generation attempt.
	ReasonReserve Reason = "reserve"
	// ReasonCommit - zero-delta marker: the reserve debit became final.
	ReasonCommit Reason = "commit"
	// ReasonRelease - refund of a reserve debit.
	ReasonRelease Reason = "release"
)

// IsValid checks whether the reason is one of the known entry kinds.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonGrant, ReasonReserve, ReasonCommit, ReasonRelease:
		return true
	}
	return false
}

// Transaction is one immutable ledger entry. Balance is the running sum of
// deltas; reserve entries are negative, release entries positive, commit
// entries zero (the debit already happened at reserve time).
type Transaction struct {
	ID            string
	StudentID     shared.StudentID
	Delta         shared.Tokens
	Reason        Reason
	ReservationID string // set for reserve/commit/release entries
	CardID        string // related card, when known
	Note          string
	CreatedAt     time.Time
}

// BalanceOf folds a student's entries into a balance. Entries must be in log
// order; the second return reports whether every prefix stayed non-negative,
// which a correctly guarded ledger always satisfies.
func BalanceOf(entries []Transaction) (shared.Tokens, bool) {
	var balance shared.Tokens
	nonNegative := true
	for _, e := range entries {
		balance = balance.Add(e.Delta)
		if balance < 0 {
			nonNegative = false
		}
	}
	return balance, nonNegative
}

// ══════════════════════════════════════════════════════════════════════════════
// RESERVATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ReservationState tracks a reservation toward its single terminal outcome.
type ReservationState string

const (
	// ReservationOpen - debit taken, outcome pending.
	ReservationOpen ReservationState = "open"
	// ReservationCommitted - the attempt succeeded; debit is final.
	ReservationCommitted ReservationState = "committed"
	// ReservationReleased - the attempt failed; debit was refunded.
	ReservationReleased ReservationState = "released"
)

// Terminal reports whether the reservation reached an outcome.
func (s ReservationState) Terminal() bool {
	return s == ReservationCommitted || s == ReservationReleased
}

// Reservation is a provisional token debit pending exactly one terminal
// outcome. The watchdog releases any reservation left open past the sweep
// staleness threshold.
type Reservation struct {
	ID        string
	StudentID shared.StudentID
	Cost      shared.Tokens
	State     ReservationState
	CardID    string
	CreatedAt time.Time
	SettledAt *time.Time
}

// Open reports whether the reservation still awaits its outcome.
func (r Reservation) Open() bool {
	return r.State == ReservationOpen
}
