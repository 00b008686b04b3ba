// Package postgres implements the PostgreSQL persistence layer for Card Forge.
package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements ledger.Repository for PostgreSQL.
//
// Two database mechanisms carry the money-like guarantees:
//
//   - Reserve takes a per-student transaction-scoped advisory lock, making
//     the balance check and the debit append one serialized unit. Two
//     concurrent reserves for the same student queue up; the second sees the
//     first's debit.
//   - Commit and Release are conditional UPDATEs on state = 'open'. Whichever
//     lands second affects zero rows and reports the reservation as already
//     settled, so a reservation reaches exactly one terminal outcome.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// advisoryKey derives the per-student advisory lock key. FNV-1a over the
// student id; collisions merely over-serialize, never under-serialize.
func advisoryKey(studentID shared.StudentID) int64 {
	h := fnv.New64a()
	h.Write([]byte("ledger:"))
	h.Write([]byte(studentID))
	return int64(h.Sum64())
}

// Grant appends an administrative credit.
func (r *LedgerRepository) Grant(ctx context.Context, studentID shared.StudentID, amount shared.Tokens, note string) error {
	if amount <= 0 {
		return shared.ErrInvalidGrant
	}
	query := `
		INSERT INTO token_transactions (id, student_id, delta, reason, note, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	_, err := r.conn.Exec(ctx, query,
		uuid.NewString(), studentID.String(), int(amount), string(ledger.ReasonGrant), note)
	if err != nil {
		return fmt.Errorf("failed to append grant: %w", err)
	}
	return nil
}

// Reserve atomically checks the balance and appends the reserve debit.
func (r *LedgerRepository) Reserve(ctx context.Context, studentID shared.StudentID, cost shared.Tokens, cardID string) (*ledger.Reservation, error) {
	if cost <= 0 {
		return nil, shared.ErrInvalidReservationCost
	}

	res := &ledger.Reservation{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Cost:      cost,
		State:     ledger.ReservationOpen,
		CardID:    cardID,
		CreatedAt: time.Now().UTC(),
	}

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		// Serialize all reserves for this student. The lock is released at
		// commit/rollback, which is exactly the window the balance check
		// needs to stay true for.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(studentID)); err != nil {
			return fmt.Errorf("failed to take ledger lock: %w", err)
		}

		var balance int
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(delta), 0) FROM token_transactions WHERE student_id = $1`,
			studentID.String(),
		).Scan(&balance)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		if shared.Tokens(balance) < cost {
			return shared.ErrNoTokens
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO reservations (id, student_id, cost, state, card_id, created_at)
			VALUES ($1, $2, $3, 'open', $4, $5)
		`, res.ID, studentID.String(), int(cost), cardID, res.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO token_transactions (id, student_id, delta, reason, reservation_id, card_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, uuid.NewString(), studentID.String(), -int(cost), string(ledger.ReasonReserve), res.ID, cardID)
		if err != nil {
			return fmt.Errorf("failed to append reserve debit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Commit marks the reservation consumed. Zero-delta marker entry only; the
// debit already happened at reserve time.
func (r *LedgerRepository) Commit(ctx context.Context, reservationID string) error {
	return r.settle(ctx, reservationID, ledger.ReservationCommitted, ledger.ReasonCommit, false)
}

// Release refunds the reservation's cost and marks it settled.
func (r *LedgerRepository) Release(ctx context.Context, reservationID string) error {
	return r.settle(ctx, reservationID, ledger.ReservationReleased, ledger.ReasonRelease, true)
}

// settle closes a reservation. The conditional UPDATE on state = 'open' is
// the whole exactly-once story: losers affect zero rows.
func (r *LedgerRepository) settle(ctx context.Context, reservationID string, to ledger.ReservationState, reason ledger.Reason, refund bool) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var studentID string
		var cost int
		var cardID string
		err := tx.QueryRow(ctx, `
			UPDATE reservations
			SET state = $2, settled_at = NOW()
			WHERE id = $1 AND state = 'open'
			RETURNING student_id, cost, card_id
		`, reservationID, string(to)).Scan(&studentID, &cost, &cardID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return r.classifySettleMiss(ctx, tx, reservationID)
			}
			return fmt.Errorf("failed to settle reservation: %w", err)
		}

		delta := 0
		if refund {
			delta = cost
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO token_transactions (id, student_id, delta, reason, reservation_id, card_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, uuid.NewString(), studentID, delta, string(reason), reservationID, cardID)
		if err != nil {
			return fmt.Errorf("failed to append settlement entry: %w", err)
		}
		return nil
	})
}

// classifySettleMiss distinguishes "already settled" from "never existed".
func (r *LedgerRepository) classifySettleMiss(ctx context.Context, tx pgx.Tx, reservationID string) error {
	var state string
	err := tx.QueryRow(ctx,
		`SELECT state FROM reservations WHERE id = $1`, reservationID).Scan(&state)
	if err != nil {
		if err == pgx.ErrNoRows {
			return shared.ErrReservationNotFound
		}
		return fmt.Errorf("failed to inspect reservation: %w", err)
	}
	return shared.ErrReservationTerminal
}

// BalanceOf derives the student's balance from the log.
func (r *LedgerRepository) BalanceOf(ctx context.Context, studentID shared.StudentID) (shared.Tokens, error) {
	var balance int
	err := r.conn.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM token_transactions WHERE student_id = $1`,
		studentID.String(),
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return shared.Tokens(balance), nil
}

// History returns the student's entries, newest first.
func (r *LedgerRepository) History(ctx context.Context, studentID shared.StudentID, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, student_id, delta, reason, reservation_id, card_id, note, created_at
		FROM token_transactions
		WHERE student_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.conn.Query(ctx, query, studentID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger history: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Transaction
	for rows.Next() {
		var e ledger.Transaction
		var studentID, reason string
		var delta int
		var reservationID, cardID *string
		err := rows.Scan(&e.ID, &studentID, &delta, &reason, &reservationID, &cardID, &e.Note, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.StudentID = shared.StudentID(studentID)
		e.Delta = shared.Tokens(delta)
		e.Reason = ledger.Reason(reason)
		if reservationID != nil {
			e.ReservationID = *reservationID
		}
		if cardID != nil {
			e.CardID = *cardID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OpenReservationsBefore returns reservations still open past the cutoff.
func (r *LedgerRepository) OpenReservationsBefore(ctx context.Context, cutoff time.Time) ([]ledger.Reservation, error) {
	query := `
		SELECT id, student_id, cost, state, card_id, created_at, settled_at
		FROM reservations
		WHERE state = 'open' AND created_at < $1
		ORDER BY created_at
	`
	rows, err := r.conn.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query open reservations: %w", err)
	}
	defer rows.Close()

	var reservations []ledger.Reservation
	for rows.Next() {
		var res ledger.Reservation
		var studentID, state string
		var cost int
		err := rows.Scan(&res.ID, &studentID, &cost, &state, &res.CardID, &res.CreatedAt, &res.SettledAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		res.StudentID = shared.StudentID(studentID)
		res.Cost = shared.Tokens(cost)
		res.State = ledger.ReservationState(state)
		reservations = append(reservations, res)
	}
	return reservations, rows.Err()
}
