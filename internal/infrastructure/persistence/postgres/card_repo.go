// Package postgres implements the PostgreSQL persistence layer for Card Forge.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CardRepository implements card.Repository for PostgreSQL. Two invariants
// live at this level: the partial unique index idx_cards_one_in_flight keeps
// a student to one non-terminal card, and every state change is a conditional
// UPDATE on the expected previous state, so racing writers (orchestrator,
// sweep, a late poll) resolve to exactly one winner.
type CardRepository struct {
	conn *Connection
}

// NewCardRepository creates a new CardRepository.
func NewCardRepository(conn *Connection) *CardRepository {
	return &CardRepository{conn: conn}
}

const cardColumns = `id, student_id, table_version, selection, prompt, state, failure_reason,
	reservation_id, job_handle, artifact_url, thumbnail_url, level, border, is_latest,
	created_at, submitted_at, finalized_at, updated_at`

// Create stores a new card in the requested state.
func (r *CardRepository) Create(ctx context.Context, c *card.Card) error {
	selectionJSON, err := json.Marshal(c.Selection)
	if err != nil {
		return fmt.Errorf("failed to marshal selection: %w", err)
	}
	query := `
		INSERT INTO cards (` + cardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = r.conn.Exec(ctx, query,
		c.ID, c.StudentID.String(), c.TableVersion.String(), selectionJSON, c.Prompt,
		string(c.State), string(c.FailureReason), nullableID(c.ReservationID),
		c.JobHandle.String(), c.ArtifactURL, c.ThumbnailURL, c.Level, string(c.Border),
		c.IsLatest, c.CreatedAt, c.SubmittedAt, c.FinalizedAt, c.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrCardInFlight
		}
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

// GetByID returns a card.
func (r *CardRepository) GetByID(ctx context.Context, id string) (*card.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`
	c, err := scanCard(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrCardNotFound
		}
		return nil, err
	}
	return c, nil
}

// UpdateState persists mutable fields, guarded by the expected previous
// state. Zero rows affected means another writer got there first.
func (r *CardRepository) UpdateState(ctx context.Context, c *card.Card, expected card.State) error {
	query := `
		UPDATE cards
		SET state = $3, failure_reason = $4, reservation_id = $5, job_handle = $6,
		    artifact_url = $7, thumbnail_url = $8, is_latest = $9,
		    submitted_at = $10, finalized_at = $11, updated_at = $12
		WHERE id = $1 AND state = $2
	`
	tag, err := r.conn.Exec(ctx, query,
		c.ID, string(expected),
		string(c.State), string(c.FailureReason), nullableID(c.ReservationID),
		c.JobHandle.String(), c.ArtifactURL, c.ThumbnailURL, c.IsLatest,
		c.SubmittedAt, c.FinalizedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update card state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, c.ID); getErr != nil {
			return getErr
		}
		return shared.ErrCardStateConflict
	}
	return nil
}

// ListByStudent returns a student's cards, newest first.
func (r *CardRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*card.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE student_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.conn.Query(ctx, query, studentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// ListInFlight returns non-terminal cards last touched before the cutoff.
func (r *CardRepository) ListInFlight(ctx context.Context, cutoff time.Time) ([]*card.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE state NOT IN ('completed', 'failed') AND updated_at < $1
		ORDER BY updated_at
	`
	rows, err := r.conn.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// LatestCompletedPerStudent returns each student's latest completed card.
func (r *CardRepository) LatestCompletedPerStudent(ctx context.Context) ([]*card.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE is_latest AND state = 'completed'
		ORDER BY finalized_at DESC
	`
	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// ClearLatest unsets is_latest on the student's earlier cards.
func (r *CardRepository) ClearLatest(ctx context.Context, studentID shared.StudentID, exceptCardID string) error {
	query := `
		UPDATE cards
		SET is_latest = FALSE
		WHERE student_id = $1 AND id != $2 AND is_latest
	`
	if _, err := r.conn.Exec(ctx, query, studentID.String(), exceptCardID); err != nil {
		return fmt.Errorf("failed to clear latest flag: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanCard(row pgx.Row) (*card.Card, error) {
	var c card.Card
	var studentID, tableVersion, state, failureReason, jobHandle, border string
	var selectionJSON []byte
	var reservationID *string
	err := row.Scan(&c.ID, &studentID, &tableVersion, &selectionJSON, &c.Prompt,
		&state, &failureReason, &reservationID, &jobHandle, &c.ArtifactURL, &c.ThumbnailURL,
		&c.Level, &border, &c.IsLatest, &c.CreatedAt, &c.SubmittedAt, &c.FinalizedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan card: %w", err)
	}
	if err := json.Unmarshal(selectionJSON, &c.Selection); err != nil {
		return nil, fmt.Errorf("failed to unmarshal selection: %w", err)
	}
	c.StudentID = shared.StudentID(studentID)
	c.TableVersion = shared.TableVersion(tableVersion)
	c.State = card.State(state)
	c.FailureReason = card.FailureReason(failureReason)
	c.JobHandle = shared.JobHandle(jobHandle)
	c.Border = card.BorderStyle(border)
	if reservationID != nil {
		c.ReservationID = *reservationID
	}
	return &c, nil
}

func scanCards(rows pgx.Rows) ([]*card.Card, error) {
	var cards []*card.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// nullableID maps an empty string to NULL for UUID columns.
func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
