// Package postgres implements the PostgreSQL persistence layer for Card Forge.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UnitRepository implements learning.UnitRepository for PostgreSQL.
type UnitRepository struct {
	conn *Connection
}

// NewUnitRepository creates a new UnitRepository.
func NewUnitRepository(conn *Connection) *UnitRepository {
	return &UnitRepository{conn: conn}
}

// List returns all units ordered by sort order.
func (r *UnitRepository) List(ctx context.Context) ([]learning.Unit, error) {
	query := `
		SELECT code, name, ordinal, week_start, week_end, slots, sort_order
		FROM units
		ORDER BY sort_order
	`
	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []learning.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// GetByCode returns a unit by code.
func (r *UnitRepository) GetByCode(ctx context.Context, code shared.UnitCode) (learning.Unit, error) {
	query := `
		SELECT code, name, ordinal, week_start, week_end, slots, sort_order
		FROM units
		WHERE code = $1
	`
	u, err := scanUnit(r.conn.QueryRow(ctx, query, code.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return learning.Unit{}, shared.ErrUnknownUnit
		}
		return learning.Unit{}, err
	}
	return u, nil
}

// SeedDefaults inserts the built-in unit catalogue if the table is empty.
// Called once at startup; a concurrent second instance loses the insert race
// harmlessly because codes are primary keys.
func (r *UnitRepository) SeedDefaults(ctx context.Context) error {
	for _, u := range learning.DefaultUnits() {
		slotsJSON, err := json.Marshal(u.Slots)
		if err != nil {
			return fmt.Errorf("failed to marshal unit slots: %w", err)
		}
		query := `
			INSERT INTO units (code, name, ordinal, week_start, week_end, slots, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (code) DO NOTHING
		`
		_, err = r.conn.Exec(ctx, query,
			u.Code.String(), u.Name, u.Ordinal, u.WeekStart, u.WeekEnd, slotsJSON, u.SortOrder)
		if err != nil {
			return fmt.Errorf("failed to seed unit %s: %w", u.Code, err)
		}
	}
	return nil
}

func scanUnit(row pgx.Row) (learning.Unit, error) {
	var u learning.Unit
	var code string
	var slotsJSON []byte
	err := row.Scan(&code, &u.Name, &u.Ordinal, &u.WeekStart, &u.WeekEnd, &slotsJSON, &u.SortOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return learning.Unit{}, pgx.ErrNoRows
		}
		return learning.Unit{}, fmt.Errorf("failed to scan unit: %w", err)
	}
	u.Code = shared.UnitCode(code)
	if err := json.Unmarshal(slotsJSON, &u.Slots); err != nil {
		return learning.Unit{}, fmt.Errorf("failed to unmarshal unit slots: %w", err)
	}
	return u, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RecordRepository implements learning.RecordRepository for PostgreSQL.
type RecordRepository struct {
	conn *Connection
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(conn *Connection) *RecordRepository {
	return &RecordRepository{conn: conn}
}

// Append stores a new record. Rows are never updated in place.
func (r *RecordRepository) Append(ctx context.Context, rec learning.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO learning_records (id, student_id, unit_code, score, homework, completion, recorded_at, imported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.conn.Exec(ctx, query,
		rec.ID, rec.StudentID.String(), rec.UnitCode.String(),
		float64(rec.Score), float64(rec.Homework), float64(rec.Completion),
		rec.RecordedAt, rec.ImportedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrUnknownUnit
		}
		return fmt.Errorf("failed to append learning record: %w", err)
	}
	return nil
}

const recordColumns = `id, student_id, unit_code, score, homework, completion, recorded_at, imported_at`

// ListByStudent returns all records for a student.
func (r *RecordRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]learning.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM learning_records
		WHERE student_id = $1
		ORDER BY recorded_at, imported_at
	`
	rows, err := r.conn.Query(ctx, query, studentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list learning records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// LatestPerUnit returns the most recent record for each graded unit.
// DISTINCT ON picks the newest row per unit in one pass.
func (r *RecordRepository) LatestPerUnit(ctx context.Context, studentID shared.StudentID) (map[shared.UnitCode]learning.Record, error) {
	query := `
		SELECT DISTINCT ON (unit_code) ` + recordColumns + `
		FROM learning_records
		WHERE student_id = $1
		ORDER BY unit_code, recorded_at DESC, imported_at DESC
	`
	rows, err := r.conn.Query(ctx, query, studentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query latest records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	latest := make(map[shared.UnitCode]learning.Record, len(records))
	for _, rec := range records {
		latest[rec.UnitCode] = rec
	}
	return latest, nil
}

func scanRecords(rows pgx.Rows) ([]learning.Record, error) {
	var records []learning.Record
	for rows.Next() {
		var rec learning.Record
		var studentID, unitCode string
		var score, homework, completion float64
		err := rows.Scan(&rec.ID, &studentID, &unitCode, &score, &homework, &completion,
			&rec.RecordedAt, &rec.ImportedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan learning record: %w", err)
		}
		rec.StudentID = shared.StudentID(studentID)
		rec.UnitCode = shared.UnitCode(unitCode)
		rec.Score = shared.Score(score)
		rec.Homework = shared.Score(homework)
		rec.Completion = shared.Score(completion)
		records = append(records, rec)
	}
	return records, rows.Err()
}
