package learning

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// UnitRepository provides read access to the unit catalogue.
type UnitRepository interface {
	// List returns all units ordered by sort order.
	List(ctx context.Context) ([]Unit, error)

	// GetByCode returns a unit, or shared.ErrUnknownUnit.
	GetByCode(ctx context.Context, code shared.UnitCode) (Unit, error)
}

// RecordRepository provides append-only access to learning records.
type RecordRepository interface {
	// Append stores a new record. Records are never updated in place.
	Append(ctx context.Context, r Record) error

	// ListByStudent returns all records for a student.
	ListByStudent(ctx context.Context, studentID shared.StudentID) ([]Record, error)

	// LatestPerUnit returns the most recent record for each unit the student
	// has a grade for. Units without records are simply absent.
	LatestPerUnit(ctx context.Context, studentID shared.StudentID) (map[shared.UnitCode]Record, error)
}
