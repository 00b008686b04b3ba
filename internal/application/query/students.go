package query

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
)

// ErrRosterForbidden is returned when a plain student requests the roster.
var ErrRosterForbidden = shared.NewDomainError("query", "ListStudents", shared.ErrInvalidInput, "roster listing requires a teacher or admin role")

// Students serves the teacher/admin roster listing.
type Students struct {
	students student.Repository
}

// NewStudents creates the query service.
func NewStudents(students student.Repository) *Students {
	return &Students{students: students}
}

// ListFor returns a roster page for the acting teacher or admin.
func (q *Students) ListFor(ctx context.Context, actorID shared.StudentID, limit, offset int) ([]*student.Student, error) {
	actor, err := q.students.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanAdminister() {
		return nil, ErrRosterForbidden
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return q.students.List(ctx, limit, offset)
}
