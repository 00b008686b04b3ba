package student

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// Repository defines persistence operations for students.
type Repository interface {
	// Create stores a new student.
	Create(ctx context.Context, s *Student) error

	// GetByID returns a student by ID, or shared.ErrStudentNotFound.
	GetByID(ctx context.Context, id shared.StudentID) (*Student, error)

	// GetByEmail returns a student by email, or shared.ErrStudentNotFound.
	GetByEmail(ctx context.Context, email string) (*Student, error)

	// List returns all students ordered by enrollment date.
	List(ctx context.Context, limit, offset int) ([]*Student, error)

	// Update stores changed mutable fields (nickname, role).
	Update(ctx context.Context, s *Student) error
}
