package command

import (
	"context"

	"github.com/google/uuid"

	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/pkg/logger"
)

// EnrollStudent registers a course participant and seeds their starting
// token balance.
type EnrollStudent struct {
	students     student.Repository
	tokens       ledger.Repository
	initialGrant shared.Tokens
	log          *logger.Logger
}

// NewEnrollStudent creates the handler. initialGrant of zero disables seeding.
func NewEnrollStudent(students student.Repository, tokens ledger.Repository, initialGrant shared.Tokens, log *logger.Logger) *EnrollStudent {
	if log == nil {
		log = logger.Default()
	}
	return &EnrollStudent{
		students:     students,
		tokens:       tokens,
		initialGrant: initialGrant,
		log:          log.With(logger.Component("command")),
	}
}

// EnrollInput carries the new student's reference data.
type EnrollInput struct {
	Email    string
	Name     string
	Nickname string
	Number   string
	Role     student.Role
}

// Execute creates the student and, when configured, their starting grant.
func (h *EnrollStudent) Execute(ctx context.Context, actorID shared.StudentID, in EnrollInput) (*student.Student, error) {
	if _, err := requireAdminister(ctx, h.students, actorID); err != nil {
		return nil, err
	}

	id, err := shared.NewStudentID(uuid.NewString())
	if err != nil {
		return nil, err
	}
	s, err := student.New(id, in.Email, in.Name, in.Role)
	if err != nil {
		return nil, err
	}
	s.Nickname = in.Nickname
	s.Number = in.Number

	if err := h.students.Create(ctx, s); err != nil {
		return nil, err
	}
	if h.initialGrant > 0 {
		if err := h.tokens.Grant(ctx, s.ID, h.initialGrant, "enrollment grant"); err != nil {
			// The student row exists; a missing starting grant is repairable
			// through the admin grant endpoint, so report but keep the student.
			h.log.Error("enrollment grant failed", logger.StudentID(s.ID.String()), logger.Err(err))
			return s, err
		}
	}

	h.log.Info("student enrolled",
		logger.StudentID(s.ID.String()),
		logger.String("role", string(s.Role)),
	)
	return s, nil
}
