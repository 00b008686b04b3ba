// Package command contains the admin-facing write operations: token grants,
// score table publishing, learning record imports, and student enrollment.
// Every handler checks the acting user's role before touching state.
package command

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/pkg/logger"
)

// ErrForbidden is returned when the acting user's role does not allow the
// operation.
var ErrForbidden = shared.NewDomainError("command", "Authorize", shared.ErrInvalidInput, "operation requires a teacher or admin role")

// requireAdminister loads the actor and checks the admin surface role.
func requireAdminister(ctx context.Context, students student.Repository, actorID shared.StudentID) (*student.Student, error) {
	actor, err := students.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanAdminister() {
		return nil, ErrForbidden
	}
	return actor, nil
}

// GrantTokens credits a student's ledger on behalf of a teacher or admin.
type GrantTokens struct {
	students student.Repository
	tokens   ledger.Repository
	events   shared.EventPublisher
	log      *logger.Logger
}

// NewGrantTokens creates the handler.
func NewGrantTokens(students student.Repository, tokens ledger.Repository, events shared.EventPublisher, log *logger.Logger) *GrantTokens {
	if log == nil {
		log = logger.Default()
	}
	if events == nil {
		events = shared.NoopPublisher{}
	}
	return &GrantTokens{
		students: students,
		tokens:   tokens,
		events:   events,
		log:      log.With(logger.Component("command")),
	}
}

// Execute grants tokens to the target student. The note lands on the ledger
// entry so the history shows who-knows-why, not just a bare credit.
func (h *GrantTokens) Execute(ctx context.Context, actorID, studentID shared.StudentID, amount shared.Tokens, note string) error {
	actor, err := requireAdminister(ctx, h.students, actorID)
	if err != nil {
		return err
	}
	target, err := h.students.GetByID(ctx, studentID)
	if err != nil {
		return err
	}
	if err := h.tokens.Grant(ctx, target.ID, amount, note); err != nil {
		return err
	}

	event := shared.NewGenericEvent(shared.EventTokensGranted, target.ID.String(), map[string]interface{}{
		"student_id": target.ID.String(),
		"amount":     int(amount),
		"granted_by": actor.ID.String(),
		"note":       note,
	})
	if err := h.events.Publish(event); err != nil {
		h.log.Debug("event publish failed", logger.Err(err))
	}

	h.log.Info("tokens granted",
		logger.StudentID(target.ID.String()),
		logger.TokenAmount(int(amount)),
		logger.String("granted_by", actor.ID.String()),
	)
	return nil
}
