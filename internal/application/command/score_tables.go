package command

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/scoretable"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/pkg/logger"
)

// ErrAdminOnly is returned when an operation is restricted to the admin role.
var ErrAdminOnly = shared.NewDomainError("command", "Authorize", shared.ErrInvalidInput, "operation requires the admin role")

// ScoreTables publishes and activates score table versions. Publishing is
// admin-only: a bad table changes every future card, so the bar is higher
// than for grants and imports.
type ScoreTables struct {
	students student.Repository
	tables   scoretable.Repository
	events   shared.EventPublisher
	log      *logger.Logger
}

// NewScoreTables creates the handler.
func NewScoreTables(students student.Repository, tables scoretable.Repository, events shared.EventPublisher, log *logger.Logger) *ScoreTables {
	if log == nil {
		log = logger.Default()
	}
	if events == nil {
		events = shared.NoopPublisher{}
	}
	return &ScoreTables{
		students: students,
		tables:   tables,
		events:   events,
		log:      log.With(logger.Component("command")),
	}
}

func (h *ScoreTables) requireAdmin(ctx context.Context, actorID shared.StudentID) error {
	actor, err := h.students.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != student.RoleAdmin {
		return ErrAdminOnly
	}
	return nil
}

// Publish validates and stores a new table version. The version stays
// inactive until explicitly activated.
func (h *ScoreTables) Publish(ctx context.Context, actorID shared.StudentID, table *scoretable.Table) error {
	if err := h.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := h.tables.Publish(ctx, table); err != nil {
		return err
	}

	event := shared.NewGenericEvent(shared.EventTablePublished, table.Version.String(), map[string]interface{}{
		"version":      table.Version.String(),
		"published_by": actorID.String(),
	})
	if err := h.events.Publish(event); err != nil {
		h.log.Debug("event publish failed", logger.Err(err))
	}

	h.log.Info("score table published", logger.TableVersion(table.Version.String()))
	return nil
}

// Activate flips the active version. In-flight cards keep the version they
// snapshotted at request time.
func (h *ScoreTables) Activate(ctx context.Context, actorID shared.StudentID, version shared.TableVersion) error {
	if err := h.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := h.tables.Activate(ctx, version); err != nil {
		return err
	}

	event := shared.NewGenericEvent(shared.EventTableActivated, version.String(), map[string]interface{}{
		"version":      version.String(),
		"activated_by": actorID.String(),
	})
	if err := h.events.Publish(event); err != nil {
		h.log.Debug("event publish failed", logger.Err(err))
	}

	h.log.Info("score table activated", logger.TableVersion(version.String()))
	return nil
}
