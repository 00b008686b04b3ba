package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/pkg/logger"
)

// RecordImport is one grade row handed in by the teacher's import.
type RecordImport struct {
	StudentID  shared.StudentID
	UnitCode   shared.UnitCode
	Score      shared.Score
	Homework   shared.Score
	Completion shared.Score
	RecordedAt time.Time
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Imported int
	Rejected []RejectedRecord
}

// RejectedRecord pairs a failed row with why it failed.
type RejectedRecord struct {
	Index  int
	Reason string
}

// ImportRecords appends graded learning records. Rows are validated
// individually: a bad row is reported and skipped, it never aborts the batch.
type ImportRecords struct {
	students student.Repository
	units    learning.UnitRepository
	records  learning.RecordRepository
	events   shared.EventPublisher
	log      *logger.Logger
}

// NewImportRecords creates the handler.
func NewImportRecords(
	students student.Repository,
	units learning.UnitRepository,
	records learning.RecordRepository,
	events shared.EventPublisher,
	log *logger.Logger,
) *ImportRecords {
	if log == nil {
		log = logger.Default()
	}
	if events == nil {
		events = shared.NoopPublisher{}
	}
	return &ImportRecords{
		students: students,
		units:    units,
		records:  records,
		events:   events,
		log:      log.With(logger.Component("command")),
	}
}

// Execute imports a batch of records on behalf of a teacher or admin.
func (h *ImportRecords) Execute(ctx context.Context, actorID shared.StudentID, rows []RecordImport) (ImportResult, error) {
	var result ImportResult

	if _, err := requireAdminister(ctx, h.students, actorID); err != nil {
		return result, err
	}

	now := time.Now().UTC()
	for i, row := range rows {
		rec := learning.Record{
			ID:         uuid.NewString(),
			StudentID:  row.StudentID,
			UnitCode:   row.UnitCode,
			Score:      row.Score,
			Homework:   row.Homework,
			Completion: row.Completion,
			RecordedAt: row.RecordedAt,
			ImportedAt: now,
		}
		if rec.RecordedAt.IsZero() {
			rec.RecordedAt = now
		}
		if err := rec.Validate(); err != nil {
			result.Rejected = append(result.Rejected, RejectedRecord{Index: i, Reason: err.Error()})
			continue
		}
		if err := h.records.Append(ctx, rec); err != nil {
			// Unknown units and similar row-level failures are reported per
			// row; an infrastructure failure aborts the run.
			if shared.IsValidation(err) || shared.IsNotFound(err) {
				result.Rejected = append(result.Rejected, RejectedRecord{Index: i, Reason: err.Error()})
				continue
			}
			return result, err
		}
		result.Imported++

		event := shared.NewGenericEvent(shared.EventRecordImported, rec.StudentID.String(), map[string]interface{}{
			"student_id": rec.StudentID.String(),
			"unit":       rec.UnitCode.String(),
			"score":      float64(rec.Score),
		})
		if err := h.events.Publish(event); err != nil {
			h.log.Debug("event publish failed", logger.Err(err))
		}
	}

	h.log.Info("learning records imported",
		logger.Int("imported", result.Imported),
		logger.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}
