package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/pkg/timeutil"
)

// GrantWeeklyTokensJob credits every enrolled student their weekly token
// allowance. The grant note carries the week-start date; a student who was
// already credited for the current week is skipped, so re-running the job
// after a restart never double-grants.
type GrantWeeklyTokensJob struct {
	students student.Repository
	tokens   ledger.Repository
	amount   shared.Tokens
	logger   *slog.Logger
}

// NewGrantWeeklyTokensJob creates the weekly grant job.
func NewGrantWeeklyTokensJob(students student.Repository, tokens ledger.Repository, amount shared.Tokens, logger *slog.Logger) *GrantWeeklyTokensJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantWeeklyTokensJob{
		students: students,
		tokens:   tokens,
		amount:   amount,
		logger:   logger,
	}
}

// Name returns the unique job name.
func (j *GrantWeeklyTokensJob) Name() string {
	return "grant_weekly_tokens"
}

// Description returns a human-readable description.
func (j *GrantWeeklyTokensJob) Description() string {
	return "Credits every student the weekly token allowance"
}

// Run grants the allowance to all students, paging through the roster.
func (j *GrantWeeklyTokensJob) Run(ctx context.Context) error {
	note := fmt.Sprintf("weekly allowance %s", timeutil.StartOfWeek(timeutil.Now()).Format("2006-01-02"))

	const pageSize = 200
	granted, skipped := 0, 0
	for offset := 0; ; offset += pageSize {
		page, err := j.students.List(ctx, pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list students: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, s := range page {
			already, err := j.alreadyGranted(ctx, s.ID, note)
			if err != nil {
				return err
			}
			if already {
				skipped++
				continue
			}
			if err := j.tokens.Grant(ctx, s.ID, j.amount, note); err != nil {
				return fmt.Errorf("failed to grant allowance to %s: %w", s.ID, err)
			}
			granted++
		}

		if len(page) < pageSize {
			break
		}
	}

	j.logger.Info("weekly allowance granted",
		"granted", granted,
		"skipped", skipped,
		"amount", int(j.amount),
	)
	return nil
}

// alreadyGranted checks the student's recent ledger entries for this week's
// grant note. One allowance per week at most fits in any reasonable window.
func (j *GrantWeeklyTokensJob) alreadyGranted(ctx context.Context, studentID shared.StudentID, note string) (bool, error) {
	entries, err := j.tokens.History(ctx, studentID, 50)
	if err != nil {
		return false, fmt.Errorf("failed to read ledger history for %s: %w", studentID, err)
	}
	for _, e := range entries {
		if e.Reason == ledger.ReasonGrant && e.Note == note {
			return true, nil
		}
	}
	return false, nil
}
