package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
)

type rosterFake struct {
	students []*student.Student
}

func (f *rosterFake) Create(_ context.Context, s *student.Student) error {
	f.students = append(f.students, s)
	return nil
}

func (f *rosterFake) GetByID(_ context.Context, id shared.StudentID) (*student.Student, error) {
	for _, s := range f.students {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, shared.ErrStudentNotFound
}

func (f *rosterFake) GetByEmail(_ context.Context, email string) (*student.Student, error) {
	for _, s := range f.students {
		if s.Email == email {
			return s, nil
		}
	}
	return nil, shared.ErrStudentNotFound
}

func (f *rosterFake) List(_ context.Context, limit, offset int) ([]*student.Student, error) {
	if offset >= len(f.students) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.students) {
		end = len(f.students)
	}
	return f.students[offset:end], nil
}

func (f *rosterFake) Update(context.Context, *student.Student) error { return nil }

type ledgerFake struct {
	entries []ledger.Transaction
}

func (f *ledgerFake) Grant(_ context.Context, studentID shared.StudentID, amount shared.Tokens, note string) error {
	f.entries = append(f.entries, ledger.Transaction{
		ID:        fmt.Sprintf("tx-%d", len(f.entries)),
		StudentID: studentID,
		Delta:     amount,
		Reason:    ledger.ReasonGrant,
		Note:      note,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *ledgerFake) Reserve(context.Context, shared.StudentID, shared.Tokens, string) (*ledger.Reservation, error) {
	return nil, shared.ErrNoTokens
}

func (f *ledgerFake) Commit(context.Context, string) error  { return nil }
func (f *ledgerFake) Release(context.Context, string) error { return nil }

func (f *ledgerFake) BalanceOf(_ context.Context, studentID shared.StudentID) (shared.Tokens, error) {
	var balance shared.Tokens
	for _, e := range f.entries {
		if e.StudentID == studentID {
			balance = balance.Add(e.Delta)
		}
	}
	return balance, nil
}

func (f *ledgerFake) History(_ context.Context, studentID shared.StudentID, limit int) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, e := range f.entries {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *ledgerFake) OpenReservationsBefore(context.Context, time.Time) ([]ledger.Reservation, error) {
	return nil, nil
}

func enrolled(t *testing.T, roster *rosterFake, id shared.StudentID) {
	t.Helper()
	s, err := student.New(id, string(id)+"@example.com", "Student", student.RoleStudent)
	require.NoError(t, err)
	require.NoError(t, roster.Create(context.Background(), s))
}

func TestWeeklyGrantCreditsEveryStudentOnce(t *testing.T) {
	ctx := context.Background()
	roster, tokens := &rosterFake{}, &ledgerFake{}
	a := shared.StudentID("3b8f0c2e-8a1d-4f5e-9c3a-7d2b6e4a1f09")
	b := shared.StudentID("9d1e5a7c-2b4f-4e8d-a6c3-1f0b8e7d5a2c")
	enrolled(t, roster, a)
	enrolled(t, roster, b)

	job := NewGrantWeeklyTokensJob(roster, tokens, 3, nil)
	require.NoError(t, job.Run(ctx))

	for _, id := range []shared.StudentID{a, b} {
		balance, err := tokens.BalanceOf(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, shared.Tokens(3), balance)
	}

	// A rerun in the same week must be a no-op: the grant note carries the
	// week-start date and the job skips students who already have it.
	require.NoError(t, job.Run(ctx))
	for _, id := range []shared.StudentID{a, b} {
		balance, _ := tokens.BalanceOf(ctx, id)
		assert.Equal(t, shared.Tokens(3), balance, "no double grant within a week")
	}
}

func TestWeeklyGrantPagesThroughLargeRoster(t *testing.T) {
	ctx := context.Background()
	roster, tokens := &rosterFake{}, &ledgerFake{}
	// More students than one page (page size 200).
	for i := 0; i < 450; i++ {
		id := shared.StudentID(fmt.Sprintf("3b8f0c2e-8a1d-4f5e-9c3a-%012d", i))
		enrolled(t, roster, id)
	}

	job := NewGrantWeeklyTokensJob(roster, tokens, 1, nil)
	require.NoError(t, job.Run(ctx))

	assert.Len(t, tokens.entries, 450, "every student on every page is granted")
}

func TestWeeklyGrantSkipsOnlyMatchingNote(t *testing.T) {
	ctx := context.Background()
	roster, tokens := &rosterFake{}, &ledgerFake{}
	a := shared.StudentID("3b8f0c2e-8a1d-4f5e-9c3a-7d2b6e4a1f09")
	enrolled(t, roster, a)

	// An unrelated grant (e.g. enrollment) must not suppress the allowance.
	require.NoError(t, tokens.Grant(ctx, a, 3, "enrollment grant"))

	job := NewGrantWeeklyTokensJob(roster, tokens, 2, nil)
	require.NoError(t, job.Run(ctx))

	balance, err := tokens.BalanceOf(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, shared.Tokens(5), balance)
}
