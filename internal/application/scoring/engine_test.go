package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/scoretable"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeStudents struct {
	byID map[shared.StudentID]*student.Student
}

func (f *fakeStudents) Create(_ context.Context, s *student.Student) error {
	f.byID[s.ID] = s
	return nil
}

func (f *fakeStudents) GetByID(_ context.Context, id shared.StudentID) (*student.Student, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	return s, nil
}

func (f *fakeStudents) GetByEmail(_ context.Context, email string) (*student.Student, error) {
	for _, s := range f.byID {
		if s.Email == email {
			return s, nil
		}
	}
	return nil, shared.ErrStudentNotFound
}

func (f *fakeStudents) List(context.Context, int, int) ([]*student.Student, error) {
	out := make([]*student.Student, 0, len(f.byID))
	for _, s := range f.byID {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStudents) Update(_ context.Context, s *student.Student) error {
	f.byID[s.ID] = s
	return nil
}

type fakeUnits struct{ units []learning.Unit }

func (f *fakeUnits) List(context.Context) ([]learning.Unit, error) { return f.units, nil }

func (f *fakeUnits) GetByCode(_ context.Context, code shared.UnitCode) (learning.Unit, error) {
	u, ok := learning.UnitByCode(f.units, code)
	if !ok {
		return learning.Unit{}, shared.ErrUnknownUnit
	}
	return u, nil
}

type fakeRecords struct {
	latest map[shared.UnitCode]learning.Record
}

func (f *fakeRecords) Append(context.Context, learning.Record) error { return nil }

func (f *fakeRecords) ListByStudent(context.Context, shared.StudentID) ([]learning.Record, error) {
	out := make([]learning.Record, 0, len(f.latest))
	for _, r := range f.latest {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRecords) LatestPerUnit(context.Context, shared.StudentID) (map[shared.UnitCode]learning.Record, error) {
	return f.latest, nil
}

type fakeTables struct {
	byVersion map[shared.TableVersion]*scoretable.Table
	active    shared.TableVersion
}

func (f *fakeTables) Publish(_ context.Context, t *scoretable.Table) error {
	f.byVersion[t.Version] = t
	return nil
}

func (f *fakeTables) Activate(_ context.Context, v shared.TableVersion) error {
	f.active = v
	return nil
}

func (f *fakeTables) GetActive(context.Context) (*scoretable.Table, error) {
	t, ok := f.byVersion[f.active]
	if !ok {
		return nil, shared.ErrNoActiveTable
	}
	return t, nil
}

func (f *fakeTables) GetVersion(_ context.Context, v shared.TableVersion) (*scoretable.Table, error) {
	t, ok := f.byVersion[v]
	if !ok {
		return nil, shared.ErrTableNotFound
	}
	return t, nil
}

func (f *fakeTables) ListVersions(context.Context) ([]shared.TableVersion, error) {
	out := make([]shared.TableVersion, 0, len(f.byVersion))
	for v := range f.byVersion {
		out = append(out, v)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

const testStudent = shared.StudentID("3b8f0c2e-8a1d-4f5e-9c3a-7d2b6e4a1f09")

func record(unit shared.UnitCode, score, homework, completion shared.Score) learning.Record {
	return learning.Record{
		ID:         "rec-" + string(unit),
		StudentID:  testStudent,
		UnitCode:   unit,
		Score:      score,
		Homework:   homework,
		Completion: completion,
		RecordedAt: time.Now(),
		ImportedAt: time.Now(),
	}
}

func testEngine(t *testing.T, latest map[shared.UnitCode]learning.Record) *Engine {
	t.Helper()
	stu, err := student.New(testStudent, "s@example.com", "Test Student", student.RoleStudent)
	require.NoError(t, err)

	table := scoretable.DefaultTable()
	tables := &fakeTables{
		byVersion: map[shared.TableVersion]*scoretable.Table{table.Version: table},
		active:    table.Version,
	}
	return NewEngine(
		&fakeUnits{units: learning.DefaultUnits()},
		&fakeRecords{latest: latest},
		tables,
		&fakeStudents{byID: map[shared.StudentID]*student.Student{testStudent: stu}},
		nil,
	)
}

func tierOf(sel card.Selection, slot learning.Slot) string {
	return sel.Picks[slot].TierLabel
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenarios
// ─────────────────────────────────────────────────────────────────────────────

func TestResolveIsDeterministic(t *testing.T) {
	ctx := context.Background()
	latest := map[shared.UnitCode]learning.Record{
		"unit_1": record("unit_1", 82, 70, 80),
		"unit_2": record("unit_2", 64, 91, 75),
	}
	e := testEngine(t, latest)

	first, err := e.Resolve(ctx, testStudent, "v1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Resolve(ctx, testStudent, "v1")
		require.NoError(t, err)
		assert.Equal(t, first.Picks, again.Picks, "identical inputs must yield identical picks")
		assert.Equal(t, first.Level, again.Level)
	}
}

func TestResolveUngradedStudentGetsLowestBand(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, map[shared.UnitCode]learning.Record{})

	sel, err := e.Resolve(ctx, testStudent, "v1")
	require.NoError(t, err)
	require.NoError(t, sel.Validate(), "an ungraded student still gets a complete selection")

	assert.Equal(t, 1, sel.Level)
	for slot, pick := range sel.Picks {
		assert.Equal(t, scoretable.LabelD, pick.TierLabel, "slot %s", slot)
	}
}

func TestResolveBodySlotScoresHomework(t *testing.T) {
	ctx := context.Background()
	// unit_2 unlocks class and body. A top quiz score with bottom homework
	// must split the two slots across bands.
	latest := map[shared.UnitCode]learning.Record{
		"unit_2": record("unit_2", 95, 5, 50),
	}
	e := testEngine(t, latest)

	sel, err := e.Resolve(ctx, testStudent, "v1")
	require.NoError(t, err)

	assert.Equal(t, scoretable.LabelS, tierOf(sel, learning.SlotClass), "class follows the quiz score")
	assert.Equal(t, scoretable.LabelD, tierOf(sel, learning.SlotBody), "body follows the homework score")
}

func TestResolveLevelFromMeanCompletion(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		latest map[shared.UnitCode]learning.Record
		level  int
	}{
		{"full completion", map[shared.UnitCode]learning.Record{
			"unit_1": record("unit_1", 50, 50, 100),
		}, 10},
		{"mean of two units", map[shared.UnitCode]learning.Record{
			"unit_1": record("unit_1", 50, 50, 50),
			"unit_2": record("unit_2", 50, 50, 60),
		}, 6},
		{"barely started", map[shared.UnitCode]learning.Record{
			"unit_1": record("unit_1", 50, 50, 1),
		}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := testEngine(t, tc.latest).Resolve(ctx, testStudent, "v1")
			require.NoError(t, err)
			assert.Equal(t, tc.level, sel.Level)
		})
	}
}

func TestResolveBorderFromEnrollmentAge(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, map[shared.UnitCode]learning.Record{})

	now := time.Now()
	e.now = func() time.Time { return now.AddDate(0, 0, 7*8) } // ninth course week

	sel, err := e.Resolve(ctx, testStudent, "v1")
	require.NoError(t, err)
	assert.Equal(t, card.BorderSilver, sel.Border)

	e.now = func() time.Time { return now }
	sel, err = e.Resolve(ctx, testStudent, "v1")
	require.NoError(t, err)
	assert.Equal(t, card.BorderCopper, sel.Border)
}

func TestResolveRejectsRecordForUnknownUnit(t *testing.T) {
	ctx := context.Background()
	latest := map[shared.UnitCode]learning.Record{
		"unit_9": record("unit_9", 50, 50, 50),
	}
	e := testEngine(t, latest)

	_, err := e.Resolve(ctx, testStudent, "v1")
	assert.ErrorIs(t, err, shared.ErrUnknownUnit)
}

func TestResolveUnknownTableVersion(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, map[shared.UnitCode]learning.Record{})

	_, err := e.Resolve(ctx, testStudent, "v99")
	assert.ErrorIs(t, err, shared.ErrTableNotFound)
}

func TestResolveActiveFollowsActivation(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, map[shared.UnitCode]learning.Record{})

	sel, err := e.ResolveActive(ctx, testStudent)
	require.NoError(t, err)
	assert.Equal(t, shared.TableVersion("v1"), sel.TableVersion)
}
