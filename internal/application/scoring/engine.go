// Package scoring implements the score-to-attribute conversion engine: it
// turns a student's learning records and a score table version into a
// resolved attribute selection for card generation.
package scoring

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/scoretable"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/pkg/logger"
	"github.com/cardforge/cardforge/pkg/timeutil"
)

// Engine resolves attribute selections. It is stateless: identical inputs
// (records, table version, student) always yield an identical selection, so
// re-resolving cannot be abused as a reroll.
type Engine struct {
	units    learning.UnitRepository
	records  learning.RecordRepository
	tables   scoretable.Repository
	students student.Repository
	log      *logger.Logger
	now      func() time.Time
}

// NewEngine creates a scoring engine.
func NewEngine(
	units learning.UnitRepository,
	records learning.RecordRepository,
	tables scoretable.Repository,
	students student.Repository,
	log *logger.Logger,
) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		units:    units,
		records:  records,
		tables:   tables,
		students: students,
		log:      log.With(logger.Component("scoring")),
		now:      time.Now,
	}
}

// Resolve produces the attribute selection for a student under an explicit
// table version. Units without a record score as 0 and land in the lowest
// band. The option pick within a band is a reproducible pseudo-random choice
// seeded by (student, unit, slot, table version).
func (e *Engine) Resolve(ctx context.Context, studentID shared.StudentID, version shared.TableVersion) (card.Selection, error) {
	var sel card.Selection

	stu, err := e.students.GetByID(ctx, studentID)
	if err != nil {
		return sel, err
	}
	table, err := e.tables.GetVersion(ctx, version)
	if err != nil {
		return sel, err
	}
	units, err := e.units.List(ctx)
	if err != nil {
		return sel, err
	}
	latest, err := e.records.LatestPerUnit(ctx, studentID)
	if err != nil {
		return sel, err
	}
	// Records referencing units outside the catalogue are an input error,
	// not something to silently skip.
	for code := range latest {
		if _, ok := learning.UnitByCode(units, code); !ok {
			return sel, shared.ErrUnknownUnit
		}
	}

	picks := make(map[learning.Slot]card.Pick, len(units)*2)
	for _, unit := range units {
		rules, err := table.RulesFor(unit.Code)
		if err != nil {
			return sel, err
		}
		rec, graded := latest[unit.Code]

		for _, slot := range unit.Slots {
			score := shared.Score(0)
			if graded {
				score = rec.Score
				// The body slot grades diligence, not quiz results.
				if slot == learning.SlotBody {
					score = rec.Homework
				}
			}
			tier, err := rules.TierFor(score)
			if err != nil {
				return sel, err
			}
			options, ok := tier.Options[slot]
			if !ok || len(options) == 0 {
				return sel, shared.ErrMalformedTable
			}
			picks[slot] = card.Pick{
				Option:        options[pickIndex(studentID, unit.Code, slot, version, len(options))],
				TierLabel:     tier.Label,
				QualityWeight: tier.QualityWeight,
				UnitCode:      unit.Code,
			}
		}
	}

	now := e.now()
	sel = card.Selection{
		StudentID:    studentID,
		TableVersion: version,
		Picks:        picks,
		Level:        levelFor(latest),
		Border:       card.BorderForWeeks(timeutil.WeeksBetween(stu.EnrolledAt, now)),
	}
	if err := sel.Validate(); err != nil {
		return card.Selection{}, err
	}

	e.log.Debug("selection resolved",
		logger.StudentID(studentID.String()),
		logger.TableVersion(version.String()),
		logger.String("tiers", sel.TierSummary()),
	)
	return sel, nil
}

// ResolveActive resolves against whichever table version is currently active.
func (e *Engine) ResolveActive(ctx context.Context, studentID shared.StudentID) (card.Selection, error) {
	table, err := e.tables.GetActive(ctx)
	if err != nil {
		return card.Selection{}, err
	}
	return e.Resolve(ctx, studentID, table.Version)
}

// pickIndex derives a stable index into an option set. FNV-1a over the full
// identity tuple keeps picks independent across slots and table versions
// while staying byte-for-byte reproducible.
func pickIndex(studentID shared.StudentID, unit shared.UnitCode, slot learning.Slot, version shared.TableVersion, n int) int {
	h := fnv.New64a()
	h.Write([]byte(studentID))
	h.Write([]byte{0})
	h.Write([]byte(unit))
	h.Write([]byte{0})
	h.Write([]byte(slot))
	h.Write([]byte{0})
	h.Write([]byte(version))
	return int(h.Sum64() % uint64(n))
}

// levelFor maps the mean overall completion across graded units to a card
// level 1..10. Ungraded students start at level 1.
func levelFor(latest map[shared.UnitCode]learning.Record) int {
	if len(latest) == 0 {
		return 1
	}
	var sum float64
	for _, rec := range latest {
		sum += float64(rec.Completion.Clamp())
	}
	mean := sum / float64(len(latest))
	level := int(math.Ceil(mean / 10))
	if level < 1 {
		return 1
	}
	if level > 10 {
		return 10
	}
	return level
}
