// Package scoretable contains the versioned ruleset that maps quantized unit
// scores to character attribute options. Tables are immutable once published;
// cards keep the version they were generated under and are never recomputed
// against a newer table.
package scoretable

import (
	"math"
	"sort"
	"time"

	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// MaxScore is the top of the grading scale every unit's tiers must cover.
const MaxScore = 100

// ══════════════════════════════════════════════════════════════════════════════
// TIERS
// ══════════════════════════════════════════════════════════════════════════════

// Tier is one score sub-range within a unit. Tiers for a unit partition
// [0, MaxScore]: contiguous, non-overlapping, no gaps.
type Tier struct {
	// Label is the human-facing grade band, best to worst: S, A, B, C, D.
	Label string

	// MinScore and MaxScore bound the band, both inclusive.
	MinScore shared.Score
	MaxScore shared.Score

	// Options holds the eligible option set per attribute slot for this band.
	// Higher tiers never offer fewer options for a slot than lower ones.
	Options map[learning.Slot][]string

	// QualityWeight is forwarded to the generation studio as a rendering
	// quality hint. Strictly increasing with tier rank.
	QualityWeight shared.QualityWeight
}

// Contains reports whether the score falls inside this tier.
func (t Tier) Contains(s shared.Score) bool {
	return s >= t.MinScore && s <= t.MaxScore
}

// UnitRules is the ordered tier list for one unit, lowest band first.
type UnitRules struct {
	UnitCode shared.UnitCode
	Tiers    []Tier
}

// TierFor locates the tier containing the score with a binary search over the
// sorted bands. Scores are quantized to whole points first, since tier bounds
// are whole points. A published table guarantees full coverage, so a miss is
// a configuration bug, not a runtime input error.
func (r UnitRules) TierFor(s shared.Score) (Tier, error) {
	s = shared.Score(math.Round(float64(s.Clamp())))
	i := sort.Search(len(r.Tiers), func(i int) bool {
		return r.Tiers[i].MaxScore >= s
	})
	if i >= len(r.Tiers) || !r.Tiers[i].Contains(s) {
		return Tier{}, shared.ErrMalformedTable
	}
	return r.Tiers[i], nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TABLE
// ══════════════════════════════════════════════════════════════════════════════

// Table is one published score table version.
type Table struct {
	Version     shared.TableVersion
	Description string
	Units       map[shared.UnitCode]UnitRules
	Active      bool
	PublishedAt time.Time
	ActivatedAt *time.Time
}

// RulesFor returns the tier rules for a unit.
func (t *Table) RulesFor(code shared.UnitCode) (UnitRules, error) {
	rules, ok := t.Units[code]
	if !ok {
		return UnitRules{}, shared.ErrUnknownUnit
	}
	return rules, nil
}

// Validate enforces the publish-time invariants. A table that fails
// validation must be rejected before it can ever serve a request:
//
//   - every unit's tiers, sorted, exactly cover [0, MaxScore] with no gaps
//     or overlaps;
//   - quality weights strictly increase from lower to higher bands;
//   - a higher band never offers fewer options for a slot than a lower band
//     that covers the same slot.
func (t *Table) Validate() error {
	if !t.Version.IsValid() {
		return shared.WrapError("scoretable", "Validate", shared.ErrConfiguration, "table version is empty", nil)
	}
	if len(t.Units) == 0 {
		return shared.WrapError("scoretable", "Validate", shared.ErrConfiguration, "table has no unit rules", nil)
	}
	for code, rules := range t.Units {
		if err := validateUnit(code, rules); err != nil {
			return err
		}
	}
	return nil
}

func validateUnit(code shared.UnitCode, rules UnitRules) error {
	if len(rules.Tiers) == 0 {
		return malformed(code, "unit has no tiers")
	}
	tiers := make([]Tier, len(rules.Tiers))
	copy(tiers, rules.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinScore < tiers[j].MinScore })

	if tiers[0].MinScore != 0 {
		return malformed(code, "tiers do not start at 0")
	}
	if tiers[len(tiers)-1].MaxScore != MaxScore {
		return malformed(code, "tiers do not reach the maximum score")
	}
	for i := range tiers {
		if tiers[i].MinScore > tiers[i].MaxScore {
			return malformed(code, "tier has inverted bounds")
		}
		if len(tiers[i].Options) == 0 {
			return malformed(code, "tier has no option sets")
		}
		for slot, opts := range tiers[i].Options {
			if !slot.IsValid() {
				return malformed(code, "tier references unknown attribute slot")
			}
			if len(opts) == 0 {
				return malformed(code, "tier has an empty option set")
			}
		}
		if i == 0 {
			continue
		}
		// Contiguity: each band starts exactly one point above the previous.
		if tiers[i].MinScore != tiers[i-1].MaxScore+1 {
			return malformed(code, "tiers have a gap or overlap")
		}
		if tiers[i].QualityWeight <= tiers[i-1].QualityWeight {
			return malformed(code, "quality weight does not increase with tier")
		}
		for slot, lower := range tiers[i-1].Options {
			higher, ok := tiers[i].Options[slot]
			if ok && len(higher) < len(lower) {
				return malformed(code, "higher tier offers fewer options than lower tier")
			}
		}
	}
	return nil
}

func malformed(code shared.UnitCode, msg string) error {
	return shared.WrapError("scoretable", "Validate", shared.ErrConfiguration,
		"unit "+code.String()+": "+msg, nil)
}

// Sorted returns the unit rules with tiers sorted lowest band first,
// the order TierFor expects. Call after loading from storage.
func (t *Table) Sorted() *Table {
	for code, rules := range t.Units {
		sort.Slice(rules.Tiers, func(i, j int) bool {
			return rules.Tiers[i].MinScore < rules.Tiers[j].MinScore
		})
		t.Units[code] = rules
	}
	return t
}
