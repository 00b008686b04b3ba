package scoretable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// twoTierUnit builds a minimal valid ruleset: one unit, two bands.
func twoTierUnit() UnitRules {
	return UnitRules{
		UnitCode: "unit_1",
		Tiers: []Tier{
			{Label: "D", MinScore: 0, MaxScore: 59, QualityWeight: 1,
				Options: map[learning.Slot][]string{learning.SlotRace: {"slime"}}},
			{Label: "A", MinScore: 60, MaxScore: 100, QualityWeight: 2,
				Options: map[learning.Slot][]string{learning.SlotRace: {"slime", "elf"}}},
		},
	}
}

func testTable(rules UnitRules) *Table {
	return &Table{
		Version: "v-test",
		Units:   map[shared.UnitCode]UnitRules{rules.UnitCode: rules},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

func TestValidateAcceptsWellFormedTable(t *testing.T) {
	require.NoError(t, testTable(twoTierUnit()).Validate())
}

func TestValidateRejectsGap(t *testing.T) {
	rules := twoTierUnit()
	rules.Tiers[1].MinScore = 61 // 60 is covered by nobody
	err := testTable(rules).Validate()
	require.Error(t, err)
	assert.True(t, shared.IsConfiguration(err))
}

func TestValidateRejectsOverlap(t *testing.T) {
	rules := twoTierUnit()
	rules.Tiers[1].MinScore = 59 // 59 is covered twice
	assert.Error(t, testTable(rules).Validate())
}

func TestValidateRejectsIncompleteCoverage(t *testing.T) {
	rules := twoTierUnit()
	rules.Tiers[0].MinScore = 5
	assert.Error(t, testTable(rules).Validate(), "tiers must start at 0")

	rules = twoTierUnit()
	rules.Tiers[1].MaxScore = 99
	assert.Error(t, testTable(rules).Validate(), "tiers must reach the maximum score")
}

func TestValidateRejectsNonIncreasingQualityWeight(t *testing.T) {
	rules := twoTierUnit()
	rules.Tiers[1].QualityWeight = 1
	assert.Error(t, testTable(rules).Validate())
}

func TestValidateRejectsShrinkingOptionSets(t *testing.T) {
	// The higher band offers fewer race options than the lower one.
	rules := twoTierUnit()
	rules.Tiers[0].Options[learning.SlotRace] = []string{"slime", "plant", "pixie"}
	assert.Error(t, testTable(rules).Validate())
}

func TestValidateRejectsEmptyOptionSet(t *testing.T) {
	rules := twoTierUnit()
	rules.Tiers[0].Options[learning.SlotRace] = nil
	assert.Error(t, testTable(rules).Validate())
}

func TestValidateRejectsUnknownSlot(t *testing.T) {
	rules := twoTierUnit()
	rules.Tiers[0].Options[learning.Slot("charisma")] = []string{"high"}
	assert.Error(t, testTable(rules).Validate())
}

func TestValidateToleratesUnsortedTiers(t *testing.T) {
	rules := twoTierUnit()
	rules.Tiers[0], rules.Tiers[1] = rules.Tiers[1], rules.Tiers[0]
	assert.NoError(t, testTable(rules).Validate(), "validation sorts a copy before checking")
}

// ─────────────────────────────────────────────────────────────────────────────
// Tier lookup
// ─────────────────────────────────────────────────────────────────────────────

func TestTierForBoundaries(t *testing.T) {
	rules := twoTierUnit()

	cases := []struct {
		score shared.Score
		label string
	}{
		{0, "D"},
		{59, "D"},
		{60, "A"},
		{100, "A"},
	}
	for _, tc := range cases {
		tier, err := rules.TierFor(tc.score)
		require.NoError(t, err)
		assert.Equal(t, tc.label, tier.Label, "score %v", tc.score)
	}
}

func TestTierForQuantizesFractionalScores(t *testing.T) {
	rules := twoTierUnit()

	tier, err := rules.TierFor(59.4)
	require.NoError(t, err)
	assert.Equal(t, "D", tier.Label)

	tier, err = rules.TierFor(59.5)
	require.NoError(t, err)
	assert.Equal(t, "A", tier.Label, "rounds half up into the next band")
}

func TestTierForClampsOutOfRange(t *testing.T) {
	rules := twoTierUnit()

	tier, err := rules.TierFor(-10)
	require.NoError(t, err)
	assert.Equal(t, "D", tier.Label)

	tier, err = rules.TierFor(250)
	require.NoError(t, err)
	assert.Equal(t, "A", tier.Label)
}

func TestRulesForUnknownUnit(t *testing.T) {
	table := testTable(twoTierUnit())
	_, err := table.RulesFor("unit_99")
	assert.ErrorIs(t, err, shared.ErrUnknownUnit)
}

// ─────────────────────────────────────────────────────────────────────────────
// Built-in ruleset
// ─────────────────────────────────────────────────────────────────────────────

func TestDefaultTableIsValid(t *testing.T) {
	table := DefaultTable()
	require.NoError(t, table.Validate())
	assert.Equal(t, shared.TableVersion("v1"), table.Version)

	// Every default unit must carry rules in the built-in table.
	for _, unit := range learning.DefaultUnits() {
		rules, err := table.RulesFor(unit.Code)
		require.NoError(t, err, "unit %s", unit.Code)
		for _, slot := range unit.Slots {
			for _, tier := range rules.Tiers {
				opts, ok := tier.Options[slot]
				assert.True(t, ok, "unit %s tier %s misses slot %s", unit.Code, tier.Label, slot)
				assert.NotEmpty(t, opts)
			}
		}
	}
}

func TestDisplayLabelCoversDefaultOptions(t *testing.T) {
	table := DefaultTable()
	for code, rules := range table.Units {
		for _, tier := range rules.Tiers {
			for slot, options := range tier.Options {
				for _, opt := range options {
					label, ok := Labels[opt]
					require.True(t, ok, "unit %s slot %s option %q has no display label", code, slot, opt)
					assert.NotEmpty(t, label)
					assert.Equal(t, label, DisplayLabel(opt))
				}
			}
		}
	}

	assert.Equal(t, "mystery", DisplayLabel("mystery"), "unknown options fall back to the key")
}
