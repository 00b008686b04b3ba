package card

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

const testStudent = shared.StudentID("3b8f0c2e-8a1d-4f5e-9c3a-7d2b6e4a1f09")

func validSelection() Selection {
	picks := map[learning.Slot]Pick{}
	for slot, option := range map[learning.Slot]string{
		learning.SlotRace:          "elf",
		learning.SlotGender:        "female",
		learning.SlotClass:         "mage",
		learning.SlotBody:          "slim",
		learning.SlotEquipment:     "fine",
		learning.SlotWeaponQuality: "fine",
		learning.SlotWeaponType:    "staff",
		learning.SlotBackground:    "forest",
		learning.SlotExpression:    "calm",
		learning.SlotPose:          "standing",
	} {
		picks[slot] = Pick{Option: option, TierLabel: "A", QualityWeight: 4, UnitCode: "unit_1"}
	}
	return Selection{
		StudentID:    testStudent,
		TableVersion: "v1",
		Picks:        picks,
		Level:        4,
		Border:       BorderSilver,
	}
}

func newTestCard(t *testing.T) *Card {
	t.Helper()
	c, err := New("card-1", testStudent, validSelection())
	require.NoError(t, err)
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// State machine
// ─────────────────────────────────────────────────────────────────────────────

func TestCanTransitionLegalEdges(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateRequested, StateReserved},
		{StateRequested, StateFailed},
		{StateReserved, StateSubmitted},
		{StateReserved, StateFailed},
		{StateSubmitted, StateAwaitingResult},
		{StateSubmitted, StateFailed},
		{StateAwaitingResult, StateCompleted},
		{StateAwaitingResult, StateFailed},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e.from, e.to), "%s -> %s must be legal", e.from, e.to)
	}

	illegal := []struct{ from, to State }{
		{StateRequested, StateSubmitted},
		{StateRequested, StateCompleted},
		{StateReserved, StateCompleted},
		{StateSubmitted, StateCompleted},
		{StateCompleted, StateFailed},
		{StateFailed, StateReserved},
		{StateFailed, StateCompleted},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e.from, e.to), "%s -> %s must be illegal", e.from, e.to)
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	c := newTestCard(t)
	assert.Nil(t, c.SubmittedAt)
	assert.Nil(t, c.FinalizedAt)

	require.NoError(t, c.Transition(StateReserved))
	require.NoError(t, c.Transition(StateSubmitted))
	require.NotNil(t, c.SubmittedAt)

	require.NoError(t, c.Transition(StateAwaitingResult))
	require.NoError(t, c.Transition(StateCompleted))
	require.NotNil(t, c.FinalizedAt)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	c := newTestCard(t)
	err := c.Transition(StateCompleted)
	require.ErrorIs(t, err, shared.ErrStateTransition)
	assert.Equal(t, StateRequested, c.State, "card must be unchanged after a rejected transition")
}

func TestTerminalCardIsImmutable(t *testing.T) {
	c := newTestCard(t)
	require.NoError(t, c.Fail(FailureNoTokens))

	assert.ErrorIs(t, c.Transition(StateReserved), shared.ErrCardTerminal)
	assert.ErrorIs(t, c.Fail(FailureTimeout), shared.ErrCardTerminal)
	assert.Equal(t, FailureNoTokens, c.FailureReason, "the first failure reason sticks")
}

func TestCompleteRequiresArtifactURL(t *testing.T) {
	c := newTestCard(t)
	require.NoError(t, c.Transition(StateReserved))
	require.NoError(t, c.Transition(StateSubmitted))
	require.NoError(t, c.Transition(StateAwaitingResult))

	err := c.Complete("", "")
	require.Error(t, err)
	assert.Equal(t, StateAwaitingResult, c.State)

	require.NoError(t, c.Complete("https://cdn/card.png", "https://cdn/thumb.png"))
	assert.Equal(t, StateCompleted, c.State)
	assert.True(t, c.IsLatest)
}

func TestStaleSince(t *testing.T) {
	c := newTestCard(t)
	require.NoError(t, c.Transition(StateReserved))
	c.UpdatedAt = time.Now().Add(-time.Hour)

	assert.True(t, c.StaleSince(time.Now().Add(-30*time.Minute)))
	assert.False(t, c.StaleSince(time.Now().Add(-2*time.Hour)))

	// Terminal cards are never stale, however old.
	require.NoError(t, c.Fail(FailureTimeout))
	c.UpdatedAt = time.Now().Add(-time.Hour)
	assert.False(t, c.StaleSince(time.Now()))
}

// ─────────────────────────────────────────────────────────────────────────────
// Selection
// ─────────────────────────────────────────────────────────────────────────────

func TestSelectionValidate(t *testing.T) {
	sel := validSelection()
	require.NoError(t, sel.Validate())

	missing := validSelection()
	delete(missing.Picks, learning.SlotPose)
	assert.ErrorIs(t, missing.Validate(), shared.ErrSelectionIncomplete)

	badLevel := validSelection()
	badLevel.Level = 0
	assert.Error(t, badLevel.Validate())
	badLevel.Level = 11
	assert.Error(t, badLevel.Validate())

	noVersion := validSelection()
	noVersion.TableVersion = ""
	assert.Error(t, noVersion.Validate())
}

func TestPromptIsDeterministic(t *testing.T) {
	a, b := validSelection(), validSelection()
	assert.Equal(t, a.Prompt(), b.Prompt())
	assert.Contains(t, a.Prompt(), "race: elf")
	assert.Contains(t, a.Prompt(), "weapon quality: fine", "slot names are humanized too")
	assert.Contains(t, a.Prompt(), "level 4, silver frame")
	assert.NotContains(t, a.Prompt(), "_", "underscores are humanized in the prompt")
}

func TestBorderForWeeks(t *testing.T) {
	assert.Equal(t, BorderCopper, BorderForWeeks(0))
	assert.Equal(t, BorderCopper, BorderForWeeks(6))
	assert.Equal(t, BorderSilver, BorderForWeeks(7))
	assert.Equal(t, BorderSilver, BorderForWeeks(12))
	assert.Equal(t, BorderGold, BorderForWeeks(13))
	assert.Equal(t, BorderGold, BorderForWeeks(40))
}
