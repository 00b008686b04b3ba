package card

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BORDER STYLE
// ══════════════════════════════════════════════════════════════════════════════

// BorderStyle is the card frame, earned by weeks of study.
type BorderStyle string

const (
	BorderCopper BorderStyle = "copper"
	BorderSilver BorderStyle = "silver"
	BorderGold   BorderStyle = "gold"
)

// BorderForWeeks maps completed study weeks to a border style:
// weeks 1-6 copper, 7-12 silver, 13+ gold.
func BorderForWeeks(weeks int) BorderStyle {
	switch {
	case weeks >= 13:
		return BorderGold
	case weeks >= 7:
		return BorderSilver
	default:
		return BorderCopper
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTRIBUTE SELECTION
// ══════════════════════════════════════════════════════════════════════════════

// Pick is one resolved attribute: the chosen option plus the tier that
// licensed it, kept for audit.
type Pick struct {
	Option        string               `json:"option"`
	TierLabel     string               `json:"tier"`
	QualityWeight shared.QualityWeight `json:"quality_weight"`
	UnitCode      shared.UnitCode      `json:"unit"`
}

// Selection is the resolved attribute set for one card request. It is
// ephemeral on its own: it exists embedded in the generation request and in
// the card snapshot.
type Selection struct {
	StudentID    shared.StudentID            `json:"student_id"`
	TableVersion shared.TableVersion         `json:"table_version"`
	Picks        map[learning.Slot]Pick      `json:"picks"`
	Level        int                         `json:"level"`
	Border       BorderStyle                 `json:"border"`
}

// requiredSlots are the attribute slots every complete selection carries.
var requiredSlots = []learning.Slot{
	learning.SlotRace, learning.SlotGender, learning.SlotClass, learning.SlotBody,
	learning.SlotEquipment, learning.SlotWeaponQuality, learning.SlotWeaponType,
	learning.SlotBackground, learning.SlotExpression, learning.SlotPose,
}

// Validate checks that the selection is complete and internally consistent.
func (s Selection) Validate() error {
	if !s.StudentID.IsValid() {
		return shared.ErrInvalidStudentID
	}
	if !s.TableVersion.IsValid() {
		return shared.WrapError("card", "Validate", shared.ErrEmptyValue, "selection has no table version", nil)
	}
	for _, slot := range requiredSlots {
		pick, ok := s.Picks[slot]
		if !ok || pick.Option == "" {
			return shared.ErrSelectionIncomplete
		}
	}
	if s.Level < 1 || s.Level > 10 {
		return shared.WrapError("card", "Validate", shared.ErrValueOutOfRange, "level must be 1..10", nil)
	}
	return nil
}

// Option returns the chosen option for a slot, or "" when absent.
func (s Selection) Option(slot learning.Slot) string {
	return s.Picks[slot].Option
}

// MaxQualityWeight returns the highest tier weight across all picks. The
// studio uses it to budget rendering quality for the whole portrait.
func (s Selection) MaxQualityWeight() shared.QualityWeight {
	var max shared.QualityWeight
	for _, p := range s.Picks {
		if p.QualityWeight > max {
			max = p.QualityWeight
		}
	}
	return max
}

// Prompt composes the generation prompt from the picks in a stable slot
// order, so identical selections always produce identical prompts.
func (s Selection) Prompt() string {
	parts := make([]string, 0, len(requiredSlots)+2)
	parts = append(parts, "fantasy RPG character card portrait")
	for _, slot := range requiredSlots {
		pick, ok := s.Picks[slot]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s",
			strings.ReplaceAll(string(slot), "_", " "),
			strings.ReplaceAll(pick.Option, "_", " ")))
	}
	parts = append(parts, fmt.Sprintf("level %d, %s frame", s.Level, s.Border))
	return strings.Join(parts, ", ")
}

// TierSummary returns "slot=tier" pairs sorted by slot, for logging.
func (s Selection) TierSummary() string {
	keys := make([]string, 0, len(s.Picks))
	for slot, pick := range s.Picks {
		keys = append(keys, string(slot)+"="+pick.TierLabel)
	}
	sort.Strings(keys)
	return strings.Join(keys, " ")
}
