// Package learning contains the graded-unit reference data and the per-student
// learning records that feed attribute scoring.
package learning

import (
	"time"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTRIBUTE SLOTS
// ══════════════════════════════════════════════════════════════════════════════

// Slot names an RPG attribute a unit unlocks on the character card.
type Slot string

const (
	SlotRace          Slot = "race"
	SlotGender        Slot = "gender"
	SlotClass         Slot = "class"
	SlotBody          Slot = "body"
	SlotEquipment     Slot = "equipment"
	SlotWeaponQuality Slot = "weapon_quality"
	SlotWeaponType    Slot = "weapon_type"
	SlotBackground    Slot = "background"
	SlotExpression    Slot = "expression"
	SlotPose          Slot = "pose"
)

// IsValid checks whether the slot is one of the known attribute slots.
func (s Slot) IsValid() bool {
	switch s {
	case SlotRace, SlotGender, SlotClass, SlotBody, SlotEquipment,
		SlotWeaponQuality, SlotWeaponType, SlotBackground, SlotExpression, SlotPose:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT
// ══════════════════════════════════════════════════════════════════════════════

// Unit is one graded learning module. Units are immutable seed data: the
// course defines five ordered units plus a self-directed one.
type Unit struct {
	Code      shared.UnitCode
	Name      string
	Ordinal   int // 1-5, 6 for the self-directed unit
	WeekStart int
	WeekEnd   int
	Slots     []Slot // attribute slots this unit unlocks
	SortOrder int
}

// SelfDirected reports whether this is the self-directed unit.
func (u Unit) SelfDirected() bool {
	return u.Code == "unit_self"
}

// Unlocks reports whether the unit feeds the given attribute slot.
func (u Unit) Unlocks(slot Slot) bool {
	for _, s := range u.Slots {
		if s == slot {
			return true
		}
	}
	return false
}

// DefaultUnits returns the course's built-in unit catalogue, in order.
// The mapping of units to attribute slots mirrors the course design:
// each unit's grade unlocks a different aspect of the character.
func DefaultUnits() []Unit {
	return []Unit{
		{Code: "unit_1", Name: "Foundations", Ordinal: 1, WeekStart: 1, WeekEnd: 3, Slots: []Slot{SlotRace, SlotGender}, SortOrder: 1},
		{Code: "unit_2", Name: "Core Skills", Ordinal: 2, WeekStart: 4, WeekEnd: 6, Slots: []Slot{SlotClass, SlotBody}, SortOrder: 2},
		{Code: "unit_3", Name: "Applied Practice", Ordinal: 3, WeekStart: 7, WeekEnd: 9, Slots: []Slot{SlotEquipment}, SortOrder: 3},
		{Code: "unit_4", Name: "Specialization", Ordinal: 4, WeekStart: 10, WeekEnd: 12, Slots: []Slot{SlotWeaponQuality, SlotWeaponType}, SortOrder: 4},
		{Code: "unit_5", Name: "Capstone", Ordinal: 5, WeekStart: 13, WeekEnd: 15, Slots: []Slot{SlotBackground}, SortOrder: 5},
		{Code: "unit_self", Name: "Self-Directed Study", Ordinal: 6, WeekStart: 1, WeekEnd: 15, Slots: []Slot{SlotExpression, SlotPose}, SortOrder: 6},
	}
}

// UnitByCode looks up a unit in the catalogue.
func UnitByCode(units []Unit, code shared.UnitCode) (Unit, bool) {
	for _, u := range units {
		if u.Code == code {
			return u, true
		}
	}
	return Unit{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record is one imported grade for a (student, unit) pair. Records are
// append-only: the grading process never mutates a record, it supersedes it
// with a newer one. The scoring engine reads the most recent record per unit.
type Record struct {
	ID         string
	StudentID  shared.StudentID
	UnitCode   shared.UnitCode
	Score      shared.Score // quiz score, the tier driver
	Homework   shared.Score // secondary score, feeds the body slot derivation
	Completion shared.Score // overall completion percentage, feeds card level
	RecordedAt time.Time
	ImportedAt time.Time
}

// Validate checks record invariants before import.
func (r Record) Validate() error {
	if !r.StudentID.IsValid() {
		return shared.ErrInvalidStudentID
	}
	if !r.UnitCode.IsValid() {
		return shared.ErrUnknownUnit
	}
	if !r.Score.IsValid() || !r.Homework.IsValid() || !r.Completion.IsValid() {
		return shared.ErrInvalidScore
	}
	return nil
}

// MostRecentPerUnit reduces a record set to the latest record for each unit,
// judged by RecordedAt with ImportedAt as a tiebreaker.
func MostRecentPerUnit(records []Record) map[shared.UnitCode]Record {
	latest := make(map[shared.UnitCode]Record, len(records))
	for _, r := range records {
		prev, ok := latest[r.UnitCode]
		if !ok || r.RecordedAt.After(prev.RecordedAt) ||
			(r.RecordedAt.Equal(prev.RecordedAt) && r.ImportedAt.After(prev.ImportedAt)) {
			latest[r.UnitCode] = r
		}
	}
	return latest
}
