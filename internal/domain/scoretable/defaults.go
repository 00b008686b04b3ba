package scoretable

import (
	"time"

	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// Default tier bands, best to worst. These mirror the course's original
// grading bands and are the seed for version "v1".
//
//	S [90,100]  A [75,89]  B [60,74]  C [40,59]  D [0,39]
const (
	LabelS = "S"
	LabelA = "A"
	LabelB = "B"
	LabelC = "C"
	LabelD = "D"
)

// Labels maps option keys to the display labels used on rendered cards.
// The course is taught in Traditional Chinese; keys stay English because the
// generation prompt is composed from keys, not labels.
var Labels = map[string]string{
	// races
	"elf": "精靈", "human": "人類", "orc": "獸人", "dwarf": "矮人",
	"dragon": "龍族", "pixie": "小精靈", "plant": "植物", "slime": "史萊姆",
	// genders
	"male": "男性", "female": "女性", "neutral": "中性",
	// classes
	"archmage": "大法師", "paladin": "聖騎士", "ranger": "遊俠", "assassin": "刺客",
	"priest": "牧師", "mage": "法師", "warrior": "戰士", "archer": "弓箭手",
	"militia": "民兵", "apprentice": "學徒", "farmer": "農夫",
	// bodies
	"muscular": "結實精壯", "standard": "標準", "slim": "纖細瘦弱",
	// equipment
	"legendary": "傳說級", "fine": "精良級", "common": "普通級",
	"crude": "粗糙級", "broken": "破損級",
	// weapon quality
	"artifact": "神器級", "primitive": "原始",
	// weapon types
	"sword": "長劍", "shield": "盾牌", "staff": "法杖", "spellbook": "魔法書",
	"bow": "弓", "dagger": "匕首", "mace": "錘", "spear": "長槍",
	"short_sword": "短劍", "club": "棍棒", "wooden_stick": "木棍", "stone": "石頭",
	// backgrounds
	"palace_throne": "皇宮王座", "dragon_lair": "龍巢", "sky_city": "天空之城",
	"castle": "城堡", "magic_tower": "魔法塔", "town": "城鎮", "market": "市集",
	"village": "小村落", "wilderness": "荒野", "ruins": "破敗廢墟",
	// expressions
	"regal": "王者風範", "passionate": "激昂", "confident": "自信",
	"calm": "平靜", "weary": "疲憊",
	// poses
	"charging": "衝鋒陷陣", "battle_ready": "持武器備戰",
	"standing": "站立", "crouching": "蹲坐",
}

// DisplayLabel returns the rendered-card label for an option key, falling
// back to the key itself for options added by later table versions.
func DisplayLabel(option string) string {
	if label, ok := Labels[option]; ok {
		return label
	}
	return option
}

// bands builds the five standard tiers for a unit from per-band option sets,
// ordered worst to best so the slice is already in TierFor order.
func bands(d, c, b, a, s map[learning.Slot][]string) []Tier {
	return []Tier{
		{Label: LabelD, MinScore: 0, MaxScore: 39, Options: d, QualityWeight: 1},
		{Label: LabelC, MinScore: 40, MaxScore: 59, Options: c, QualityWeight: 2},
		{Label: LabelB, MinScore: 60, MaxScore: 74, Options: b, QualityWeight: 3},
		{Label: LabelA, MinScore: 75, MaxScore: 89, Options: a, QualityWeight: 4},
		{Label: LabelS, MinScore: 90, MaxScore: 100, Options: s, QualityWeight: 5},
	}
}

// DefaultTable returns the built-in "v1" ruleset. It is the original course
// mapping: five graded units plus the self-directed unit, each unlocking its
// attribute slots with richer option sets at higher bands.
func DefaultTable() *Table {
	genders := []string{"male", "female", "neutral"}
	units := map[shared.UnitCode]UnitRules{
		"unit_1": {UnitCode: "unit_1", Tiers: bands(
			map[learning.Slot][]string{learning.SlotRace: {"plant", "slime"}, learning.SlotGender: genders},
			map[learning.Slot][]string{learning.SlotRace: {"dwarf", "pixie"}, learning.SlotGender: genders},
			map[learning.Slot][]string{learning.SlotRace: {"human", "orc", "dwarf"}, learning.SlotGender: genders},
			map[learning.Slot][]string{learning.SlotRace: {"elf", "human", "orc", "dwarf"}, learning.SlotGender: genders},
			map[learning.Slot][]string{learning.SlotRace: {"elf", "human", "orc", "dwarf", "dragon"}, learning.SlotGender: genders},
		)},
		"unit_2": {UnitCode: "unit_2", Tiers: bands(
			map[learning.Slot][]string{learning.SlotClass: {"farmer"}, learning.SlotBody: {"slim"}},
			map[learning.Slot][]string{learning.SlotClass: {"militia", "apprentice"}, learning.SlotBody: {"standard", "slim"}},
			map[learning.Slot][]string{learning.SlotClass: {"warrior", "archer", "priest"}, learning.SlotBody: {"standard", "slim"}},
			map[learning.Slot][]string{learning.SlotClass: {"mage", "warrior", "archer", "priest"}, learning.SlotBody: {"muscular", "standard", "slim"}},
			map[learning.Slot][]string{learning.SlotClass: {"archmage", "paladin", "ranger", "assassin", "priest"}, learning.SlotBody: {"muscular", "standard", "slim"}},
		)},
		"unit_3": {UnitCode: "unit_3", Tiers: bands(
			map[learning.Slot][]string{learning.SlotEquipment: {"broken"}},
			map[learning.Slot][]string{learning.SlotEquipment: {"crude"}},
			map[learning.Slot][]string{learning.SlotEquipment: {"common"}},
			map[learning.Slot][]string{learning.SlotEquipment: {"fine"}},
			map[learning.Slot][]string{learning.SlotEquipment: {"legendary"}},
		)},
		"unit_4": {UnitCode: "unit_4", Tiers: bands(
			map[learning.Slot][]string{learning.SlotWeaponQuality: {"primitive"}, learning.SlotWeaponType: {"wooden_stick", "stone"}},
			map[learning.Slot][]string{learning.SlotWeaponQuality: {"crude"}, learning.SlotWeaponType: {"short_sword", "club"}},
			map[learning.Slot][]string{learning.SlotWeaponQuality: {"common"}, learning.SlotWeaponType: {"sword", "staff", "bow", "dagger"}},
			map[learning.Slot][]string{learning.SlotWeaponQuality: {"fine"}, learning.SlotWeaponType: {"sword", "shield", "staff", "bow", "dagger", "mace"}},
			map[learning.Slot][]string{learning.SlotWeaponQuality: {"artifact"}, learning.SlotWeaponType: {"sword", "shield", "staff", "spellbook", "bow", "dagger", "mace", "spear"}},
		)},
		"unit_5": {UnitCode: "unit_5", Tiers: bands(
			map[learning.Slot][]string{learning.SlotBackground: {"ruins"}},
			map[learning.Slot][]string{learning.SlotBackground: {"village", "wilderness"}},
			map[learning.Slot][]string{learning.SlotBackground: {"town", "market"}},
			map[learning.Slot][]string{learning.SlotBackground: {"castle", "magic_tower"}},
			map[learning.Slot][]string{learning.SlotBackground: {"palace_throne", "dragon_lair", "sky_city"}},
		)},
		"unit_self": {UnitCode: "unit_self", Tiers: bands(
			map[learning.Slot][]string{learning.SlotExpression: {"weary"}, learning.SlotPose: {"crouching"}},
			map[learning.Slot][]string{learning.SlotExpression: {"calm"}, learning.SlotPose: {"crouching"}},
			map[learning.Slot][]string{learning.SlotExpression: {"confident"}, learning.SlotPose: {"standing"}},
			map[learning.Slot][]string{learning.SlotExpression: {"passionate"}, learning.SlotPose: {"battle_ready"}},
			map[learning.Slot][]string{learning.SlotExpression: {"regal"}, learning.SlotPose: {"charging"}},
		)},
	}
	return &Table{
		Version:     "v1",
		Description: "Original course ruleset",
		Units:       units,
		PublishedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}
