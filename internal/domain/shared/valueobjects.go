// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// StudentID represents a unique student identifier (UUID string).
// Identity resolution happens upstream; the core treats the ID as opaque.
type StudentID string

// Regular expression for a canonical UUID.
var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsValid checks if the student ID is a canonical UUID.
func (s StudentID) IsValid() bool {
	return uuidRegex.MatchString(strings.ToLower(string(s)))
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// NewStudentID creates a new StudentID with validation.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.ToLower(strings.TrimSpace(id)))
	if !sid.IsValid() {
		return "", ErrInvalidStudentID
	}
	return sid, nil
}

// UnitCode identifies a graded learning unit (e.g. "unit_1", "unit_self").
type UnitCode string

// Regular expression for valid unit codes.
var unitCodeRegex = regexp.MustCompile(`^unit_([1-9][0-9]*|self)$`)

// IsValid checks the unit code format.
func (u UnitCode) IsValid() bool {
	return unitCodeRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UnitCode) String() string {
	return string(u)
}

// TableVersion identifies a published score table version.
type TableVersion string

// IsValid checks that the version is non-empty.
func (v TableVersion) IsValid() bool {
	return strings.TrimSpace(string(v)) != ""
}

// String returns the string representation.
func (v TableVersion) String() string {
	return string(v)
}

// JobHandle is the opaque handle returned by the generation studio for a
// submitted job. The core never interprets its contents.
type JobHandle string

// IsZero reports whether no handle has been assigned.
func (h JobHandle) IsZero() bool {
	return h == ""
}

// String returns the string representation.
func (h JobHandle) String() string {
	return string(h)
}

// ═══════════════════════════════════════════════════════════════════════════
// Numeric Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Score is a raw unit score on the 0-100 scale.
type Score float64

// IsValid checks that the score is within the grading scale.
func (s Score) IsValid() bool {
	return s >= 0 && s <= 100
}

// Clamp limits the score to the 0-100 range.
func (s Score) Clamp() Score {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Tokens is a signed token amount. Ledger deltas are negative for debits.
type Tokens int

// IsValid checks that a token balance or grant is non-negative.
func (t Tokens) IsValid() bool {
	return t >= 0
}

// Add returns the sum of two token amounts.
func (t Tokens) Add(delta Tokens) Tokens {
	return t + delta
}

// String formats the amount with an explicit sign for ledger display.
func (t Tokens) String() string {
	if t > 0 {
		return fmt.Sprintf("+%d", int(t))
	}
	return fmt.Sprintf("%d", int(t))
}

// QualityWeight is the per-tier hint forwarded to the generation studio.
// Higher tiers carry strictly greater weights; the core does not interpret
// the value beyond ordering.
type QualityWeight int

// IsValid checks that the weight is positive.
func (w QualityWeight) IsValid() bool {
	return w > 0
}
