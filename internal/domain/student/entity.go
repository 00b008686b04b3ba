// Package student contains the student reference model.
// Authentication and session handling live in the surrounding web application;
// this package only models the already-authenticated student the pipeline
// works with.
package student

import (
	"strings"
	"time"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Role defines the student's role in the course.
type Role string

const (
	// RoleStudent is a regular course participant.
	RoleStudent Role = "student"
	// RoleTeacher can import learning records and grant tokens.
	RoleTeacher Role = "teacher"
	// RoleAdmin can additionally publish score tables.
	RoleAdmin Role = "admin"
)

// IsValid checks whether the role is one of the known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// CanAdminister reports whether the role may use the admin surface.
func (r Role) CanAdminister() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Student is reference data for a course participant. The card pipeline reads
// it for display names and role checks; it never mutates identity fields.
type Student struct {
	ID         shared.StudentID
	Email      string
	Number     string // external student number, e.g. "s2026-042"
	Name       string
	Nickname   string
	Role       Role
	EnrolledAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// New creates a validated student.
func New(id shared.StudentID, email, name string, role Role) (*Student, error) {
	if !id.IsValid() {
		return nil, shared.ErrInvalidStudentID
	}
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, shared.WrapError("student", "New", shared.ErrInvalidInput, "invalid email", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.WrapError("student", "New", shared.ErrEmptyValue, "name is required", nil)
	}
	if !role.IsValid() {
		role = RoleStudent
	}
	now := time.Now().UTC()
	return &Student{
		ID:         id,
		Email:      email,
		Name:       name,
		Role:       role,
		EnrolledAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// DisplayName returns the nickname when set, otherwise the real name.
func (s *Student) DisplayName() string {
	if s.Nickname != "" {
		return s.Nickname
	}
	return s.Name
}

// WeeksEnrolled returns the number of whole course weeks since enrollment,
// counting the enrollment week as week 1. Feeds the card border style.
func (s *Student) WeeksEnrolled(now time.Time) int {
	if now.Before(s.EnrolledAt) {
		return 0
	}
	return int(now.Sub(s.EnrolledAt).Hours()/(24*7)) + 1
}
