// Package card contains the character card aggregate and its generation
// lifecycle state machine. A card is owned exclusively by the generation
// orchestrator until it reaches a terminal state; after that it is immutable
// and belongs to the read side.
package card

import (
	"time"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATES
// ══════════════════════════════════════════════════════════════════════════════

// State is the card's position in the generation lifecycle.
//
//	requested → reserved → submitted → awaiting_result → completed
//	                                                   ↘ failed
//
// Failure can occur from any non-terminal state; every reserved token reaches
// exactly one commit or release on the way to a terminal state.
type State string

const (
	// StateRequested - input validated, no token movement yet.
	StateRequested State = "requested"
	// StateReserved - a token reservation is held for this card.
	StateReserved State = "reserved"
	// StateSubmitted - the job was accepted by the generation studio.
	StateSubmitted State = "submitted"
	// StateAwaitingResult - polling for the studio's verdict.
	StateAwaitingResult State = "awaiting_result"
	// StateCompleted - artifact stored, reservation committed. Terminal.
	StateCompleted State = "completed"
	// StateFailed - generation failed, reservation released. Terminal.
	StateFailed State = "failed"
)

// IsValid checks whether the state is one of the known lifecycle states.
func (s State) IsValid() bool {
	switch s {
	case StateRequested, StateReserved, StateSubmitted, StateAwaitingResult,
		StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// InFlight reports whether the card still holds (or may hold) a reservation.
func (s State) InFlight() bool {
	return s == StateReserved || s == StateSubmitted || s == StateAwaitingResult
}

// canTransition encodes the legal state machine edges.
var canTransition = map[State][]State{
	StateRequested:      {StateReserved, StateFailed},
	StateReserved:       {StateSubmitted, StateFailed},
	StateSubmitted:      {StateAwaitingResult, StateFailed},
	StateAwaitingResult: {StateCompleted, StateFailed},
}

// CanTransition reports whether the edge from→to is legal.
func CanTransition(from, to State) bool {
	for _, next := range canTransition[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURE REASONS
// ══════════════════════════════════════════════════════════════════════════════

// FailureReason is the stable, user-visible reason code recorded on a failed
// card. Raw external error text is never surfaced through this type.
type FailureReason string

const (
	// FailureNoTokens - balance was insufficient; no external call was made.
	FailureNoTokens FailureReason = "no_tokens"
	// FailureSubmitUnavailable - submit retries were exhausted.
	FailureSubmitUnavailable FailureReason = "submit_unavailable"
	// FailureRejected - the studio refused the job (e.g. content policy).
	FailureRejected FailureReason = "rejected"
	// FailureGeneration - the studio reported a terminal generation error.
	FailureGeneration FailureReason = "generation_error"
	// FailureTimeout - the job exceeded the maximum wait, or a crash left it
	// stale and the sweep resolved it.
	FailureTimeout FailureReason = "timeout"
)

// ══════════════════════════════════════════════════════════════════════════════
// CARD
// ══════════════════════════════════════════════════════════════════════════════

// Card is one generation attempt and, once completed, the resulting artifact
// reference. The attribute selection and table version are snapshotted at
// request time for audit; they are never recomputed.
type Card struct {
	ID           string
	StudentID    shared.StudentID
	TableVersion shared.TableVersion
	Selection    Selection
	Prompt       string

	State         State
	FailureReason FailureReason
	ReservationID string

	JobHandle    shared.JobHandle
	ArtifactURL  string
	ThumbnailURL string

	// Level and border are derived presentation attributes, frozen with the
	// selection: level from overall completion, border from weeks of study.
	Level  int
	Border BorderStyle

	IsLatest    bool
	CreatedAt   time.Time
	SubmittedAt *time.Time
	FinalizedAt *time.Time
	UpdatedAt   time.Time
}

// New creates a card in the requested state with a frozen selection snapshot.
func New(id string, studentID shared.StudentID, sel Selection) (*Card, error) {
	if id == "" {
		return nil, shared.WrapError("card", "New", shared.ErrInvalidID, "card id is empty", nil)
	}
	if !studentID.IsValid() {
		return nil, shared.ErrInvalidStudentID
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Card{
		ID:           id,
		StudentID:    studentID,
		TableVersion: sel.TableVersion,
		Selection:    sel,
		Prompt:       sel.Prompt(),
		State:        StateRequested,
		Level:        sel.Level,
		Border:       sel.Border,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition moves the card along a legal edge, stamping timestamps.
// It never mutates a terminal card.
func (c *Card) Transition(to State) error {
	if c.State.Terminal() {
		return shared.ErrCardTerminal
	}
	if !CanTransition(c.State, to) {
		return shared.WrapError("card", "Transition", shared.ErrStateTransition,
			string(c.State)+" -> "+string(to), nil)
	}
	now := time.Now().UTC()
	c.State = to
	c.UpdatedAt = now
	switch to {
	case StateSubmitted:
		c.SubmittedAt = &now
	case StateCompleted, StateFailed:
		c.FinalizedAt = &now
	}
	return nil
}

// Fail transitions to the failed state and records the reason code.
func (c *Card) Fail(reason FailureReason) error {
	if err := c.Transition(StateFailed); err != nil {
		return err
	}
	c.FailureReason = reason
	return nil
}

// Complete transitions to the completed state with the artifact references.
func (c *Card) Complete(artifactURL, thumbnailURL string) error {
	if artifactURL == "" {
		return shared.WrapError("card", "Complete", shared.ErrEmptyValue, "artifact URL is empty", nil)
	}
	if err := c.Transition(StateCompleted); err != nil {
		return err
	}
	c.ArtifactURL = artifactURL
	c.ThumbnailURL = thumbnailURL
	c.IsLatest = true
	return nil
}

// StaleSince reports whether a non-terminal card has been sitting in its
// current state since before the cutoff. The sweep uses this to find work
// orphaned by a crash.
func (c *Card) StaleSince(cutoff time.Time) bool {
	return c.State.InFlight() && c.UpdatedAt.Before(cutoff)
}
