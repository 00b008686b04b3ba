package query

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// Cards serves a student's own card reads.
type Cards struct {
	cards card.Repository
}

// NewCards creates the query service.
func NewCards(cards card.Repository) *Cards {
	return &Cards{cards: cards}
}

// ListMine returns the student's cards, newest first.
func (q *Cards) ListMine(ctx context.Context, studentID shared.StudentID) ([]*card.Card, error) {
	return q.cards.ListByStudent(ctx, studentID)
}

// GetMine returns one card, enforcing ownership. A foreign card reads as
// not-owned rather than not-found so the caller can distinguish a typo from
// a probing request in logs; the HTTP layer collapses both to 404.
func (q *Cards) GetMine(ctx context.Context, studentID shared.StudentID, cardID string) (*card.Card, error) {
	c, err := q.cards.GetByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if c.StudentID != studentID {
		return nil, shared.ErrCardNotOwned
	}
	return c, nil
}
