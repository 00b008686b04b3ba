package query

import (
	"context"
	"errors"
	"time"

	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/internal/infrastructure/persistence/redis"
	"github.com/cardforge/cardforge/pkg/logger"
)

// HallReader caches the rendered gallery. Satisfied by redis.HallCache.
type HallReader interface {
	Get(ctx context.Context) ([]redis.HallEntry, error)
	Set(ctx context.Context, entries []redis.HallEntry) error
}

// Hall serves the hall of heroes: every student's latest completed card.
type Hall struct {
	cards    card.Repository
	students student.Repository
	cache    HallReader
	log      *logger.Logger
}

// NewHall creates the query service. cache may be nil.
func NewHall(cards card.Repository, students student.Repository, cache HallReader, log *logger.Logger) *Hall {
	if log == nil {
		log = logger.Default()
	}
	return &Hall{
		cards:    cards,
		students: students,
		cache:    cache,
		log:      log.With(logger.Component("query")),
	}
}

// Gallery returns the hall entries, cache-first. Students whose reference row
// has gone missing still appear, with the card's student id as the name.
func (q *Hall) Gallery(ctx context.Context) ([]redis.HallEntry, error) {
	if q.cache != nil {
		entries, err := q.cache.Get(ctx)
		if err == nil {
			return entries, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			q.log.Warn("hall cache read failed", logger.Err(err))
		}
	}

	cards, err := q.cards.LatestCompletedPerStudent(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]redis.HallEntry, 0, len(cards))
	for _, c := range cards {
		name := c.StudentID.String()
		if s, err := q.students.GetByID(ctx, c.StudentID); err == nil {
			name = s.DisplayName()
		}
		entries = append(entries, redis.HallEntry{
			StudentID:    c.StudentID.String(),
			DisplayName:  name,
			CardID:       c.ID,
			ArtifactURL:  c.ArtifactURL,
			ThumbnailURL: c.ThumbnailURL,
			Level:        c.Level,
			Border:       string(c.Border),
			CompletedAt:  finalizedAt(c),
		})
	}

	if q.cache != nil {
		if err := q.cache.Set(ctx, entries); err != nil {
			q.log.Warn("hall cache write failed", logger.Err(err))
		}
	}
	return entries, nil
}

func finalizedAt(c *card.Card) time.Time {
	if c.FinalizedAt != nil {
		return *c.FinalizedAt
	}
	return c.UpdatedAt
}
