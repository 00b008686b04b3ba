package redis

import (
	"context"
	"time"
)

// HallEntry is one gallery card in the hall of heroes: a student's latest
// completed card, flattened for display.
type HallEntry struct {
	StudentID    string    `json:"student_id"`
	DisplayName  string    `json:"display_name"`
	CardID       string    `json:"card_id"`
	ArtifactURL  string    `json:"artifact_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Level        int       `json:"level"`
	Border       string    `json:"border"`
	CompletedAt  time.Time `json:"completed_at"`
}

// HallCache caches the hall-of-heroes gallery. Invalidated whenever any
// student's card completes; until then every visitor reads one Redis key
// instead of a cross-student join.
type HallCache struct {
	cache *Cache
}

// NewHallCache creates a HallCache.
func NewHallCache(cache *Cache) *HallCache {
	return &HallCache{cache: cache}
}

const hallKey = PrefixHall + "latest"

// Get returns the cached gallery, or ErrCacheMiss.
func (c *HallCache) Get(ctx context.Context) ([]HallEntry, error) {
	var entries []HallEntry
	if err := c.cache.Get(ctx, hallKey, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Set stores the gallery with the standard TTL.
func (c *HallCache) Set(ctx context.Context, entries []HallEntry) error {
	return c.cache.Set(ctx, hallKey, entries, TTLHall)
}

// Invalidate drops the gallery after a card completes.
func (c *HallCache) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, hallKey)
}
