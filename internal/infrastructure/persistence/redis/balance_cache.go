package redis

import (
	"context"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

// BalanceCache caches displayed token balances per student. Write paths in
// the ledger invalidate it through events; the TTL covers anything missed.
type BalanceCache struct {
	cache *Cache
}

// NewBalanceCache creates a BalanceCache.
func NewBalanceCache(cache *Cache) *BalanceCache {
	return &BalanceCache{cache: cache}
}

func balanceKey(studentID shared.StudentID) string {
	return PrefixBalance + studentID.String()
}

// Get returns the cached balance, or ErrCacheMiss.
func (c *BalanceCache) Get(ctx context.Context, studentID shared.StudentID) (shared.Tokens, error) {
	var balance int
	if err := c.cache.Get(ctx, balanceKey(studentID), &balance); err != nil {
		return 0, err
	}
	return shared.Tokens(balance), nil
}

// Set stores the balance with the standard TTL.
func (c *BalanceCache) Set(ctx context.Context, studentID shared.StudentID, balance shared.Tokens) error {
	return c.cache.Set(ctx, balanceKey(studentID), int(balance), TTLBalance)
}

// Invalidate drops the cached balance after any ledger write.
func (c *BalanceCache) Invalidate(ctx context.Context, studentID shared.StudentID) error {
	return c.cache.Delete(ctx, balanceKey(studentID))
}
