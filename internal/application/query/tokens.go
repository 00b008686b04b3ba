// Package query contains the read side: balance and history lookups, card
// galleries, and the hall of heroes. Queries may consult Redis caches, but a
// cache failure always degrades to the database, never to an error.
package query

import (
	"context"
	"errors"

	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/infrastructure/persistence/redis"
	"github.com/cardforge/cardforge/pkg/logger"
)

// BalanceReader caches displayed balances. Satisfied by redis.BalanceCache.
type BalanceReader interface {
	Get(ctx context.Context, studentID shared.StudentID) (shared.Tokens, error)
	Set(ctx context.Context, studentID shared.StudentID, balance shared.Tokens) error
}

// Tokens serves balance and history reads.
type Tokens struct {
	ledger ledger.Repository
	cache  BalanceReader
	log    *logger.Logger
}

// NewTokens creates the query service. cache may be nil.
func NewTokens(l ledger.Repository, cache BalanceReader, log *logger.Logger) *Tokens {
	if log == nil {
		log = logger.Default()
	}
	return &Tokens{
		ledger: l,
		cache:  cache,
		log:    log.With(logger.Component("query")),
	}
}

// Balance returns the student's displayed balance, cache-first. The cached
// value is presentational only; reserve decisions never come through here.
func (q *Tokens) Balance(ctx context.Context, studentID shared.StudentID) (shared.Tokens, error) {
	if q.cache != nil {
		balance, err := q.cache.Get(ctx, studentID)
		if err == nil {
			return balance, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			q.log.Warn("balance cache read failed", logger.StudentID(studentID.String()), logger.Err(err))
		}
	}

	balance, err := q.ledger.BalanceOf(ctx, studentID)
	if err != nil {
		return 0, err
	}
	if q.cache != nil {
		if err := q.cache.Set(ctx, studentID, balance); err != nil {
			q.log.Warn("balance cache write failed", logger.StudentID(studentID.String()), logger.Err(err))
		}
	}
	return balance, nil
}

// History returns the student's ledger entries, newest first.
func (q *Tokens) History(ctx context.Context, studentID shared.StudentID, limit int) ([]ledger.Transaction, error) {
	return q.ledger.History(ctx, studentID, limit)
}
