package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cardforge/cardforge/internal/domain/shared"
)

func entry(delta shared.Tokens, reason Reason) Transaction {
	return Transaction{StudentID: "s", Delta: delta, Reason: reason}
}

func TestBalanceOfFoldsDeltas(t *testing.T) {
	balance, nonNegative := BalanceOf([]Transaction{
		entry(3, ReasonGrant),
		entry(-1, ReasonReserve),
		entry(0, ReasonCommit),
		entry(-1, ReasonReserve),
		entry(1, ReasonRelease),
	})
	assert.Equal(t, shared.Tokens(2), balance)
	assert.True(t, nonNegative)
}

func TestBalanceOfEmptyLog(t *testing.T) {
	balance, nonNegative := BalanceOf(nil)
	assert.Equal(t, shared.Tokens(0), balance)
	assert.True(t, nonNegative)
}

func TestBalanceOfDetectsNegativePrefix(t *testing.T) {
	// A reserve before any grant means some prefix dipped below zero, even
	// though the final balance recovers. The guard must notice.
	balance, nonNegative := BalanceOf([]Transaction{
		entry(-1, ReasonReserve),
		entry(3, ReasonGrant),
	})
	assert.Equal(t, shared.Tokens(2), balance)
	assert.False(t, nonNegative)
}

func TestReasonIsValid(t *testing.T) {
	for _, r := range []Reason{ReasonGrant, ReasonReserve, ReasonCommit, ReasonRelease} {
		assert.True(t, r.IsValid(), string(r))
	}
	assert.False(t, Reason("chargeback").IsValid())
	assert.False(t, Reason("").IsValid())
}

func TestReservationStateTerminal(t *testing.T) {
	assert.False(t, ReservationOpen.Terminal())
	assert.True(t, ReservationCommitted.Terminal())
	assert.True(t, ReservationReleased.Terminal())

	res := Reservation{State: ReservationOpen}
	assert.True(t, res.Open())
	res.State = ReservationReleased
	assert.False(t, res.Open())
}
