package generation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/pkg/retry"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory fakes
// ─────────────────────────────────────────────────────────────────────────────

type memCards struct {
	mu          sync.Mutex
	byID        map[string]*card.Card
	oneInFlight bool
}

func newMemCards() *memCards {
	return &memCards{byID: make(map[string]*card.Card), oneInFlight: true}
}

func (m *memCards) Create(_ context.Context, c *card.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.oneInFlight {
		for _, existing := range m.byID {
			if existing.StudentID == c.StudentID && !existing.State.Terminal() {
				return shared.ErrCardInFlight
			}
		}
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCards) GetByID(_ context.Context, id string) (*card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrCardNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCards) UpdateState(_ context.Context, c *card.Card, expected card.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[c.ID]
	if !ok {
		return shared.ErrCardNotFound
	}
	if stored.State != expected {
		return shared.ErrCardStateConflict
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCards) ListByStudent(_ context.Context, studentID shared.StudentID) ([]*card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*card.Card
	for _, c := range m.byID {
		if c.StudentID == studentID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCards) ListInFlight(_ context.Context, cutoff time.Time) ([]*card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*card.Card
	for _, c := range m.byID {
		if c.StaleSince(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCards) LatestCompletedPerStudent(context.Context) ([]*card.Card, error) {
	return nil, nil
}

func (m *memCards) ClearLatest(_ context.Context, studentID shared.StudentID, exceptCardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.StudentID == studentID && c.ID != exceptCardID {
			c.IsLatest = false
		}
	}
	return nil
}

type memLedger struct {
	mu           sync.Mutex
	entries      []ledger.Transaction
	reservations map[string]*ledger.Reservation
}

func newMemLedger() *memLedger {
	return &memLedger{reservations: make(map[string]*ledger.Reservation)}
}

func (m *memLedger) append(studentID shared.StudentID, delta shared.Tokens, reason ledger.Reason, resID, cardID, note string) {
	m.entries = append(m.entries, ledger.Transaction{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		Delta:         delta,
		Reason:        reason,
		ReservationID: resID,
		CardID:        cardID,
		Note:          note,
		CreatedAt:     time.Now(),
	})
}

func (m *memLedger) balanceLocked(studentID shared.StudentID) shared.Tokens {
	var balance shared.Tokens
	for _, e := range m.entries {
		if e.StudentID == studentID {
			balance = balance.Add(e.Delta)
		}
	}
	return balance
}

func (m *memLedger) Grant(_ context.Context, studentID shared.StudentID, amount shared.Tokens, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.append(studentID, amount, ledger.ReasonGrant, "", "", note)
	return nil
}

func (m *memLedger) Reserve(_ context.Context, studentID shared.StudentID, cost shared.Tokens, cardID string) (*ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceLocked(studentID) < cost {
		return nil, shared.ErrNoTokens
	}
	res := &ledger.Reservation{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Cost:      cost,
		State:     ledger.ReservationOpen,
		CardID:    cardID,
		CreatedAt: time.Now(),
	}
	m.reservations[res.ID] = res
	m.append(studentID, -cost, ledger.ReasonReserve, res.ID, cardID, "")
	return res, nil
}

func (m *memLedger) Commit(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return shared.ErrReservationNotFound
	}
	if res.State.Terminal() {
		return shared.ErrReservationTerminal
	}
	res.State = ledger.ReservationCommitted
	m.append(res.StudentID, 0, ledger.ReasonCommit, res.ID, res.CardID, "")
	return nil
}

func (m *memLedger) Release(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return shared.ErrReservationNotFound
	}
	if res.State.Terminal() {
		return shared.ErrReservationTerminal
	}
	res.State = ledger.ReservationReleased
	m.append(res.StudentID, res.Cost, ledger.ReasonRelease, res.ID, res.CardID, "")
	return nil
}

func (m *memLedger) BalanceOf(_ context.Context, studentID shared.StudentID) (shared.Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(studentID), nil
}

func (m *memLedger) History(_ context.Context, studentID shared.StudentID, _ int) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Transaction
	for _, e := range m.entries {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLedger) OpenReservationsBefore(_ context.Context, cutoff time.Time) ([]ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Reservation
	for _, res := range m.reservations {
		if res.Open() && res.CreatedAt.Before(cutoff) {
			out = append(out, *res)
		}
	}
	return out, nil
}

type stubClient struct {
	submitCalls atomic.Int32
	pollCalls   atomic.Int32
	submit      func(req SubmitRequest) (shared.JobHandle, error)
	poll        func(handle shared.JobHandle) (PollResult, error)
}

func (s *stubClient) Submit(_ context.Context, req SubmitRequest) (shared.JobHandle, error) {
	s.submitCalls.Add(1)
	return s.submit(req)
}

func (s *stubClient) Poll(_ context.Context, handle shared.JobHandle) (PollResult, error) {
	s.pollCalls.Add(1)
	if s.poll == nil {
		return PollResult{Status: JobPending}, nil
	}
	return s.poll(handle)
}

type stubResolver struct {
	selection card.Selection
	err       error
}

func (s stubResolver) ResolveActive(_ context.Context, studentID shared.StudentID) (card.Selection, error) {
	if s.err != nil {
		return card.Selection{}, s.err
	}
	sel := s.selection
	sel.StudentID = studentID
	return sel, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

const testStudent = shared.StudentID("3b8f0c2e-8a1d-4f5e-9c3a-7d2b6e4a1f09")

func testSelection() card.Selection {
	picks := map[learning.Slot]card.Pick{}
	for slot, option := range map[learning.Slot]string{
		learning.SlotRace:          "elf",
		learning.SlotGender:        "female",
		learning.SlotClass:         "mage",
		learning.SlotBody:          "slender",
		learning.SlotEquipment:     "robe",
		learning.SlotWeaponQuality: "fine",
		learning.SlotWeaponType:    "staff",
		learning.SlotBackground:    "forest",
		learning.SlotExpression:    "calm",
		learning.SlotPose:          "standing",
	} {
		picks[slot] = card.Pick{Option: option, TierLabel: "B", QualityWeight: 3, UnitCode: "unit_1"}
	}
	return card.Selection{
		TableVersion: "v1",
		Picks:        picks,
		Level:        5,
		Border:       card.BorderCopper,
	}
}

func fastRetrier(attempts int) *retry.Retrier {
	return retry.New(
		retry.WithMaxAttempts(attempts),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(2*time.Millisecond),
		retry.WithJitter(0),
	)
}

func testOrchestrator(cards *memCards, tokens *memLedger, client Client) *Orchestrator {
	return New(cards, tokens, stubResolver{selection: testSelection()}, client, nil, nil, Config{
		TokenCost:     1,
		PollInterval:  time.Millisecond,
		MaxWait:       50 * time.Millisecond,
		StaleAfter:    time.Minute,
		SubmitRetrier: fastRetrier(3),
		Background:    false,
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Scenarios
// ─────────────────────────────────────────────────────────────────────────────

func TestRequestHappyPath(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	require.NoError(t, tokens.Grant(ctx, testStudent, 3, "initial"))

	client := &stubClient{
		submit: func(SubmitRequest) (shared.JobHandle, error) { return "job-1", nil },
		poll: func(shared.JobHandle) (PollResult, error) {
			return PollResult{Status: JobSucceeded, ArtifactURL: "https://cdn/card.png"}, nil
		},
	}
	o := testOrchestrator(cards, tokens, client)

	c, err := o.Request(ctx, testStudent)
	require.NoError(t, err)

	stored, err := cards.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, card.StateCompleted, stored.State)
	assert.Equal(t, "https://cdn/card.png", stored.ArtifactURL)
	assert.True(t, stored.IsLatest)

	balance, err := tokens.BalanceOf(ctx, testStudent)
	require.NoError(t, err)
	assert.Equal(t, shared.Tokens(2), balance, "one token consumed")

	history, err := tokens.History(ctx, testStudent, 10)
	require.NoError(t, err)
	_, nonNegative := ledger.BalanceOf(history)
	assert.True(t, nonNegative)
}

func TestRequestSubmitExhaustedRefunds(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	require.NoError(t, tokens.Grant(ctx, testStudent, 1, "initial"))

	client := &stubClient{
		submit: func(SubmitRequest) (shared.JobHandle, error) { return "", shared.ErrStudioUnreachable },
	}
	o := testOrchestrator(cards, tokens, client)

	c, err := o.Request(ctx, testStudent)
	require.NoError(t, err)

	assert.Equal(t, int32(3), client.submitCalls.Load(), "exactly three submit attempts")

	stored, err := cards.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, card.StateFailed, stored.State)
	assert.Equal(t, card.FailureSubmitUnavailable, stored.FailureReason)

	balance, err := tokens.BalanceOf(ctx, testStudent)
	require.NoError(t, err)
	assert.Equal(t, shared.Tokens(1), balance, "token refunded after exhausted submits")
}

func TestRequestRejectedDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	require.NoError(t, tokens.Grant(ctx, testStudent, 1, "initial"))

	client := &stubClient{
		submit: func(SubmitRequest) (shared.JobHandle, error) { return "", shared.ErrStudioRejected },
	}
	o := testOrchestrator(cards, tokens, client)

	c, err := o.Request(ctx, testStudent)
	require.NoError(t, err)

	assert.Equal(t, int32(1), client.submitCalls.Load(), "permanent rejection is not retried")

	stored, _ := cards.GetByID(ctx, c.ID)
	assert.Equal(t, card.StateFailed, stored.State)
	assert.Equal(t, card.FailureRejected, stored.FailureReason)

	balance, _ := tokens.BalanceOf(ctx, testStudent)
	assert.Equal(t, shared.Tokens(1), balance)
}

func TestRequestInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()

	client := &stubClient{
		submit: func(SubmitRequest) (shared.JobHandle, error) { return "job-1", nil },
	}
	o := testOrchestrator(cards, tokens, client)

	c, err := o.Request(ctx, testStudent)
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)
	require.NotNil(t, c)

	stored, _ := cards.GetByID(ctx, c.ID)
	assert.Equal(t, card.StateFailed, stored.State)
	assert.Equal(t, card.FailureNoTokens, stored.FailureReason)
	assert.Equal(t, int32(0), client.submitCalls.Load(), "no external call without a reservation")
}

func TestConcurrentRequestsSpendAtMostBalance(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	cards.oneInFlight = false // isolate the ledger guarantee
	require.NoError(t, tokens.Grant(ctx, testStudent, 1, "initial"))

	client := &stubClient{
		submit: func(SubmitRequest) (shared.JobHandle, error) { return "job-1", nil },
		poll: func(shared.JobHandle) (PollResult, error) {
			return PollResult{Status: JobSucceeded, ArtifactURL: "https://cdn/card.png"}, nil
		},
	}
	o := testOrchestrator(cards, tokens, client)

	const n = 8
	var wg sync.WaitGroup
	var noTokens atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Request(ctx, testStudent); err != nil {
				if shared.IsInsufficientBalance(err) {
					noTokens.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n-1), noTokens.Load(), "exactly one reservation wins")

	balance, err := tokens.BalanceOf(ctx, testStudent)
	require.NoError(t, err)
	assert.Equal(t, shared.Tokens(0), balance)

	history, err := tokens.History(ctx, testStudent, 100)
	require.NoError(t, err)
	_, nonNegative := ledger.BalanceOf(history)
	assert.True(t, nonNegative, "no prefix of the log goes negative")

	all, err := cards.ListByStudent(ctx, testStudent)
	require.NoError(t, err)
	completed := 0
	for _, c := range all {
		if c.State == card.StateCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestTimeoutRefundsAndLateSuccessIsIgnored(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	require.NoError(t, tokens.Grant(ctx, testStudent, 1, "initial"))

	client := &stubClient{
		submit: func(SubmitRequest) (shared.JobHandle, error) { return "job-1", nil },
		poll:   func(shared.JobHandle) (PollResult, error) { return PollResult{Status: JobPending}, nil },
	}
	o := testOrchestrator(cards, tokens, client)
	o.cfg.MaxWait = 5 * time.Millisecond

	c, err := o.Request(ctx, testStudent)
	require.NoError(t, err)

	stored, err := cards.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, card.StateFailed, stored.State)
	assert.Equal(t, card.FailureTimeout, stored.FailureReason)

	balance, _ := tokens.BalanceOf(ctx, testStudent)
	assert.Equal(t, shared.Tokens(1), balance, "timeout refunds the reservation")

	// A verdict arriving after the timeout must change nothing: the stale
	// in-memory copy loses the conditional state update and no commit runs.
	stale := *c
	stale.State = card.StateAwaitingResult
	err = o.completeCard(ctx, &stale, PollResult{Status: JobSucceeded, ArtifactURL: "https://cdn/late.png"})
	require.NoError(t, err)

	stored, _ = cards.GetByID(ctx, c.ID)
	assert.Equal(t, card.StateFailed, stored.State)
	assert.Empty(t, stored.ArtifactURL)
	balance, _ = tokens.BalanceOf(ctx, testStudent)
	assert.Equal(t, shared.Tokens(1), balance, "late success does not re-debit or commit")
}

func TestOneInFlightCardPerStudent(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	require.NoError(t, tokens.Grant(ctx, testStudent, 5, "initial"))

	block := make(chan struct{})
	client := &stubClient{
		submit: func(SubmitRequest) (shared.JobHandle, error) { return "job-1", nil },
		poll: func(shared.JobHandle) (PollResult, error) {
			<-block
			return PollResult{Status: JobSucceeded, ArtifactURL: "https://cdn/card.png"}, nil
		},
	}
	o := testOrchestrator(cards, tokens, client)
	o.cfg.Background = true

	_, err := o.Request(ctx, testStudent)
	require.NoError(t, err)

	_, err = o.Request(ctx, testStudent)
	assert.ErrorIs(t, err, shared.ErrCardInFlight)

	close(block)
	o.Wait()

	_, err = o.Request(ctx, testStudent)
	assert.NoError(t, err, "a terminal card frees the slot")
	o.Wait()
}

func TestSweepResolvesStaleCards(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	require.NoError(t, tokens.Grant(ctx, testStudent, 2, "initial"))

	client := &stubClient{
		submit: func(SubmitRequest) (shared.JobHandle, error) { return "job-1", nil },
	}
	o := testOrchestrator(cards, tokens, client)
	o.cfg.StaleAfter = time.Millisecond

	// A crash after reserve: the card is stuck in reserved with an open
	// reservation and no job handle.
	sel := testSelection()
	sel.StudentID = testStudent
	stuck, err := card.New(uuid.NewString(), testStudent, sel)
	require.NoError(t, err)
	require.NoError(t, cards.Create(ctx, stuck))
	res, err := tokens.Reserve(ctx, testStudent, 1, stuck.ID)
	require.NoError(t, err)
	stuck.ReservationID = res.ID
	require.NoError(t, stuck.Transition(card.StateReserved))
	require.NoError(t, cards.UpdateState(ctx, stuck, card.StateRequested))

	time.Sleep(5 * time.Millisecond)

	stats, err := o.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.TimedOut)
	assert.Equal(t, 0, stats.Errors)

	stored, _ := cards.GetByID(ctx, stuck.ID)
	assert.Equal(t, card.StateFailed, stored.State)
	assert.Equal(t, card.FailureTimeout, stored.FailureReason)

	balance, _ := tokens.BalanceOf(ctx, testStudent)
	assert.Equal(t, shared.Tokens(2), balance, "sweep refunds the stale reservation")
}

func TestSweepReleasesOrphanedReservation(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	require.NoError(t, tokens.Grant(ctx, testStudent, 1, "initial"))

	o := testOrchestrator(cards, tokens, &stubClient{})
	o.cfg.StaleAfter = time.Millisecond

	// A crash between the card's terminal write and the release: the card is
	// failed but the reservation stayed open.
	sel := testSelection()
	sel.StudentID = testStudent
	c, err := card.New(uuid.NewString(), testStudent, sel)
	require.NoError(t, err)
	require.NoError(t, cards.Create(ctx, c))
	res, err := tokens.Reserve(ctx, testStudent, 1, c.ID)
	require.NoError(t, err)
	c.ReservationID = res.ID
	require.NoError(t, c.Transition(card.StateReserved))
	require.NoError(t, cards.UpdateState(ctx, c, card.StateRequested))
	require.NoError(t, c.Fail(card.FailureTimeout))
	require.NoError(t, cards.UpdateState(ctx, c, card.StateReserved))

	time.Sleep(5 * time.Millisecond)

	stats, err := o.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrphanRefunds)

	balance, _ := tokens.BalanceOf(ctx, testStudent)
	assert.Equal(t, shared.Tokens(1), balance)
}

func TestSweepCommitsReservationForCompletedCard(t *testing.T) {
	ctx := context.Background()
	cards, tokens := newMemCards(), newMemLedger()
	require.NoError(t, tokens.Grant(ctx, testStudent, 1, "initial"))

	o := testOrchestrator(cards, tokens, &stubClient{})
	o.cfg.StaleAfter = time.Millisecond

	// A crash between the completed write and the commit: the card delivered
	// its artifact but the reservation stayed open. The student must not get
	// both the card and the token back.
	sel := testSelection()
	sel.StudentID = testStudent
	c, err := card.New(uuid.NewString(), testStudent, sel)
	require.NoError(t, err)
	require.NoError(t, cards.Create(ctx, c))
	res, err := tokens.Reserve(ctx, testStudent, 1, c.ID)
	require.NoError(t, err)
	c.ReservationID = res.ID
	require.NoError(t, c.Transition(card.StateReserved))
	require.NoError(t, cards.UpdateState(ctx, c, card.StateRequested))
	c.JobHandle = "job-9"
	require.NoError(t, c.Transition(card.StateSubmitted))
	require.NoError(t, cards.UpdateState(ctx, c, card.StateReserved))
	require.NoError(t, c.Transition(card.StateAwaitingResult))
	require.NoError(t, cards.UpdateState(ctx, c, card.StateSubmitted))
	require.NoError(t, c.Complete("https://cdn.example.com/card.png", ""))
	require.NoError(t, cards.UpdateState(ctx, c, card.StateAwaitingResult))

	time.Sleep(5 * time.Millisecond)

	stats, err := o.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrphanCommits)
	assert.Equal(t, 0, stats.OrphanRefunds)
	assert.Equal(t, 0, stats.Errors)

	assert.Equal(t, ledger.ReservationCommitted, tokens.reservations[res.ID].State)
	balance, _ := tokens.BalanceOf(ctx, testStudent)
	assert.Equal(t, shared.Tokens(0), balance, "the spend stands when the artifact was delivered")

	stored, _ := cards.GetByID(ctx, c.ID)
	assert.Equal(t, card.StateCompleted, stored.State)
	assert.Equal(t, "https://cdn.example.com/card.png", stored.ArtifactURL)
}
