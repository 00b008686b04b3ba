// Package generation implements the card generation orchestrator: the state
// machine that reserves a token, submits a job to the external generation
// studio, tracks it to a verdict, and settles the reservation so that no
// token is ever double-spent or silently lost.
package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardforge/cardforge/internal/domain/card"
	"github.com/cardforge/cardforge/internal/domain/ledger"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/pkg/logger"
	"github.com/cardforge/cardforge/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATION CLIENT PORT
// ══════════════════════════════════════════════════════════════════════════════

// SubmitRequest is the job handed to the generation studio.
type SubmitRequest struct {
	// IdempotencyKey is derived from the card ID; resubmitting the same card
	// must not create a second job on the studio side.
	IdempotencyKey string
	Prompt         string
	Selection      card.Selection
	TableVersion   shared.TableVersion
	QualityWeight  shared.QualityWeight
}

// JobStatus is the studio's verdict for a polled job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// PollResult carries the studio's answer for one poll.
type PollResult struct {
	Status       JobStatus
	ArtifactURL  string
	ThumbnailURL string
	// Reason is the studio's failure classification. It is mapped to a stable
	// reason code; the raw text is only logged.
	Reason string
}

// Client is the boundary to the generation studio. Submit errors are mapped
// onto shared.ErrStudioUnreachable (transient) and shared.ErrStudioRejected
// (permanent) by implementations.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (shared.JobHandle, error)
	Poll(ctx context.Context, handle shared.JobHandle) (PollResult, error)
}

// SelectionResolver resolves a student's attribute selection against the
// active score table. Satisfied by the scoring engine.
type SelectionResolver interface {
	ResolveActive(ctx context.Context, studentID shared.StudentID) (card.Selection, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ORCHESTRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Config tunes the orchestrator.
type Config struct {
	// TokenCost is the price of one generation attempt.
	TokenCost shared.Tokens

	// PollInterval is the pause between status polls.
	PollInterval time.Duration

	// MaxWait bounds the total wait for a verdict, measured from submission.
	// Exceeding it forces failed(timeout) plus refund; a verdict arriving
	// later is ignored.
	MaxWait time.Duration

	// StaleAfter is how long an in-flight card may sit untouched before the
	// sweep picks it up.
	StaleAfter time.Duration

	// SubmitRetrier drives submit retries. Defaults to the bounded
	// exponential-backoff retrier (3 attempts).
	SubmitRetrier *retry.Retrier

	// Background submits and polls on a separate goroutine after the
	// reservation is durable, so the request call returns promptly.
	Background bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TokenCost:     1,
		PollInterval:  3 * time.Second,
		MaxWait:       10 * time.Minute,
		StaleAfter:    15 * time.Minute,
		SubmitRetrier: retry.StudioSubmitRetrier(),
		Background:    true,
	}
}

// Orchestrator drives cards through the generation lifecycle. Every state
// transition is durable before the next external action, so a crash can
// never silently lose token accounting: the sweep re-discovers in-flight
// cards from storage alone.
type Orchestrator struct {
	cards    card.Repository
	tokens   ledger.Repository
	resolver SelectionResolver
	client   Client
	events   shared.EventPublisher
	log      *logger.Logger
	cfg      Config
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates an orchestrator.
func New(
	cards card.Repository,
	tokens ledger.Repository,
	resolver SelectionResolver,
	client Client,
	events shared.EventPublisher,
	log *logger.Logger,
	cfg Config,
) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	if cfg.TokenCost <= 0 {
		cfg.TokenCost = 1
	}
	if cfg.SubmitRetrier == nil {
		cfg.SubmitRetrier = retry.StudioSubmitRetrier()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if events == nil {
		events = shared.NoopPublisher{}
	}
	return &Orchestrator{
		cards:    cards,
		tokens:   tokens,
		resolver: resolver,
		client:   client,
		events:   events,
		log:      log.With(logger.Component("generation")),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Request admits a new generation attempt for the student: it resolves the
// attribute selection against the active table, creates the card, and takes
// the token reservation. The external submission and polling then run either
// inline or in the background, per config.
//
// A failed card is never retried on the student's behalf; retrying means a
// new Request, a new card, and a new reservation.
func (o *Orchestrator) Request(ctx context.Context, studentID shared.StudentID) (*card.Card, error) {
	sel, err := o.resolver.ResolveActive(ctx, studentID)
	if err != nil {
		return nil, err
	}

	c, err := card.New(uuid.NewString(), studentID, sel)
	if err != nil {
		return nil, err
	}
	if err := o.cards.Create(ctx, c); err != nil {
		return nil, err
	}
	o.publish(shared.EventCardRequested, c, nil)

	res, err := o.tokens.Reserve(ctx, studentID, o.cfg.TokenCost, c.ID)
	if err != nil {
		if shared.IsInsufficientBalance(err) {
			// No external call was made and no token moved; the card just
			// records the rejected attempt.
			if ferr := o.failCard(ctx, c, card.StateRequested, card.FailureNoTokens); ferr != nil {
				o.log.Error("failed to finalize no-token card", logger.CardID(c.ID), logger.Err(ferr))
			}
			return c, shared.ErrNoTokens
		}
		return nil, err
	}
	c.ReservationID = res.ID
	if err := c.Transition(card.StateReserved); err != nil {
		return nil, err
	}
	if err := o.cards.UpdateState(ctx, c, card.StateRequested); err != nil {
		return nil, err
	}
	o.publish(shared.EventTokensReserved, c, map[string]interface{}{
		"reservation_id": res.ID,
		"cost":           int(o.cfg.TokenCost),
	})

	if o.cfg.Background {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			// Detached from the request context: the caller's HTTP request
			// finishing must not cancel the job lifecycle.
			o.Drive(context.Background(), c)
		}()
		return c, nil
	}
	if err := o.Drive(ctx, c); err != nil {
		return c, err
	}
	return c, nil
}

// Wait blocks until all background card lifecycles have finished. Used for
// graceful shutdown; restarts are covered by the sweep either way.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Drive advances a card from its current durable state to a terminal one.
// It is the single code path for fresh requests and for sweep resumption.
func (o *Orchestrator) Drive(ctx context.Context, c *card.Card) error {
	switch c.State {
	case card.StateReserved:
		if err := o.submit(ctx, c); err != nil {
			return err
		}
		return o.awaitResult(ctx, c)
	case card.StateSubmitted:
		if c.JobHandle.IsZero() {
			// Accepted-but-unrecorded handle after a crash: we cannot poll,
			// so resolve the reservation rather than leave it dangling.
			return o.failCard(ctx, c, card.StateSubmitted, card.FailureTimeout)
		}
		if err := c.Transition(card.StateAwaitingResult); err != nil {
			return err
		}
		if err := o.cards.UpdateState(ctx, c, card.StateSubmitted); err != nil {
			return err
		}
		return o.awaitResult(ctx, c)
	case card.StateAwaitingResult:
		return o.awaitResult(ctx, c)
	default:
		return shared.ErrInvalidCardState
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Submission
// ─────────────────────────────────────────────────────────────────────────────

func (o *Orchestrator) submit(ctx context.Context, c *card.Card) error {
	req := SubmitRequest{
		IdempotencyKey: c.ID,
		Prompt:         c.Prompt,
		Selection:      c.Selection,
		TableVersion:   c.TableVersion,
		QualityWeight:  c.Selection.MaxQualityWeight(),
	}

	var handle shared.JobHandle
	err := o.cfg.SubmitRetrier.Do(ctx, func(ctx context.Context) error {
		h, err := o.client.Submit(ctx, req)
		if err != nil {
			if errors.Is(err, shared.ErrRejected) {
				return retry.Permanent(err)
			}
			return retry.Retryable(err)
		}
		handle = h
		return nil
	})
	if err != nil {
		reason := card.FailureSubmitUnavailable
		if errors.Is(err, shared.ErrRejected) {
			reason = card.FailureRejected
		}
		o.log.Warn("submit exhausted",
			logger.CardID(c.ID), logger.StudentID(c.StudentID.String()), logger.Err(err))
		return o.failCard(ctx, c, card.StateReserved, reason)
	}

	c.JobHandle = handle
	if err := c.Transition(card.StateSubmitted); err != nil {
		return err
	}
	if err := o.cards.UpdateState(ctx, c, card.StateReserved); err != nil {
		return err
	}
	o.publish(shared.EventCardSubmitted, c, map[string]interface{}{"job_handle": handle.String()})

	if err := c.Transition(card.StateAwaitingResult); err != nil {
		return err
	}
	return o.cards.UpdateState(ctx, c, card.StateSubmitted)
}

// ─────────────────────────────────────────────────────────────────────────────
// Polling
// ─────────────────────────────────────────────────────────────────────────────

// awaitResult polls the studio until a verdict or until the wait budget,
// anchored at submission time, runs out. This is the only long-lived
// suspension in the pipeline and it is fully resumable from durable state.
func (o *Orchestrator) awaitResult(ctx context.Context, c *card.Card) error {
	deadline := o.now().Add(o.cfg.MaxWait)
	if c.SubmittedAt != nil {
		deadline = c.SubmittedAt.Add(o.cfg.MaxWait)
	}

	for {
		if !o.now().Before(deadline) {
			return o.failCard(ctx, c, card.StateAwaitingResult, card.FailureTimeout)
		}

		result, err := o.client.Poll(ctx, c.JobHandle)
		switch {
		case err != nil:
			// Transient poll errors just wait for the next tick; the
			// deadline bounds the total exposure.
			o.log.Debug("poll error", logger.CardID(c.ID), logger.Err(err))
		case result.Status == JobSucceeded:
			return o.completeCard(ctx, c, result)
		case result.Status == JobFailed:
			o.log.Info("studio reported failure",
				logger.CardID(c.ID), logger.String("studio_reason", result.Reason))
			return o.failCard(ctx, c, card.StateAwaitingResult, card.FailureGeneration)
		}

		select {
		case <-ctx.Done():
			// Shutdown, not a verdict: the card stays awaiting_result and the
			// sweep resumes it after restart.
			return ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Settlement
// ─────────────────────────────────────────────────────────────────────────────

// completeCard finalizes a success: card first (conditional on the expected
// state, so a sweep-timed-out card ignores the late verdict), then the
// reservation commit.
func (o *Orchestrator) completeCard(ctx context.Context, c *card.Card, result PollResult) error {
	if err := c.Complete(result.ArtifactURL, result.ThumbnailURL); err != nil {
		return err
	}
	if err := o.cards.UpdateState(ctx, c, card.StateAwaitingResult); err != nil {
		if errors.Is(err, shared.ErrConcurrentModification) {
			o.log.Warn("late success ignored, card already terminal", logger.CardID(c.ID))
			return nil
		}
		return err
	}
	if err := o.tokens.Commit(ctx, c.ReservationID); err != nil && !errors.Is(err, shared.ErrAlreadyProcessed) {
		return err
	}
	if err := o.cards.ClearLatest(ctx, c.StudentID, c.ID); err != nil {
		o.log.Error("failed to clear previous latest card", logger.CardID(c.ID), logger.Err(err))
	}
	o.publish(shared.EventCardCompleted, c, map[string]interface{}{"artifact_url": c.ArtifactURL})
	o.log.Info("card completed",
		logger.CardID(c.ID), logger.StudentID(c.StudentID.String()))
	return nil
}

// failCard finalizes a failure and releases the reservation if one is held.
// A reservation left without its release is the worst bug class this system
// can have, so release errors other than "already settled" are surfaced.
func (o *Orchestrator) failCard(ctx context.Context, c *card.Card, expected card.State, reason card.FailureReason) error {
	if err := c.Fail(reason); err != nil {
		return err
	}
	if err := o.cards.UpdateState(ctx, c, expected); err != nil {
		if errors.Is(err, shared.ErrConcurrentModification) {
			o.log.Warn("late failure ignored, card already terminal", logger.CardID(c.ID))
			return nil
		}
		return err
	}
	if c.ReservationID != "" {
		if err := o.tokens.Release(ctx, c.ReservationID); err != nil && !errors.Is(err, shared.ErrAlreadyProcessed) {
			return err
		}
		o.publish(shared.EventTokensRefunded, c, map[string]interface{}{
			"reservation_id": c.ReservationID,
		})
	}
	o.publish(shared.EventCardFailed, c, map[string]interface{}{"reason": string(reason)})
	o.log.Info("card failed",
		logger.CardID(c.ID), logger.String("reason", string(reason)))
	return nil
}

func (o *Orchestrator) publish(eventType shared.EventType, c *card.Card, extra map[string]interface{}) {
	data := map[string]interface{}{
		"card_id":    c.ID,
		"student_id": c.StudentID.String(),
		"state":      string(c.State),
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := o.events.Publish(shared.NewGenericEvent(eventType, c.ID, data)); err != nil {
		o.log.Debug("event publish failed", logger.String("event", string(eventType)), logger.Err(err))
	}
}
