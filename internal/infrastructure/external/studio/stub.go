package studio

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cardforge/cardforge/internal/application/generation"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// Stub is a deterministic in-process stand-in for the generation studio,
// used in local development and demos where no real image service exists.
// Jobs "render" for a fixed number of polls and then succeed with a URL
// derived from the idempotency key, so repeated runs are reproducible.
type Stub struct {
	// PollsUntilDone is how many polls a job stays pending. Zero means the
	// first poll already succeeds.
	PollsUntilDone int

	// FailEvery makes every Nth job fail terminally, to exercise the refund
	// path. Zero disables injected failures.
	FailEvery int

	mu   sync.Mutex
	jobs map[shared.JobHandle]*stubJob
	seq  int
}

type stubJob struct {
	key       string
	polls     int
	fails     bool
	submitted time.Time
}

// NewStub creates a stub studio that succeeds on the second poll.
func NewStub() *Stub {
	return &Stub{
		PollsUntilDone: 1,
		jobs:           make(map[shared.JobHandle]*stubJob),
	}
}

// Submit accepts the job. Resubmitting the same idempotency key returns the
// original handle, matching the contract the real studio provides.
func (s *Stub) Submit(_ context.Context, req generation.SubmitRequest) (shared.JobHandle, error) {
	if req.IdempotencyKey == "" {
		return "", shared.ErrStudioRejected
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := shared.JobHandle("stub-" + req.IdempotencyKey)
	if _, exists := s.jobs[handle]; exists {
		return handle, nil
	}
	s.seq++
	s.jobs[handle] = &stubJob{
		key:       req.IdempotencyKey,
		fails:     s.FailEvery > 0 && s.seq%s.FailEvery == 0,
		submitted: time.Now(),
	}
	return handle, nil
}

// Poll advances the stub job one tick.
func (s *Stub) Poll(_ context.Context, handle shared.JobHandle) (generation.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[handle]
	if !ok {
		return generation.PollResult{}, shared.ErrJobNotFound
	}
	if job.polls < s.PollsUntilDone {
		job.polls++
		return generation.PollResult{Status: generation.JobPending}, nil
	}
	if job.fails {
		return generation.PollResult{
			Status: generation.JobFailed,
			Reason: "injected stub failure",
		}, nil
	}
	return generation.PollResult{
		Status:       generation.JobSucceeded,
		ArtifactURL:  stubArtifactURL(job.key, "card"),
		ThumbnailURL: stubArtifactURL(job.key, "thumb"),
	}, nil
}

// stubArtifactURL derives a stable fake URL from the idempotency key.
func stubArtifactURL(key, kind string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return fmt.Sprintf("https://studio.local/artifacts/%s/%08x.png", kind, h.Sum32())
}
